package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/validation"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	callService ports.CallService
	callRepo    ports.CallRepository
}

func NewCallHandler(callService ports.CallService, callRepo ports.CallRepository) *CallHandler {
	return &CallHandler{
		callService: callService,
		callRepo:    callRepo,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/calls", h.StartCall)
		api.GET("/calls/:id", h.GetCall)
		api.POST("/calls/:id/answer", h.AnswerCall)
		api.POST("/calls/:id/reject", h.RejectCall)
		api.POST("/calls/:id/end", h.EndCall)
		api.GET("/calls/:id/elapsed", h.GetElapsed)
		api.GET("/users/:id/calls", h.ListUserCalls)
	}
}

func (h *CallHandler) StartCall(c *gin.Context) {
	var req struct {
		ReceiverID domain.UserID   `json:"receiver_id" binding:"required"`
		CallType   domain.CallType `json:"call_type" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateUserID(string(req.ReceiverID)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateCallType(string(req.CallType)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	callerID, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if callerID == req.ReceiverID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot call yourself"})
		return
	}

	call, offer, err := h.callService.StartCall(c.Request.Context(), callerID, req.ReceiverID, req.CallType)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"call": call,
		"offer": gin.H{
			"type": offer.Type.String(),
			"sdp":  offer.SDP,
		},
	})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	call, err := h.callService.GetCall(c.Request.Context(), callID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	if !h.authorizeParticipant(c, call) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call":     call,
		"duration": call.Duration(),
	})
}

func (h *CallHandler) AnswerCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	if !h.authorizeCallAccess(c, callID) {
		return
	}

	answer, err := h.callService.AnswerCall(c.Request.Context(), callID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answer": gin.H{
			"type": answer.Type.String(),
			"sdp":  answer.SDP,
		},
	})
}

func (h *CallHandler) RejectCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	if !h.authorizeCallAccess(c, callID) {
		return
	}

	if err := h.callService.RejectCall(c.Request.Context(), callID); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	if !h.authorizeCallAccess(c, callID) {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), callID); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *CallHandler) GetElapsed(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	if !h.authorizeCallAccess(c, callID) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call_id": callID,
		"elapsed": h.callService.ElapsedSeconds(callID),
	})
}

func (h *CallHandler) ListUserCalls(c *gin.Context) {
	userID := domain.UserID(c.Param("id"))

	requester, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if requester != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot view another user's call history"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	calls, err := h.callRepo.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calls":  calls,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *CallHandler) authorizeCallAccess(c *gin.Context, callID domain.CallID) bool {
	call, err := h.callService.GetCall(c.Request.Context(), callID)
	if err != nil {
		h.renderError(c, err)
		return false
	}
	return h.authorizeParticipant(c, call)
}

func (h *CallHandler) authorizeParticipant(c *gin.Context, call *domain.Call) bool {
	userID, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	if call.CallerID != userID && call.ReceiverID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a call participant"})
		return false
	}
	return true
}

func (h *CallHandler) renderError(c *gin.Context, err error) {
	switch {
	case stderrors.Is(err, domain.ErrCallNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case stderrors.Is(err, domain.ErrCallConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "a call between these users is already in progress"})
	case stderrors.Is(err, domain.ErrInvalidCallState):
		c.JSON(http.StatusConflict, gin.H{"error": "operation not allowed in the call's current state"})
	case stderrors.Is(err, domain.ErrMediaAccess):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not access camera or microphone"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func userFromContext(c *gin.Context) (domain.UserID, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	userID, ok := v.(domain.UserID)
	return userID, ok
}
