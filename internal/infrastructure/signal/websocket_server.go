package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/internal/core/services"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketServer relays call signaling between connected users and
// drives the call service from inbound client messages. It also
// implements ports.SignalSender so that locally produced offers,
// answers and candidates reach the remote party over the same hub.
// PresenceRegistry mirrors connection state to a shared store so other
// instances can see who holds a live socket here.
type PresenceRegistry interface {
	RegisterUser(ctx context.Context, userID domain.UserID) error
	UnregisterUser(ctx context.Context, userID domain.UserID) error
	RefreshUser(ctx context.Context, userID domain.UserID) error
}

type WebSocketServer struct {
	calls    ports.CallService
	auth     services.AuthService
	presence PresenceRegistry

	connections map[domain.UserID]*userConn
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	msgRate  rate.Limit
	msgBurst int

	logger *zap.SugaredLogger
}

type userConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type SignalMessage struct {
	Type    string          `json:"type"`
	CallID  domain.CallID   `json:"call_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type StartCallPayload struct {
	ReceiverID domain.UserID   `json:"receiver_id"`
	CallType   domain.CallType `json:"call_type"`
}

type OfferPayload struct {
	SDP        string          `json:"sdp"`
	CallerID   domain.UserID   `json:"caller_id"`
	ReceiverID domain.UserID   `json:"receiver_id"`
	CallType   domain.CallType `json:"call_type"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

func NewWebSocketServer(auth services.AuthService, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		auth:         auth,
		connections:  make(map[domain.UserID]*userConn),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		msgRate:      rate.Limit(20),
		msgBurst:     40,
		logger:       logger,
	}
}

// SetCallService binds the hub to the call controller. Must be called
// before serving; the hub and the controller reference each other, so
// one side binds late.
func (s *WebSocketServer) SetCallService(calls ports.CallService) {
	s.calls = calls
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

// SetMessageRate tunes the per-connection inbound message limiter.
func (s *WebSocketServer) SetMessageRate(perSecond float64, burst int) {
	s.msgRate = rate.Limit(perSecond)
	s.msgBurst = burst
}

// SetPresenceRegistry enables shared presence tracking. Optional; a nil
// registry keeps presence local to this instance.
func (s *WebSocketServer) SetPresenceRegistry(presence PresenceRegistry) {
	s.presence = presence
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("websocket auth failed", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	uc := &userConn{conn: conn}

	// A reconnecting user replaces their old connection.
	s.mu.Lock()
	existing, isReconnect := s.connections[userID]
	if isReconnect && existing != nil {
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting user", "user_id", userID)
	}
	s.connections[userID] = uc
	s.mu.Unlock()

	s.logger.Infow("user connected", "user_id", userID, "reconnect", isReconnect)

	if s.presence != nil {
		if err := s.presence.RegisterUser(r.Context(), userID); err != nil {
			s.logger.Warnw("failed to register presence", "user_id", userID, "error", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(s.msgRate, s.msgBurst)

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !limiter.Allow() {
				s.logger.Warnw("message rate exceeded", "user_id", userID, "type", msg.Type)
				s.sendError(uc, "rate limit exceeded")
				continue
			}
			if err := s.handleMessage(context.Background(), userID, uc, msg); err != nil {
				s.logger.Infow("error handling message from user",
					"user_id", userID,
					"type", msg.Type,
					"call_id", msg.CallID,
					"error", err,
				)
				s.sendError(uc, err.Error())
			}

		case <-pingTicker.C:
			uc.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			uc.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "user_id", userID, "error", err)
				goto cleanup
			}
			if s.presence != nil {
				if err := s.presence.RefreshUser(context.Background(), userID); err != nil {
					s.logger.Debugw("failed to refresh presence", "user_id", userID, "error", err)
				}
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from user", "user_id", userID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	current, ok := s.connections[userID]
	stillOwner := ok && current == uc
	if stillOwner {
		delete(s.connections, userID)
	}
	s.mu.Unlock()

	// A reconnect replaced this socket; the replacement owns presence now.
	if stillOwner && s.presence != nil {
		if err := s.presence.UnregisterUser(context.Background(), userID); err != nil {
			s.logger.Warnw("failed to unregister presence", "user_id", userID, "error", err)
		}
	}

	s.logger.Infow("user disconnected", "user_id", userID)
}

func (s *WebSocketServer) authenticate(r *http.Request) (domain.UserID, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return "", fmt.Errorf("missing token")
	}

	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("token carries no user id")
	}

	return claims.UserID, nil
}

func (s *WebSocketServer) handleMessage(ctx context.Context, userID domain.UserID, uc *userConn, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case "call_start":
		return s.handleCallStart(ctx, userID, uc, msg)
	case "call_answer":
		return s.handleCallAnswer(ctx, userID, msg)
	case "call_reject":
		return s.handleCallReject(ctx, userID, msg)
	case "call_end":
		return s.handleCallEnd(ctx, userID, msg)
	case "offer":
		return s.handleOffer(ctx, userID, msg)
	case "answer":
		return s.handleAnswer(ctx, userID, msg)
	case "ice_candidate":
		return s.handleICECandidate(ctx, userID, msg)
	case "hangup":
		return s.handleHangup(ctx, userID, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleCallStart(ctx context.Context, userID domain.UserID, uc *userConn, msg SignalMessage) error {
	var payload StartCallPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid call_start payload: %w", err)
	}

	if payload.ReceiverID == "" {
		return fmt.Errorf("receiver_id is required")
	}
	if payload.ReceiverID == userID {
		return fmt.Errorf("cannot call yourself")
	}
	if payload.CallType != domain.CallTypeAudio && payload.CallType != domain.CallTypeVideo {
		return fmt.Errorf("unknown call type: %s", payload.CallType)
	}

	call, _, err := s.calls.StartCall(ctx, userID, payload.ReceiverID, payload.CallType)
	if err != nil {
		return err
	}

	return s.send(uc, map[string]interface{}{
		"type":    "call_started",
		"call_id": call.ID,
		"status":  call.Status,
	})
}

func (s *WebSocketServer) handleCallAnswer(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	if err := s.requireParticipant(ctx, userID, msg.CallID); err != nil {
		return err
	}
	_, err := s.calls.AnswerCall(ctx, msg.CallID)
	return err
}

func (s *WebSocketServer) handleCallReject(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	if err := s.requireParticipant(ctx, userID, msg.CallID); err != nil {
		return err
	}
	return s.calls.RejectCall(ctx, msg.CallID)
}

func (s *WebSocketServer) handleCallEnd(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	if err := s.requireParticipant(ctx, userID, msg.CallID); err != nil {
		return err
	}
	return s.calls.EndCall(ctx, msg.CallID)
}

func (s *WebSocketServer) handleOffer(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	var payload OfferPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}

	if err := s.validateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid SDP in offer: %w", err)
	}
	if msg.CallID == "" {
		return fmt.Errorf("call_id is required")
	}
	if payload.CallerID != userID {
		return fmt.Errorf("caller_id mismatch: expected %s, got %s", userID, payload.CallerID)
	}
	if payload.ReceiverID == "" {
		return fmt.Errorf("receiver_id is required")
	}

	call := &domain.Call{
		ID:         msg.CallID,
		CallerID:   payload.CallerID,
		ReceiverID: payload.ReceiverID,
		Type:       payload.CallType,
		Status:     domain.CallStatusInitiating,
		CreatedAt:  time.Now(),
	}

	return s.calls.ReceiveOffer(ctx, call, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  payload.SDP,
	})
}

func (s *WebSocketServer) handleAnswer(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	var payload AnswerPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}

	if err := s.validateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid SDP in answer: %w", err)
	}
	if err := s.requireParticipant(ctx, userID, msg.CallID); err != nil {
		return err
	}

	return s.calls.HandleRemoteAnswer(ctx, msg.CallID, webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  payload.SDP,
	})
}

func (s *WebSocketServer) handleICECandidate(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	var payload ICECandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ICE candidate payload: %w", err)
	}

	if payload.Candidate == "" {
		return fmt.Errorf("ICE candidate is required")
	}
	if err := s.requireParticipant(ctx, userID, msg.CallID); err != nil {
		return err
	}

	return s.calls.HandleRemoteCandidate(ctx, msg.CallID, webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMid:        payload.SDPMid,
		SDPMLineIndex: payload.SDPMLineIndex,
	})
}

func (s *WebSocketServer) handleHangup(ctx context.Context, userID domain.UserID, msg SignalMessage) error {
	if err := s.requireParticipant(ctx, userID, msg.CallID); err != nil {
		return err
	}
	return s.calls.HandleRemoteHangup(ctx, msg.CallID)
}

// requireParticipant rejects messages touching a call the sender is
// not part of.
func (s *WebSocketServer) requireParticipant(ctx context.Context, userID domain.UserID, callID domain.CallID) error {
	if callID == "" {
		return fmt.Errorf("call_id is required")
	}

	call, err := s.calls.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.CallerID != userID && call.ReceiverID != userID {
		return fmt.Errorf("user %s is not a participant of call %s", userID, callID)
	}

	return nil
}

// validateSDP validates SDP format
func (s *WebSocketServer) validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}

	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}

	requiredFields := []string{"v=", "o=", "s=", "t="}
	for _, field := range requiredFields {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}

	return nil
}

// SendOffer delivers a locally produced offer to the call's receiver.
func (s *WebSocketServer) SendOffer(ctx context.Context, call *domain.Call, offer webrtc.SessionDescription) error {
	return s.SendToUser(call.ReceiverID, map[string]interface{}{
		"type":    "offer",
		"call_id": call.ID,
		"payload": map[string]interface{}{
			"sdp":         offer.SDP,
			"caller_id":   call.CallerID,
			"receiver_id": call.ReceiverID,
			"call_type":   call.Type,
		},
	})
}

// SendAnswer delivers a locally produced answer to the call's caller.
func (s *WebSocketServer) SendAnswer(ctx context.Context, call *domain.Call, answer webrtc.SessionDescription) error {
	return s.SendToUser(call.CallerID, map[string]interface{}{
		"type":    "answer",
		"call_id": call.ID,
		"payload": map[string]interface{}{
			"sdp": answer.SDP,
		},
	})
}

// SendCandidate trickles a local ICE candidate to the opposite party.
func (s *WebSocketServer) SendCandidate(ctx context.Context, call *domain.Call, from domain.UserID, candidate webrtc.ICECandidateInit) error {
	return s.SendToUser(call.OtherParty(from), map[string]interface{}{
		"type":    "ice_candidate",
		"call_id": call.ID,
		"payload": map[string]interface{}{
			"candidate":       candidate.Candidate,
			"sdp_mid":         candidate.SDPMid,
			"sdp_mline_index": candidate.SDPMLineIndex,
		},
	})
}

// SendHangup tells the opposite party the call is over.
func (s *WebSocketServer) SendHangup(ctx context.Context, call *domain.Call, from domain.UserID) error {
	return s.SendToUser(call.OtherParty(from), map[string]interface{}{
		"type":    "hangup",
		"call_id": call.ID,
	})
}

// SendToUser pushes an arbitrary JSON payload to one connected user.
func (s *WebSocketServer) SendToUser(userID domain.UserID, data interface{}) error {
	s.mu.RLock()
	uc, exists := s.connections[userID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s not connected", userID)
	}

	return s.send(uc, data)
}

func (s *WebSocketServer) send(uc *userConn, data interface{}) error {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	uc.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return uc.conn.WriteJSON(data)
}

func (s *WebSocketServer) sendError(uc *userConn, message string) {
	s.send(uc, map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.connections)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *WebSocketServer) GetConnectedUsers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserID, 0, len(s.connections))
	for userID := range s.connections {
		users = append(users, userID)
	}

	return users
}

func (s *WebSocketServer) IsUserConnected(userID domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.connections[userID]
	return exists
}

var _ ports.SignalSender = (*WebSocketServer)(nil)
