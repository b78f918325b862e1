package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"

	"go.uber.org/zap"
)

const (
	incomingExpiry = 30 * time.Second
	missedExpiry   = 10 * time.Second
	endedExpiry    = 5 * time.Second
)

var incomingVibratePattern = []int{200, 100, 200, 100, 200}

// RingtoneFactory builds the ringtone for one incoming call. The
// receiving party differs per call, so the sound cannot be a single
// shared instance.
type RingtoneFactory func(call *domain.Call) ports.Ringtone

// NotificationService translates call-state transitions into
// user-observable signals and relays user responses back to the
// controller. Every channel is best-effort: missing permission or a
// missing platform API degrades to silence, never to a call failure.
type NotificationService struct {
	sink      ports.AlertSink
	ringtones RingtoneFactory
	push      ports.PushSender

	mu                sync.Mutex
	pending           map[domain.CallID]*pendingIntent
	permissionGranted bool
	permissionAsked   bool

	logger *zap.SugaredLogger
}

type pendingIntent struct {
	intent    *domain.NotificationIntent
	expiry    *time.Timer
	onAnswer  func()
	onDecline func()
	ringtone  ports.Ringtone
}

func NewNotificationService(sink ports.AlertSink, ringtones RingtoneFactory, push ports.PushSender, logger *zap.SugaredLogger) *NotificationService {
	return &NotificationService{
		sink:      sink,
		ringtones: ringtones,
		push:      push,
		pending:   make(map[domain.CallID]*pendingIntent),
		logger:    logger,
	}
}

// NotifyIncoming shows a persistent incoming-call alert with answer
// and decline actions, starts the ringtone and vibration, and
// auto-dismisses after 30 seconds to match the controller's own
// missed-call timeout. Returns nil when no alert could be shown.
func (n *NotificationService) NotifyIncoming(ctx context.Context, call *domain.Call, callerName string, onAnswer, onDecline func()) *domain.NotificationIntent {
	intent := &domain.NotificationIntent{
		Kind:                domain.NotificationIncoming,
		CallID:              call.ID,
		Title:               fmt.Sprintf("Incoming %s call", call.Type),
		Body:                fmt.Sprintf("%s is calling you", callerName),
		RequiresInteraction: true,
		Actions:             []domain.NotificationAction{domain.ActionAnswer, domain.ActionDecline},
		ExpiresAt:           time.Now().Add(incomingExpiry),
	}

	ringtone := n.startRingtone(call)
	if err := n.sink.Vibrate(call.ID, incomingVibratePattern); err != nil {
		n.logger.Debugw("vibration unavailable", "call_id", call.ID, "error", err)
	}
	n.pushAlert(ctx, call.ReceiverID, intent)

	shown := n.show(ctx, intent)
	n.track(intent, incomingExpiry, onAnswer, onDecline, ringtone)
	if !shown {
		return nil
	}
	return intent
}

// NotifyMissed shows a dismissable missed-call alert with a callback
// action.
func (n *NotificationService) NotifyMissed(ctx context.Context, call *domain.Call, callerName string, onCallback func()) *domain.NotificationIntent {
	intent := &domain.NotificationIntent{
		Kind:      domain.NotificationMissed,
		CallID:    call.ID,
		Title:     "Missed call",
		Body:      fmt.Sprintf("You missed a %s call from %s", call.Type, callerName),
		Actions:   []domain.NotificationAction{domain.ActionCallback},
		ExpiresAt: time.Now().Add(missedExpiry),
	}

	shown := n.show(ctx, intent)
	n.track(intent, missedExpiry, onCallback, nil, nil)
	if !shown {
		return nil
	}
	return intent
}

// NotifyEnded shows a brief non-interactive call summary.
func (n *NotificationService) NotifyEnded(ctx context.Context, call *domain.Call, durationSeconds int) *domain.NotificationIntent {
	intent := &domain.NotificationIntent{
		Kind:      domain.NotificationEnded,
		CallID:    call.ID,
		Title:     "Call ended",
		Body:      fmt.Sprintf("%s call lasted %s", call.Type, formatSeconds(durationSeconds)),
		ExpiresAt: time.Now().Add(endedExpiry),
	}

	shown := n.show(ctx, intent)
	n.track(intent, endedExpiry, nil, nil, nil)
	if !shown {
		return nil
	}
	return intent
}

// Dismiss destroys any pending intent for the call and silences the
// ringtone. Idempotent.
func (n *NotificationService) Dismiss(callID domain.CallID) {
	n.mu.Lock()
	p, ok := n.pending[callID]
	if ok {
		if p.expiry != nil {
			p.expiry.Stop()
		}
		delete(n.pending, callID)
	}
	n.mu.Unlock()

	if ok && p.ringtone != nil {
		p.ringtone.Stop()
	}
	n.sink.Dismiss(callID)
}

// Answer relays the user's answer action to the controller.
func (n *NotificationService) Answer(callID domain.CallID) {
	n.mu.Lock()
	p, ok := n.pending[callID]
	n.mu.Unlock()
	if !ok || p.onAnswer == nil {
		return
	}
	n.Dismiss(callID)
	p.onAnswer()
}

// Decline relays the user's decline action to the controller.
func (n *NotificationService) Decline(callID domain.CallID) {
	n.mu.Lock()
	p, ok := n.pending[callID]
	n.mu.Unlock()
	if !ok || p.onDecline == nil {
		return
	}
	n.Dismiss(callID)
	p.onDecline()
}

// Pending reports whether an intent is still live for the call.
func (n *NotificationService) Pending(callID domain.CallID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.pending[callID]
	return ok
}

// show requests permission once, then displays the intent. Fails
// soft on both steps.
func (n *NotificationService) show(ctx context.Context, intent *domain.NotificationIntent) bool {
	n.mu.Lock()
	asked := n.permissionAsked
	granted := n.permissionGranted
	n.mu.Unlock()

	if !asked {
		err := n.sink.RequestPermission(ctx)
		n.mu.Lock()
		n.permissionAsked = true
		n.permissionGranted = err == nil
		granted = n.permissionGranted
		n.mu.Unlock()
		if err != nil && !errors.Is(err, domain.ErrNotificationDisabled) {
			n.logger.Debugw("notification permission request failed", "error", err)
		}
	}
	if !granted {
		return false
	}

	if err := n.sink.Show(ctx, intent); err != nil {
		n.logger.Debugw("notification display failed", "call_id", intent.CallID, "kind", intent.Kind, "error", err)
		return false
	}
	return true
}

func (n *NotificationService) track(intent *domain.NotificationIntent, expiry time.Duration, onAnswer, onDecline func(), ringtone ports.Ringtone) {
	callID := intent.CallID
	p := &pendingIntent{
		intent:    intent,
		onAnswer:  onAnswer,
		onDecline: onDecline,
		ringtone:  ringtone,
	}
	p.expiry = time.AfterFunc(expiry, func() { n.Dismiss(callID) })

	n.mu.Lock()
	if prev, ok := n.pending[callID]; ok && prev.expiry != nil {
		prev.expiry.Stop()
	}
	n.pending[callID] = p
	n.mu.Unlock()
}

// startRingtone builds and starts the per-call ringtone. Returns nil
// when no factory is configured or no source could play, so Dismiss
// only stops what actually rang.
func (n *NotificationService) startRingtone(call *domain.Call) ports.Ringtone {
	if n.ringtones == nil {
		return nil
	}
	ringtone := n.ringtones(call)
	if ringtone == nil {
		return nil
	}
	if err := ringtone.Play(); err != nil {
		n.logger.Warnw("ringtone unavailable", "call_id", call.ID, "error", err)
		return nil
	}
	return ringtone
}

func (n *NotificationService) pushAlert(ctx context.Context, userID domain.UserID, intent *domain.NotificationIntent) {
	if n.push == nil {
		return
	}
	if err := n.push.SendCallAlert(ctx, userID, intent); err != nil {
		n.logger.Debugw("push alert failed", "call_id", intent.CallID, "error", err)
	}
}

func formatSeconds(total int) string {
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	return fmt.Sprintf("%dm%ds", total/60, total%60)
}
