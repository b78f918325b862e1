package notify

import (
	"fmt"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
)

// ClientRingtone starts and stops an audible alert on the user's
// client. The sound name maps to a bundled asset on the device.
type ClientRingtone struct {
	messenger UserMessenger
	userID    domain.UserID
	sound     string
}

func NewClientRingtone(messenger UserMessenger, userID domain.UserID, sound string) *ClientRingtone {
	if sound == "" {
		sound = "default"
	}
	return &ClientRingtone{
		messenger: messenger,
		userID:    userID,
		sound:     sound,
	}
}

func (r *ClientRingtone) Play() error {
	if err := r.messenger.SendToUser(r.userID, map[string]interface{}{
		"type":  "ringtone_start",
		"sound": r.sound,
		"loop":  true,
	}); err != nil {
		return fmt.Errorf("start ringtone: %w", err)
	}
	return nil
}

func (r *ClientRingtone) Stop() {
	// Stop is fire-and-forget: a disconnected client has already
	// stopped ringing.
	_ = r.messenger.SendToUser(r.userID, map[string]interface{}{
		"type": "ringtone_stop",
	})
}

// OscillatorRingtone has the client synthesize a looping sine tone.
// It is the fallback for installs that failed to load the bundled
// ringtone asset: a tone generator needs no media files at all.
type OscillatorRingtone struct {
	messenger UserMessenger
	userID    domain.UserID
	frequency float64
}

func NewOscillatorRingtone(messenger UserMessenger, userID domain.UserID, frequency float64) *OscillatorRingtone {
	if frequency <= 0 {
		frequency = 440
	}
	return &OscillatorRingtone{
		messenger: messenger,
		userID:    userID,
		frequency: frequency,
	}
}

func (r *OscillatorRingtone) Play() error {
	if err := r.messenger.SendToUser(r.userID, map[string]interface{}{
		"type": "ringtone_start",
		"synth": map[string]interface{}{
			"wave":      "sine",
			"frequency": r.frequency,
		},
		"loop": true,
	}); err != nil {
		return fmt.Errorf("start oscillator ringtone: %w", err)
	}
	return nil
}

func (r *OscillatorRingtone) Stop() {
	_ = r.messenger.SendToUser(r.userID, map[string]interface{}{
		"type": "ringtone_stop",
	})
}

// ChainRingtone plays the first ringtone that accepts. Stop is fanned
// out to every link so a partially started chain still goes quiet.
type ChainRingtone struct {
	links []ports.Ringtone
}

func NewChainRingtone(links ...ports.Ringtone) *ChainRingtone {
	return &ChainRingtone{links: links}
}

func (c *ChainRingtone) Play() error {
	var lastErr error
	for _, link := range c.links {
		if err := link.Play(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no ringtone available")
	}
	return lastErr
}

func (c *ChainRingtone) Stop() {
	for _, link := range c.links {
		link.Stop()
	}
}

// NoopRingtone is for deployments where the client rings on its own
// when the incoming-call notification arrives.
type NoopRingtone struct{}

func (NoopRingtone) Play() error { return nil }
func (NoopRingtone) Stop()       {}

var (
	_ ports.Ringtone = (*ClientRingtone)(nil)
	_ ports.Ringtone = (*OscillatorRingtone)(nil)
	_ ports.Ringtone = (*ChainRingtone)(nil)
	_ ports.Ringtone = NoopRingtone{}
)
