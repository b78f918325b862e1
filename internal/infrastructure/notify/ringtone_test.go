package notify

import (
	"errors"
	"sync"
	"testing"

	"heartline/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	mu        sync.Mutex
	sent      []map[string]interface{}
	sendErr   error
	connected bool
}

func (m *fakeMessenger) SendToUser(userID domain.UserID, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	payload, _ := data.(map[string]interface{})
	payload["user_id"] = userID
	m.sent = append(m.sent, payload)
	return nil
}

func (m *fakeMessenger) IsUserConnected(userID domain.UserID) bool { return m.connected }

func (m *fakeMessenger) messages() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.sent...)
}

func TestClientRingtone(t *testing.T) {
	messenger := &fakeMessenger{}
	r := NewClientRingtone(messenger, "bob", "incoming")

	require.NoError(t, r.Play())
	r.Stop()

	msgs := messenger.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ringtone_start", msgs[0]["type"])
	assert.Equal(t, "incoming", msgs[0]["sound"])
	assert.Equal(t, true, msgs[0]["loop"])
	assert.Equal(t, domain.UserID("bob"), msgs[0]["user_id"])
	assert.Equal(t, "ringtone_stop", msgs[1]["type"])
}

func TestClientRingtone_DefaultSound(t *testing.T) {
	messenger := &fakeMessenger{}
	r := NewClientRingtone(messenger, "bob", "")

	require.NoError(t, r.Play())
	assert.Equal(t, "default", messenger.messages()[0]["sound"])
}

func TestClientRingtone_DisconnectedUser(t *testing.T) {
	messenger := &fakeMessenger{sendErr: errors.New("user not connected")}
	r := NewClientRingtone(messenger, "bob", "incoming")

	assert.Error(t, r.Play())
	// Stop is fire-and-forget toward a gone client.
	r.Stop()
}

func TestOscillatorRingtone(t *testing.T) {
	messenger := &fakeMessenger{}
	r := NewOscillatorRingtone(messenger, "bob", 880)

	require.NoError(t, r.Play())

	msgs := messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ringtone_start", msgs[0]["type"])
	synth, ok := msgs[0]["synth"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sine", synth["wave"])
	assert.Equal(t, 880.0, synth["frequency"])
}

func TestOscillatorRingtone_DefaultFrequency(t *testing.T) {
	messenger := &fakeMessenger{}
	r := NewOscillatorRingtone(messenger, "bob", 0)

	require.NoError(t, r.Play())
	synth := messenger.messages()[0]["synth"].(map[string]interface{})
	assert.Equal(t, 440.0, synth["frequency"])
}

func TestChainRingtone_FallsThroughToOscillator(t *testing.T) {
	// The asset-backed source cannot start, the synthesized tone takes
	// over.
	broken := &fakeMessenger{sendErr: errors.New("asset missing")}
	working := &fakeMessenger{}
	chain := NewChainRingtone(
		NewClientRingtone(broken, "bob", "incoming"),
		NewOscillatorRingtone(working, "bob", 440),
	)

	require.NoError(t, chain.Play())

	msgs := working.messages()
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0]["synth"])
}

func TestChainRingtone_FirstAcceptingLinkWins(t *testing.T) {
	first := &fakeMessenger{}
	second := &fakeMessenger{}
	chain := NewChainRingtone(
		NewClientRingtone(first, "bob", "incoming"),
		NewOscillatorRingtone(second, "bob", 440),
	)

	require.NoError(t, chain.Play())
	assert.Len(t, first.messages(), 1)
	assert.Empty(t, second.messages())
}

func TestChainRingtone_AllLinksFail(t *testing.T) {
	broken := &fakeMessenger{sendErr: errors.New("user not connected")}
	chain := NewChainRingtone(
		NewClientRingtone(broken, "bob", "incoming"),
		NewOscillatorRingtone(broken, "bob", 440),
	)
	assert.Error(t, chain.Play())

	assert.Error(t, NewChainRingtone().Play())
}

func TestChainRingtone_StopFansOut(t *testing.T) {
	first := &fakeMessenger{}
	second := &fakeMessenger{}
	chain := NewChainRingtone(
		NewClientRingtone(first, "bob", "incoming"),
		NewOscillatorRingtone(second, "bob", 440),
	)

	chain.Stop()

	require.Len(t, first.messages(), 1)
	require.Len(t, second.messages(), 1)
	assert.Equal(t, "ringtone_stop", first.messages()[0]["type"])
	assert.Equal(t, "ringtone_stop", second.messages()[0]["type"])
}

func TestNoopRingtone(t *testing.T) {
	var r NoopRingtone
	assert.NoError(t, r.Play())
	r.Stop()
}
