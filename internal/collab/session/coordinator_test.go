package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pairprep/collab/internal/collab/events"
	"github.com/pairprep/collab/internal/collab/roomevents"
)

type recordingSender struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSender) Send(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSender) countOf(eventType events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recordingSender) lastOf(eventType events.Type) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

type fakeAssistant struct {
	mu      sync.Mutex
	reply   string
	err     error
	history []events.ChatMessage
	content string
}

func (f *fakeAssistant) Complete(ctx context.Context, history []events.ChatMessage, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = history
	f.content = content
	return f.reply, f.err
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(ctx context.Context, event roomevents.RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func newTestCoordinator() (*Coordinator, *clockwork.FakeClock, *fakeAssistant, *recordingPublisher) {
	clock := clockwork.NewFakeClock()
	assistant := &fakeAssistant{reply: "try a hash map"}
	publisher := &recordingPublisher{}
	coordinator := NewCoordinator(DefaultConfig(), assistant, publisher, clock)
	return coordinator, clock, assistant, publisher
}

func join(c *Coordinator, identity, roomID string) (*Session, *recordingSender) {
	sender := &recordingSender{}
	sess := c.NewSession(sender)
	c.AddUser(sess, identity)
	c.JoinRoom(sess, roomID)
	return sess, sender
}

func chatContent(t *testing.T, evt events.Event) events.ChatMessage {
	t.Helper()
	var msg events.ChatMessage
	require.NoError(t, json.Unmarshal(evt.Data, &msg))
	return msg
}

func TestCoordinator_StartTimerOnlyWhenRoomAssembles(t *testing.T) {
	req := require.New(t)
	c, _, _, publisher := newTestCoordinator()

	_, alice := join(c, "alice", "R1")

	// One occupant: session is still waiting
	req.Zero(alice.countOf(events.TypeStartTimer))

	_, bob := join(c, "bob", "R1")

	// Both clients receive start-timer exactly once
	req.Equal(1, alice.countOf(events.TypeStartTimer))
	req.Equal(1, bob.countOf(events.TypeStartTimer))
	req.Equal([]string{roomevents.EventRoomOccupied, roomevents.EventSessionStarted}, publisher.published())
}

func TestCoordinator_JoinReplaysChatHistoryInOrder(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	aliceSess, _ := join(c, "alice", "R1")
	c.HandleChat(aliceSess, "hi")
	c.HandleChat(aliceSess, "anyone there?")

	_, bob := join(c, "bob", "R1")

	evt, ok := bob.lastOf(events.TypeChatHistory)
	req.True(ok)

	var history []events.ChatMessage
	req.NoError(json.Unmarshal(evt.Data, &history))
	req.Len(history, 2)
	req.Equal(events.ChatMessage{Username: "alice", Content: "hi"}, history[0])
	req.Equal(events.ChatMessage{Username: "alice", Content: "anyone there?"}, history[1])
}

func TestCoordinator_ChatRelayExcludesSender(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	aliceSess, alice := join(c, "alice", "R1")
	_, bob := join(c, "bob", "R1")

	c.HandleChat(aliceSess, "hi")

	req.Zero(alice.countOf(events.TypeChatMessage))
	req.Equal(1, bob.countOf(events.TypeChatMessage))

	evt, _ := bob.lastOf(events.TypeChatMessage)
	req.Equal(events.ChatMessage{Username: "alice", Content: "hi"}, chatContent(t, evt))
}

func TestCoordinator_ChatBeforeJoinIsDropped(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	sender := &recordingSender{}
	sess := c.NewSession(sender)
	c.AddUser(sess, "alice")

	c.HandleChat(sess, "hello?")

	// The message is gone: a later join shows empty history
	c.JoinRoom(sess, "R1")
	evt, ok := sender.lastOf(events.TypeChatHistory)
	req.True(ok)

	var history []events.ChatMessage
	req.NoError(json.Unmarshal(evt.Data, &history))
	req.Empty(history)
}

func TestCoordinator_ReconnectWithinGraceKeepsSession(t *testing.T) {
	req := require.New(t)
	c, clock, _, _ := newTestCoordinator()

	_, alice := join(c, "alice", "R1")
	bobSess, _ := join(c, "bob", "R1")

	c.Disconnect(bobSess)
	clock.BlockUntil(1)

	// Bob reconnects before the grace period elapses
	_, newBob := join(c, "bob", "R1")

	clock.Advance(DefaultConfig().GracePeriod * 2)
	time.Sleep(20 * time.Millisecond)

	req.Zero(alice.countOf(events.TypeUserLeft))
	req.Zero(newBob.countOf(events.TypeUserLeft))
	req.Equal([]string{"alice", "bob"}, c.GetStats().Occupants["R1"])

	// The rejoin must not re-broadcast start-timer: occupancy never dropped
	req.Equal(1, alice.countOf(events.TypeStartTimer))
	req.Zero(newBob.countOf(events.TypeStartTimer))
}

func TestCoordinator_GraceExpiryRemovesOccupantExactlyOnce(t *testing.T) {
	req := require.New(t)
	c, clock, _, publisher := newTestCoordinator()

	_, alice := join(c, "alice", "R1")
	bobSess, _ := join(c, "bob", "R1")

	c.Disconnect(bobSess)
	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().GracePeriod)

	req.Eventually(func() bool {
		return alice.countOf(events.TypeUserLeft) == 1
	}, time.Second, time.Millisecond)

	stats := c.GetStats()
	req.Equal([]string{"alice"}, stats.Occupants["R1"])

	// A stale second expiry for the same identity must not double-notify
	c.expireOccupant("R1", "bob")
	time.Sleep(20 * time.Millisecond)
	req.Equal(1, alice.countOf(events.TypeUserLeft))

	published := publisher.published()
	req.Equal(1, countString(published, roomevents.EventOccupantLeft))
}

func TestCoordinator_LastLeaveClosesRoom(t *testing.T) {
	req := require.New(t)
	c, clock, _, publisher := newTestCoordinator()

	aliceSess, _ := join(c, "alice", "R1")
	bobSess, _ := join(c, "bob", "R1")
	c.HandleChat(aliceSess, "hi")

	c.Disconnect(bobSess)
	clock.BlockUntil(1)
	clock.Advance(DefaultConfig().GracePeriod)
	req.Eventually(func() bool {
		return c.GetStats().ActiveRooms == 1 && len(c.GetStats().Occupants["R1"]) == 1
	}, time.Second, time.Millisecond)

	c.Leave(aliceSess)

	req.Zero(c.GetStats().ActiveRooms)
	req.Contains(publisher.published(), roomevents.EventRoomClosed)

	// Chat buffers are gone: a fresh join sees empty history
	_, again := join(c, "carol", "R1")
	evt, ok := again.lastOf(events.TypeChatHistory)
	req.True(ok)
	var history []events.ChatMessage
	req.NoError(json.Unmarshal(evt.Data, &history))
	req.Empty(history)
}

func TestCoordinator_ExplicitLeaveNotifiesPeerImmediately(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	aliceSess, _ := join(c, "alice", "R1")
	_, bob := join(c, "bob", "R1")

	c.Leave(aliceSess)

	req.Equal(1, bob.countOf(events.TypeUserLeft))
	req.Equal([]string{"bob"}, c.GetStats().Occupants["R1"])
}

func TestCoordinator_ContinueVotesNeedQuorum(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	aliceSess, alice := join(c, "alice", "R1")
	bobSess, bob := join(c, "bob", "R1")

	// Both already saw the initial start-timer
	req.Equal(1, alice.countOf(events.TypeStartTimer))

	// A single vote must not restart the timer, nor must a duplicate
	c.HandleContinueVote(aliceSess, "R1")
	c.HandleContinueVote(aliceSess, "R1")
	req.Equal(1, alice.countOf(events.TypeStartTimer))
	req.Equal(1, bob.countOf(events.TypeStartTimer))

	// The second distinct vote restarts it exactly once
	c.HandleContinueVote(bobSess, "R1")
	req.Equal(2, alice.countOf(events.TypeStartTimer))
	req.Equal(2, bob.countOf(events.TypeStartTimer))

	// Restarting again requires two fresh votes
	c.HandleContinueVote(bobSess, "R1")
	req.Equal(2, alice.countOf(events.TypeStartTimer))
	c.HandleContinueVote(aliceSess, "R1")
	req.Equal(3, alice.countOf(events.TypeStartTimer))
}

func TestCoordinator_VoteForUnknownRoomIsNoop(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	aliceSess, alice := join(c, "alice", "R1")
	c.HandleContinueVote(aliceSess, "other-room")

	req.Zero(alice.countOf(events.TypeStartTimer))
}

func TestCoordinator_AssistantReplyBroadcastToWholeRoom(t *testing.T) {
	req := require.New(t)
	c, _, assistant, _ := newTestCoordinator()

	aliceSess, alice := join(c, "alice", "R1")
	_, bob := join(c, "bob", "R1")

	c.HandleBotChat(aliceSess, "how do I detect a cycle?")

	req.Eventually(func() bool {
		return alice.countOf(events.TypeBotChatMessage) == 1 && bob.countOf(events.TypeBotChatMessage) == 1
	}, time.Second, time.Millisecond)

	evt, _ := alice.lastOf(events.TypeBotChatMessage)
	msg := chatContent(t, evt)
	req.Equal(events.AssistantUsername, msg.Username)
	req.Equal("try a hash map", msg.Content)

	assistant.mu.Lock()
	req.Equal("how do I detect a cycle?", assistant.content)
	assistant.mu.Unlock()

	// Both the question and the reply land in the assistant buffer for
	// late joiners
	_, carol := join(c, "carol", "R1")
	histEvt, ok := carol.lastOf(events.TypeBotChatHistory)
	req.True(ok)
	var history []events.ChatMessage
	req.NoError(json.Unmarshal(histEvt.Data, &history))
	req.Len(history, 2)
	req.Equal("alice", history[0].Username)
	req.Equal(events.AssistantUsername, history[1].Username)
}

func TestCoordinator_AssistantFailureYieldsSingleApology(t *testing.T) {
	req := require.New(t)
	c, _, assistant, _ := newTestCoordinator()
	assistant.err = errors.New("upstream 500")

	aliceSess, alice := join(c, "alice", "R1")
	_, bob := join(c, "bob", "R1")

	c.HandleBotChat(aliceSess, "help")

	req.Eventually(func() bool {
		return bob.countOf(events.TypeBotChatMessage) == 1
	}, time.Second, time.Millisecond)

	evt, _ := alice.lastOf(events.TypeBotChatMessage)
	msg := chatContent(t, evt)
	req.Equal(events.AssistantUsername, msg.Username)
	req.Equal(apologyText, msg.Content)

	time.Sleep(20 * time.Millisecond)
	req.Equal(1, alice.countOf(events.TypeBotChatMessage))
	req.Equal(1, bob.countOf(events.TypeBotChatMessage))
}

func TestCoordinator_VoiceRelayIsVerbatimAndExcludesSender(t *testing.T) {
	req := require.New(t)
	c, _, _, _ := newTestCoordinator()

	aliceSess, alice := join(c, "alice", "R1")
	_, bob := join(c, "bob", "R1")

	payload := json.RawMessage(`{"offer":{"sdp":"v=0...","type":"offer"}}`)
	c.Relay(aliceSess, events.TypeVoiceOffer, payload)

	req.Zero(alice.countOf(events.TypeVoiceOffer))
	req.Equal(1, bob.countOf(events.TypeVoiceOffer))

	evt, _ := bob.lastOf(events.TypeVoiceOffer)
	req.JSONEq(string(payload), string(evt.Data))
}

func countString(haystack []string, needle string) int {
	n := 0
	for _, s := range haystack {
		if s == needle {
			n++
		}
	}
	return n
}
