package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pairprep/collab/internal/collab/events"
	"github.com/pairprep/collab/internal/collab/roomevents"
)

// apologyText is broadcast in place of an assistant reply when the
// completion API call fails, so the room is never left hanging.
const apologyText = "Sorry, I encountered an error while processing your message."

// Sender delivers outbound events to one connected client. Implementations
// must not block; slow consumers are the transport's problem.
type Sender interface {
	Send(evt events.Event)
}

// Assistant produces a reply to the latest chat line given the room's prior
// assistant conversation.
type Assistant interface {
	Complete(ctx context.Context, history []events.ChatMessage, content string) (string, error)
}

// Session is the coordinator-side state of one connected client: at most one
// identity and one room membership, both mutated only by the connection's
// own events.
type Session struct {
	ID       string
	sender   Sender
	identity string
	roomID   string
}

// Config holds the coordinator tunables.
type Config struct {
	// GracePeriod is how long a disconnected occupant may stay away before
	// being permanently removed from their room.
	GracePeriod time.Duration
	// ExpectedOccupancy is the default number of occupants that makes a
	// session fully assembled; rooms can override it.
	ExpectedOccupancy int
}

// DefaultConfig returns the coordinator defaults: a 10 second grace period
// and paired two-person sessions.
func DefaultConfig() Config {
	return Config{
		GracePeriod:       10 * time.Second,
		ExpectedOccupancy: 2,
	}
}

// Coordinator owns all room state for the process: the room registry, grace
// timers, chat buffers and vote tracker. It is the only writer to those
// stores and serializes every mutation under one mutex, so event handlers
// observe run-to-completion semantics. Only assistant calls happen outside
// the lock.
type Coordinator struct {
	config    Config
	clock     clockwork.Clock
	assistant Assistant
	signals   roomevents.Publisher

	mu      sync.Mutex
	rooms   *Registry
	graces  *GraceTimers
	chat    *HistoryBuffers
	botChat *HistoryBuffers
	votes   *VoteTracker
	members map[string]map[*Session]struct{}
}

// NewCoordinator creates a coordinator with empty state.
func NewCoordinator(config Config, assistant Assistant, signals roomevents.Publisher, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		config:    config,
		clock:     clock,
		assistant: assistant,
		signals:   signals,
		rooms:     NewRegistry(config.ExpectedOccupancy),
		graces:    NewGraceTimers(clock),
		chat:      NewHistoryBuffers(),
		botChat:   NewHistoryBuffers(),
		votes:     NewVoteTracker(),
		members:   make(map[string]map[*Session]struct{}),
	}
}

// NewSession registers a fresh connection with no identity or room yet.
func (c *Coordinator) NewSession(sender Sender) *Session {
	return &Session{
		ID:     uuid.NewString(),
		sender: sender,
	}
}

// AddUser binds an identity to the session and cancels any grace timer armed
// for that identity, so a quick reconnect is treated as continuity.
func (c *Coordinator) AddUser(s *Session, identity string) {
	if identity == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s.identity = identity
	c.graces.Cancel(identity)

	log.Info().
		Str("session_id", s.ID).
		Str("identity", identity).
		Msg("identity bound to session")
}

// JoinRoom adds the session's identity to the room, replays accumulated chat
// history to the joiner, and broadcasts start-timer when the room first
// reaches its expected occupancy.
func (c *Coordinator) JoinRoom(s *Session, roomID string) {
	if roomID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.identity == "" {
		log.Warn().Str("session_id", s.ID).Str("room_id", roomID).Msg("join-room before add-user ignored")
		return
	}
	if s.roomID != "" && s.roomID != roomID {
		log.Warn().
			Str("session_id", s.ID).
			Str("room_id", roomID).
			Str("current_room", s.roomID).
			Msg("join-room while already in a room ignored")
		return
	}

	count, added := c.rooms.Join(roomID, s.identity)
	s.roomID = roomID

	if c.members[roomID] == nil {
		c.members[roomID] = make(map[*Session]struct{})
	}
	c.members[roomID][s] = struct{}{}

	c.chat.Ensure(roomID)
	c.botChat.Ensure(roomID)

	c.send(s, events.TypeChatHistory, c.chat.All(roomID))
	c.send(s, events.TypeBotChatHistory, c.botChat.All(roomID))

	log.Info().
		Str("identity", s.identity).
		Str("room_id", roomID).
		Int("occupants", count).
		Msg("joined room")

	if added && count == 1 {
		c.signal(roomevents.EventRoomOccupied, roomID, map[string]string{"identity": s.identity})
	}
	if added && count == c.rooms.ExpectedOccupancy(roomID) {
		c.broadcast(roomID, events.TypeStartTimer, nil, nil)
		c.signal(roomevents.EventSessionStarted, roomID, map[string]any{"occupants": c.rooms.Occupants(roomID)})
	}
}

// HandleChat appends the message to the room's history and relays it to
// every occupant except the sender. Messages sent before joining a room are
// dropped.
func (c *Coordinator) HandleChat(s *Session, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.identity == "" || s.roomID == "" {
		return
	}

	msg := events.ChatMessage{Username: s.identity, Content: content}
	c.chat.Append(s.roomID, msg)
	c.broadcast(s.roomID, events.TypeChatMessage, msg, s)
}

// HandleBotChat forwards the message to the assistant without blocking other
// event processing. The reply, or an apology on failure, is broadcast to the
// whole room; exactly one message always comes back.
func (c *Coordinator) HandleBotChat(s *Session, content string) {
	c.mu.Lock()

	if s.identity == "" || s.roomID == "" {
		c.mu.Unlock()
		return
	}

	roomID := s.roomID
	history := c.botChat.All(roomID)
	c.botChat.Append(roomID, events.ChatMessage{Username: s.identity, Content: content})
	c.mu.Unlock()

	go func() {
		reply, err := c.assistant.Complete(context.Background(), history, content)

		c.mu.Lock()
		defer c.mu.Unlock()

		// The room may have been cleaned up while the call was in flight.
		if !c.botChat.Has(roomID) {
			return
		}

		botMsg := events.ChatMessage{Username: events.AssistantUsername, Content: reply}
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("assistant completion failed")
			botMsg.Content = apologyText
		} else {
			c.botChat.Append(roomID, botMsg)
		}
		c.broadcast(roomID, events.TypeBotChatMessage, botMsg, nil)
	}()
}

// HandleContinueVote registers a continue-session vote. When the vote set
// reaches the room's expected occupancy, the votes are cleared and
// start-timer is re-broadcast, resuming the session. Votes for unknown rooms
// are no-ops.
func (c *Coordinator) HandleContinueVote(s *Session, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.identity == "" || c.rooms.OccupantCount(roomID) == 0 {
		return
	}

	quorum := c.rooms.ExpectedOccupancy(roomID)
	if !c.votes.AddVote(roomID, s.identity, quorum) {
		log.Info().
			Str("identity", s.identity).
			Str("room_id", roomID).
			Int("votes", c.votes.Count(roomID)).
			Int("quorum", quorum).
			Msg("continue vote registered")
		return
	}

	c.votes.Clear(roomID)
	c.broadcast(roomID, events.TypeStartTimer, nil, nil)
	log.Info().Str("room_id", roomID).Msg("continue quorum reached, session resumed")
}

// Relay forwards an opaque payload, such as voice signaling, to every other
// occupant of the sender's room without inspecting it.
func (c *Coordinator) Relay(s *Session, eventType events.Type, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.roomID == "" {
		return
	}
	evt := events.NewRaw(eventType, payload)
	for member := range c.members[s.roomID] {
		if member != s {
			member.sender.Send(evt)
		}
	}
}

// Leave permanently removes the session's identity from its room: an
// explicit quit skips the grace period entirely. The session stays connected
// and may join another room later.
func (c *Coordinator) Leave(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.identity == "" || s.roomID == "" {
		return
	}

	roomID := s.roomID
	delete(c.members[roomID], s)
	s.roomID = ""
	c.graces.Cancel(s.identity)
	c.removeOccupant(roomID, s.identity)
}

// Disconnect handles the transport dropping: the session no longer receives
// broadcasts, but its identity keeps its place in the room until the grace
// period expires without a reconnect.
func (c *Coordinator) Disconnect(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.roomID != "" {
		delete(c.members[s.roomID], s)
	}
	if s.identity == "" || s.roomID == "" {
		return
	}

	identity, roomID := s.identity, s.roomID
	log.Info().
		Str("identity", identity).
		Str("room_id", roomID).
		Dur("grace_period", c.config.GracePeriod).
		Msg("disconnected, grace timer armed")

	c.graces.Arm(identity, c.config.GracePeriod, func() {
		c.expireOccupant(roomID, identity)
	})
}

// expireOccupant runs when a grace timer fires. It re-checks authoritative
// registry state, so a firing that lost a race against reconnection or an
// independent room teardown is a no-op.
func (c *Coordinator) expireOccupant(roomID, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Info().
		Str("identity", identity).
		Str("room_id", roomID).
		Msg("grace period expired")

	c.removeOccupant(roomID, identity)
}

// removeOccupant performs the permanent-leave transition: occupancy
// decrement, user-left to the remaining peers, and full room cleanup when
// the last occupant is gone. Idempotent; callers hold c.mu.
func (c *Coordinator) removeOccupant(roomID, identity string) {
	removed, nowEmpty := c.rooms.Leave(roomID, identity)
	if !removed {
		return
	}

	c.broadcast(roomID, events.TypeUserLeft, nil, nil)
	c.signal(roomevents.EventOccupantLeft, roomID, map[string]string{"identity": identity})

	if !nowEmpty {
		return
	}

	c.chat.Delete(roomID)
	c.botChat.Delete(roomID)
	c.votes.Clear(roomID)
	c.broadcast(roomID, events.TypeRoomClosed, nil, nil)
	c.signal(roomevents.EventRoomClosed, roomID, nil)
	delete(c.members, roomID)

	log.Info().Str("room_id", roomID).Msg("room closed")
}

// Stats is a point-in-time snapshot of coordinator state.
type Stats struct {
	ActiveRooms int                 `json:"active_rooms"`
	Occupants   map[string][]string `json:"occupants"`
}

// GetStats returns a snapshot of active rooms and their occupants.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Occupants: make(map[string][]string)}
	for _, roomID := range c.rooms.Rooms() {
		stats.ActiveRooms++
		stats.Occupants[roomID] = c.rooms.Occupants(roomID)
	}
	return stats
}

// send delivers a single event to one session.
func (c *Coordinator) send(s *Session, eventType events.Type, payload any) {
	evt, err := events.New(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	s.sender.Send(evt)
}

// broadcast delivers an event to every session in the room, optionally
// excluding one.
func (c *Coordinator) broadcast(roomID string, eventType events.Type, payload any, except *Session) {
	evt, err := events.New(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	for member := range c.members[roomID] {
		if member != except {
			member.sender.Send(evt)
		}
	}
}

// signal publishes a room lifecycle event for external collaborators,
// best-effort.
func (c *Coordinator) signal(eventType, roomID string, payload any) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal signal payload")
			return
		}
		data = encoded
	}

	event := roomevents.RoomEvent{
		ID:        uuid.New(),
		EventType: eventType,
		RoomID:    roomID,
		CreatedAt: c.clock.Now(),
		Payload:   data,
	}
	if err := c.signals.Publish(context.Background(), event); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Str("room_id", roomID).Msg("failed to publish room event")
	}
}
