package session

import "github.com/pairprep/collab/internal/collab/events"

// HistoryBuffers holds the ordered chat history of each active room. Buffers
// exist only between the room's first join and its cleanup; appends to a room
// without a buffer are dropped. Like the Registry, access is serialized by
// the Coordinator.
type HistoryBuffers struct {
	buffers map[string][]events.ChatMessage
}

// NewHistoryBuffers creates an empty buffer store.
func NewHistoryBuffers() *HistoryBuffers {
	return &HistoryBuffers{buffers: make(map[string][]events.ChatMessage)}
}

// Ensure creates an empty buffer for roomID if one does not exist.
func (h *HistoryBuffers) Ensure(roomID string) {
	if _, ok := h.buffers[roomID]; !ok {
		h.buffers[roomID] = []events.ChatMessage{}
	}
}

// Append records msg at the end of the room's history. No-op if the room has
// no buffer; callers Ensure on join.
func (h *HistoryBuffers) Append(roomID string, msg events.ChatMessage) {
	if _, ok := h.buffers[roomID]; !ok {
		return
	}
	h.buffers[roomID] = append(h.buffers[roomID], msg)
}

// All returns the room's full history in arrival order. The returned slice is
// a copy; an unknown room yields an empty, non-nil slice so it serializes as
// a JSON array.
func (h *HistoryBuffers) All(roomID string) []events.ChatMessage {
	msgs := h.buffers[roomID]
	out := make([]events.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Has reports whether roomID currently has a buffer.
func (h *HistoryBuffers) Has(roomID string) bool {
	_, ok := h.buffers[roomID]
	return ok
}

// Delete discards the room's buffer.
func (h *HistoryBuffers) Delete(roomID string) {
	delete(h.buffers, roomID)
}
