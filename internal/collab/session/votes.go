package session

// VoteTracker collects continue-session votes per room. Votes are a set of
// identities, so duplicate votes from the same identity never double-count.
// Serialized by the Coordinator.
//
// A voter who permanently leaves before quorum stays counted until the room
// is cleaned up or quorum is reached; votes are never revoked.
type VoteTracker struct {
	votes map[string]map[string]struct{}
}

// NewVoteTracker creates an empty tracker.
func NewVoteTracker() *VoteTracker {
	return &VoteTracker{votes: make(map[string]map[string]struct{})}
}

// AddVote registers identity's vote for roomID and reports true exactly when
// the vote set first reaches quorum.
func (v *VoteTracker) AddVote(roomID, identity string, quorum int) bool {
	set, ok := v.votes[roomID]
	if !ok {
		set = make(map[string]struct{})
		v.votes[roomID] = set
	}
	if _, ok := set[identity]; ok {
		return false
	}
	set[identity] = struct{}{}
	return len(set) == quorum
}

// Count returns the number of distinct votes currently held for roomID.
func (v *VoteTracker) Count(roomID string) int {
	return len(v.votes[roomID])
}

// Clear empties the vote set for roomID; called on quorum and on cleanup.
func (v *VoteTracker) Clear(roomID string) {
	delete(v.votes, roomID)
}
