package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoteTracker_QuorumReachedExactlyOnce(t *testing.T) {
	req := require.New(t)
	votes := NewVoteTracker()

	// A single vote does not reach a quorum of two
	req.False(votes.AddVote("R1", "alice", 2))
	req.Equal(1, votes.Count("R1"))

	// The second distinct identity does
	req.True(votes.AddVote("R1", "bob", 2))
}

func TestVoteTracker_DuplicateVotesDoNotCount(t *testing.T) {
	req := require.New(t)
	votes := NewVoteTracker()

	req.False(votes.AddVote("R1", "alice", 2))
	req.False(votes.AddVote("R1", "alice", 2))
	req.False(votes.AddVote("R1", "alice", 2))
	req.Equal(1, votes.Count("R1"))
}

func TestVoteTracker_ClearRequiresFreshVotes(t *testing.T) {
	req := require.New(t)
	votes := NewVoteTracker()

	votes.AddVote("R1", "alice", 2)
	req.True(votes.AddVote("R1", "bob", 2))
	votes.Clear("R1")

	// After clearing, one vote is again not enough
	req.Zero(votes.Count("R1"))
	req.False(votes.AddVote("R1", "alice", 2))
	req.True(votes.AddVote("R1", "bob", 2))
}

func TestVoteTracker_RoomsAreIndependent(t *testing.T) {
	req := require.New(t)
	votes := NewVoteTracker()

	votes.AddVote("R1", "alice", 2)
	req.False(votes.AddVote("R2", "alice", 2))
	req.Equal(1, votes.Count("R1"))
	req.Equal(1, votes.Count("R2"))
}
