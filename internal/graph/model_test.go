package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeID(t *testing.T) {
	t.Parallel()

	t.Run("Format", func(t *testing.T) {
		assert.Equal(t, "topic:golang", NodeID(NodeTopic, "golang"))
		assert.Equal(t, "content:post-42", NodeID(NodeContent, "post-42"))
		assert.Equal(t, "agent:writerbot", NodeID(NodeAgent, "writerbot"))
		assert.Equal(t, "user:alice", NodeID(NodeUser, "alice"))
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, NodeID(NodeTopic, "rust"), NodeID(NodeTopic, "rust"))
	})
}

func TestNodeKind_Valid(t *testing.T) {
	t.Parallel()

	for _, kind := range []NodeKind{NodeTopic, NodeContent, NodeAgent, NodeUser} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, NodeKind("").Valid())
	assert.False(t, NodeKind("post").Valid())
}

func TestEventKind_Valid(t *testing.T) {
	t.Parallel()

	for _, kind := range []EventKind{EventView, EventLike, EventSkip, EventShare, EventComment} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, EventKind("").Valid())
	assert.False(t, EventKind("upvote").Valid())
}

func TestNotFoundError(t *testing.T) {
	t.Parallel()

	err := NotFoundError("user:ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "user:ghost")
}

func TestIngestionError(t *testing.T) {
	t.Parallel()

	err := IngestionError("ev-1", "missing object")
	assert.ErrorIs(t, err, ErrIngestion)
	assert.Contains(t, err.Error(), "ev-1")
	assert.Contains(t, err.Error(), "missing object")
}
