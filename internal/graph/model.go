// Package graph provides the knowledge graph data model for Lattice.
//
// It defines the core node and edge types that represent platform-level
// entities (users, agents, content, topics) and the weighted relationships
// between them (authored, about, engaged_with, etc.), plus the engagement
// event and edge mutation records that drive continuous reweighting.
package graph

import (
	"time"
)

// NodeKind represents the variant of a graph node.
type NodeKind string

const (
	NodeTopic   NodeKind = "topic"
	NodeContent NodeKind = "content"
	NodeAgent   NodeKind = "agent"
	NodeUser    NodeKind = "user"
)

// Valid reports whether the kind is one of the known node variants.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeTopic, NodeContent, NodeAgent, NodeUser:
		return true
	}
	return false
}

// EdgeType represents the type of relationship between graph nodes.
type EdgeType string

const (
	EdgeAuthored    EdgeType = "authored"
	EdgeAbout       EdgeType = "about"
	EdgeEngagedWith EdgeType = "engaged_with"
	EdgeSimilarTo   EdgeType = "similar_to"
	EdgeFollows     EdgeType = "follows"
	EdgeInterestIn  EdgeType = "interest_in"
)

// Node represents a node in the knowledge graph.
//
// The variant-specific payload is a closed tagged union: exactly one of
// Topic, Content or Agent is set depending on Kind; User nodes carry no
// payload beyond their key.
type Node struct {
	// ID is the unique identifier for the node.
	// Format: {kind}:{natural_key}
	ID string `json:"id"`

	// Kind is the variant of the node.
	Kind NodeKind `json:"kind"`

	// Key is the natural key the node was upserted by (topic text,
	// external content ID, agent or user handle).
	Key string `json:"key"`

	// CreatedAt is when the node was first observed.
	CreatedAt time.Time `json:"created_at"`

	// Tombstoned marks the node as logically deleted. Tombstoned nodes
	// are excluded from traversal and ranking but never physically
	// removed, so their ID is never reused.
	Tombstoned bool `json:"tombstoned,omitempty"`

	// Topic payload (Kind == NodeTopic).
	Topic *TopicPayload `json:"topic,omitempty"`

	// Content payload (Kind == NodeContent).
	Content *ContentPayload `json:"content,omitempty"`

	// Agent payload (Kind == NodeAgent).
	Agent *AgentPayload `json:"agent,omitempty"`
}

// TopicPayload holds topic-specific attributes.
type TopicPayload struct {
	// Name is the display form of the topic.
	Name string `json:"name"`
}

// ContentPayload holds content-specific attributes.
//
// It references stored media/text by URI; the media itself is owned by an
// external collaborator.
type ContentPayload struct {
	// AuthorID is the node ID of the authoring agent or user.
	// Empty until metadata resolution succeeds.
	AuthorID string `json:"author_id,omitempty"`

	// MediaRef is an opaque reference to the stored media or text.
	MediaRef string `json:"media_ref,omitempty"`

	// Partial marks content created from a bare event reference before
	// metadata resolution; reconciled on a later resolve.
	Partial bool `json:"partial,omitempty"`
}

// AgentPayload holds agent-specific attributes.
type AgentPayload struct {
	// Specialization maps topic keys to affinity scores in [0,1].
	Specialization map[string]float64 `json:"specialization,omitempty"`
}

// Edge represents a directed, typed, weighted relationship between two
// nodes. At most one edge of a given type exists per (From, To) pair;
// repeated events strengthen the existing edge instead of duplicating it.
type Edge struct {
	// From is the source node ID.
	From string `json:"from"`

	// To is the target node ID.
	To string `json:"to"`

	// Type is the relationship type.
	Type EdgeType `json:"type"`

	// Weight is the current edge weight. Always >= 0.
	Weight float64 `json:"weight"`

	// UpdatedAt is refreshed on every mutation of the edge.
	UpdatedAt time.Time `json:"updated_at"`
}

// EventKind represents the kind of an engagement event.
type EventKind string

const (
	EventView    EventKind = "view"
	EventLike    EventKind = "like"
	EventSkip    EventKind = "skip"
	EventShare   EventKind = "share"
	EventComment EventKind = "comment"
)

// Valid reports whether the kind is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventView, EventLike, EventSkip, EventShare, EventComment:
		return true
	}
	return false
}

// EngagementEvent is an immutable record of a user/agent interaction with
// content. Events are never mutated after ingestion; they exist only to
// derive edge weight deltas.
type EngagementEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// SubjectID is the node ID of the engaging user or agent.
	SubjectID string `json:"subject_id"`

	// ObjectID is the node ID of the engaged content.
	ObjectID string `json:"object_id"`

	// Kind is the event kind.
	Kind EventKind `json:"kind"`

	// Magnitude is kind-specific: view duration in seconds for views,
	// unused (zero) for the other kinds.
	Magnitude float64 `json:"magnitude,omitempty"`

	// OccurredAt is when the interaction happened.
	OccurredAt time.Time `json:"occurred_at"`
}

// EdgeMutation is a single edge weight adjustment instruction derived from
// an engagement event. A negative delta weakens the edge; the store clamps
// the resulting weight at zero.
type EdgeMutation struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Type  EdgeType `json:"type"`
	Delta float64  `json:"delta"`
}

// NodeID creates a deterministic node ID from kind and natural key.
// Format: {kind}:{natural_key}. Deterministic IDs make node upserts
// idempotent by construction.
func NodeID(kind NodeKind, key string) string {
	return string(kind) + ":" + key
}
