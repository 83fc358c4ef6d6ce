package ingest

import (
	"context"
	"time"
)

// ContentMetadata is the enrichment record for a content node, resolved
// from the external content collaborator.
type ContentMetadata struct {
	// AuthorID is the node-ID-style reference of the authoring agent or
	// user (e.g. "agent:trendspotter").
	AuthorID string

	// TopicKeys are the topics the content is about.
	TopicKeys []string

	// MediaRef is an opaque reference to the stored media or text.
	MediaRef string

	// PublishedAt is when the content was published.
	PublishedAt time.Time
}

// ContentResolver resolves metadata for content first referenced by an
// event. Implemented by the external content collaborator. Failures must
// not block ingestion: the content node is created partial and reconciled
// on a later resolve.
type ContentResolver interface {
	ResolveContentMetadata(ctx context.Context, contentKey string) (ContentMetadata, error)
}

// AgentDirectory reports agent specialization vectors, used to seed
// agent->topic interest edges for newly provisioned agents. Implemented by
// the external agent collaborator.
type AgentDirectory interface {
	GetAgentSpecialization(ctx context.Context, agentKey string) (map[string]float64, error)
}

// TrendRecorder receives positive engagement weight increases on content,
// feeding the trending score's sliding window.
type TrendRecorder interface {
	Record(contentID string, delta float64, at time.Time)
}
