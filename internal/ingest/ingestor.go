package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/metrics"
	"github.com/latticefeed/lattice/internal/store"
)

// TopicEngagement is the pub/sub topic engagement events flow through.
const TopicEngagement = "engagement.events"

// resolveTimeout bounds collaborator calls so a slow resolver cannot stall
// a pipeline worker.
const resolveTimeout = 2 * time.Second

// Config assembles an Ingestor.
type Config struct {
	Store     store.GraphStore
	Weights   Weights
	Resolver  ContentResolver // optional
	Directory AgentDirectory  // optional
	Trends    TrendRecorder   // optional
	Workers   int
	Buffer    int
	Logger    zerolog.Logger
}

// Ingestor converts raw engagement events into graph mutations.
//
// Submit publishes fire-and-forget onto an in-process pub/sub; a pool of
// workers consumes, derives mutations and applies them to the store as
// independent atomic edge operations. One bad event never blocks the
// pipeline: it is logged, counted and dropped.
type Ingestor struct {
	store     store.GraphStore
	weights   Weights
	resolver  ContentResolver
	directory AgentDirectory
	trends    TrendRecorder
	workers   int
	log       zerolog.Logger

	pubsub *gochannel.GoChannel
	wg     sync.WaitGroup
}

// New creates an Ingestor. Start must be called before Submit.
func New(cfg Config) *Ingestor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}

	log := cfg.Logger.With().Str("component", "ingest").Logger()
	return &Ingestor{
		store:     cfg.Store,
		weights:   cfg.Weights,
		resolver:  cfg.Resolver,
		directory: cfg.Directory,
		trends:    cfg.Trends,
		workers:   workers,
		log:       log,
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(buffer),
		}, watermillLogger{log}),
	}
}

// Start subscribes the worker pool. Workers run until Close.
func (i *Ingestor) Start(ctx context.Context) error {
	messages, err := i.pubsub.Subscribe(ctx, TopicEngagement)
	if err != nil {
		return err
	}

	for n := 0; n < i.workers; n++ {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			for msg := range messages {
				i.handle(ctx, msg)
				msg.Ack()
			}
		}()
	}
	return nil
}

// Close shuts down the pub/sub and waits for in-flight events to drain.
func (i *Ingestor) Close() error {
	err := i.pubsub.Close()
	i.wg.Wait()
	return err
}

// Submit enqueues an engagement event for ingestion. Fire-and-forget: a
// nil return means the event was accepted, not yet applied. Missing event
// ID and timestamp are filled in here so the stored record is complete.
func (i *Ingestor) Submit(ev graph.EngagementEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return graph.IngestionError(ev.ID, "unencodable event")
	}
	return i.pubsub.Publish(TopicEngagement, message.NewMessage(ev.ID, payload))
}

// handle decodes and applies one message, classifying failures.
func (i *Ingestor) handle(ctx context.Context, msg *message.Message) {
	var ev graph.EngagementEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		metrics.EventsDropped.WithLabelValues("decode").Inc()
		i.log.Warn().Str("message_id", msg.UUID).Err(err).Msg("dropping undecodable event")
		return
	}

	switch err := i.Apply(ctx, ev); {
	case err == nil:
		metrics.EventsIngested.WithLabelValues(string(ev.Kind)).Inc()
	case errors.Is(err, graph.ErrIngestion), errors.Is(err, graph.ErrNotFound):
		metrics.EventsDropped.WithLabelValues("unmappable").Inc()
		i.log.Warn().Str("event_id", ev.ID).Err(err).Msg("dropping event")
	default:
		// Store-side failure: the event is still dropped, never retried
		// inline, so one unhealthy store moment cannot wedge a worker.
		metrics.EventsDropped.WithLabelValues("store").Inc()
		i.log.Error().Str("event_id", ev.ID).Err(err).Msg("dropping event after store failure")
	}
}

// Apply synchronously ingests a single event: it resolves or lazily creates
// the referenced nodes, derives mutations and applies each one as an
// independent atomic edge operation. Used by the pipeline workers and by
// the CLI replay path.
func (i *Ingestor) Apply(ctx context.Context, ev graph.EngagementEvent) error {
	if !ev.Kind.Valid() {
		return graph.IngestionError(ev.ID, "unknown event kind "+string(ev.Kind))
	}

	subjectID, err := i.ensureSubject(ctx, ev.SubjectID)
	if err != nil {
		return err
	}
	ev.SubjectID = subjectID

	contentID, ok, err := i.ensureContent(ctx, ev)
	if err != nil {
		return err
	}
	if !ok {
		// Skip against content that no longer exists is an ordinary
		// missing-context event, not an error.
		return nil
	}
	ev.ObjectID = contentID

	ectx := EventContext{}
	if ectx.Authors, err = i.store.GetIncoming(ctx, contentID, graph.EdgeAuthored, 0); err != nil {
		return err
	}
	if ectx.Topics, err = i.store.GetNeighbors(ctx, contentID, graph.EdgeAbout, 0); err != nil {
		return err
	}

	muts, err := MapEvent(i.weights, ev, ectx)
	if err != nil {
		return err
	}

	// Mutations are applied as a sequence of independent atomic edge
	// operations; a failure on one edge is logged and does not roll back
	// or abort the others.
	for _, m := range muts {
		if err := i.store.UpsertEdge(ctx, m.From, m.To, m.Type, m.Delta); err != nil {
			i.log.Warn().
				Str("event_id", ev.ID).
				Str("from", m.From).Str("to", m.To).Str("type", string(m.Type)).
				Err(err).Msg("edge mutation failed")
			continue
		}
		metrics.MutationsApplied.Inc()

		if i.trends != nil && m.Type == graph.EdgeEngagedWith && m.To == contentID && m.Delta > 0 {
			i.trends.Record(contentID, m.Delta, ev.OccurredAt)
		}
	}
	return nil
}

// ensureSubject upserts the engaging user or agent, seeding agent interest
// edges from the directory on first sight.
func (i *Ingestor) ensureSubject(ctx context.Context, subjectID string) (string, error) {
	kind, key, err := splitNodeRef(subjectID)
	if err != nil {
		return "", err
	}
	if kind != graph.NodeUser && kind != graph.NodeAgent {
		return "", graph.IngestionError("", "subject must be a user or agent, got "+subjectID)
	}

	if node, err := i.store.GetNode(ctx, subjectID); err == nil {
		if node.Tombstoned {
			return "", graph.NotFoundError(subjectID)
		}
		return node.ID, nil
	} else if !errors.Is(err, graph.ErrNotFound) {
		return "", err
	}

	id, err := i.store.UpsertNode(ctx, &graph.Node{Kind: kind, Key: key})
	if err != nil {
		return "", err
	}
	if kind == graph.NodeAgent {
		i.seedAgent(ctx, id, key)
	}
	return id, nil
}

// seedAgent pulls the agent's specialization vector and materializes it as
// interest edges. Best effort: a directory failure leaves a bare agent.
func (i *Ingestor) seedAgent(ctx context.Context, agentID, agentKey string) {
	if i.directory == nil {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	spec, err := i.directory.GetAgentSpecialization(rctx, agentKey)
	if err != nil {
		i.log.Warn().Str("agent", agentKey).Err(err).Msg("agent specialization unavailable")
		return
	}

	if _, err := i.store.UpsertNode(ctx, &graph.Node{
		Kind:  graph.NodeAgent,
		Key:   agentKey,
		Agent: &graph.AgentPayload{Specialization: spec},
	}); err != nil {
		i.log.Warn().Str("agent", agentKey).Err(err).Msg("storing specialization failed")
		return
	}

	for topicKey, affinity := range spec {
		if affinity <= 0 {
			continue
		}
		topicID, err := i.store.UpsertNode(ctx, &graph.Node{
			Kind:  graph.NodeTopic,
			Key:   topicKey,
			Topic: &graph.TopicPayload{Name: topicKey},
		})
		if err != nil {
			continue
		}
		if err := i.store.UpsertEdge(ctx, agentID, topicID, graph.EdgeInterestIn, affinity); err != nil {
			i.log.Warn().Str("agent", agentKey).Str("topic", topicKey).Err(err).Msg("seeding interest failed")
		}
	}
}

// ensureContent upserts the engaged content node, enriching it from the
// content collaborator when possible. The bool result is false when the
// event should be silently dropped (skip on vanished content).
func (i *Ingestor) ensureContent(ctx context.Context, ev graph.EngagementEvent) (string, bool, error) {
	kind, key, err := splitNodeRef(ev.ObjectID)
	if err != nil {
		return "", false, err
	}
	if kind != graph.NodeContent {
		return "", false, graph.IngestionError(ev.ID, "object must be content, got "+ev.ObjectID)
	}

	node, err := i.store.GetNode(ctx, ev.ObjectID)
	switch {
	case err == nil && node.Tombstoned:
		if ev.Kind == graph.EventSkip {
			return "", false, nil
		}
		return "", false, graph.NotFoundError(ev.ObjectID)
	case err == nil:
		if node.Content != nil && node.Content.Partial {
			i.enrichContent(ctx, node.ID, key)
		}
		return node.ID, true, nil
	case !errors.Is(err, graph.ErrNotFound):
		return "", false, err
	}

	if ev.Kind == graph.EventSkip {
		return "", false, nil
	}

	// First reference: create the node, partial until resolution succeeds.
	id, err := i.store.UpsertNode(ctx, &graph.Node{
		Kind:    graph.NodeContent,
		Key:     key,
		Content: &graph.ContentPayload{Partial: true},
	})
	if err != nil {
		return "", false, err
	}
	i.enrichContent(ctx, id, key)
	return id, true, nil
}

// enrichContent resolves content metadata and wires authorship and topic
// edges. Best effort: resolution failure leaves the node partial for a
// later reconcile and never blocks ingestion.
func (i *Ingestor) enrichContent(ctx context.Context, contentID, contentKey string) {
	if i.resolver == nil {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	meta, err := i.resolver.ResolveContentMetadata(rctx, contentKey)
	if err != nil {
		i.log.Debug().Str("content", contentKey).Err(err).Msg("content metadata unavailable")
		return
	}

	if _, err := i.store.UpsertNode(ctx, &graph.Node{
		Kind: graph.NodeContent,
		Key:  contentKey,
		Content: &graph.ContentPayload{
			AuthorID: meta.AuthorID,
			MediaRef: meta.MediaRef,
		},
	}); err != nil {
		i.log.Warn().Str("content", contentKey).Err(err).Msg("storing content metadata failed")
		return
	}

	if meta.AuthorID != "" {
		if authorID, err := i.ensureSubject(ctx, meta.AuthorID); err == nil {
			if err := i.store.UpsertEdge(ctx, authorID, contentID, graph.EdgeAuthored, 1); err != nil {
				i.log.Warn().Str("content", contentKey).Err(err).Msg("authored edge failed")
			}
		}
	}

	for _, topicKey := range meta.TopicKeys {
		topicID, err := i.store.UpsertNode(ctx, &graph.Node{
			Kind:  graph.NodeTopic,
			Key:   topicKey,
			Topic: &graph.TopicPayload{Name: topicKey},
		})
		if err != nil {
			continue
		}
		if err := i.store.UpsertEdge(ctx, contentID, topicID, graph.EdgeAbout, 1); err != nil {
			i.log.Warn().Str("content", contentKey).Str("topic", topicKey).Err(err).Msg("about edge failed")
		}
	}
}

// splitNodeRef parses a "{kind}:{key}" node reference.
func splitNodeRef(ref string) (graph.NodeKind, string, error) {
	kind, key, ok := strings.Cut(ref, ":")
	if !ok || key == "" || !graph.NodeKind(kind).Valid() {
		return "", "", graph.IngestionError("", "malformed node reference "+ref)
	}
	return graph.NodeKind(kind), key, nil
}
