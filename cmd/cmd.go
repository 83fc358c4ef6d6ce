// Package cmd provides CLI command implementations for Lattice.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/latticefeed/lattice/internal/config"
	"github.com/latticefeed/lattice/internal/feed"
	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/ingest"
	"github.com/latticefeed/lattice/internal/rank"
	"github.com/latticefeed/lattice/internal/reweight"
	"github.com/latticefeed/lattice/internal/server"
	"github.com/latticefeed/lattice/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ServeCmd runs the recommendation engine: ingestion pipeline, decay
// sweeper and HTTP API, until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address override"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trends := rank.NewTrendTracker(cfg.Rank.TrendingWindow)

	ingestor := ingest.New(ingest.Config{
		Store:   st,
		Weights: eventWeights(cfg),
		Trends:  trends,
		Workers: cfg.Ingest.Workers,
		Logger:  log,
	})
	if err := ingestor.Start(ctx); err != nil {
		return fmt.Errorf("starting ingestion: %w", err)
	}
	defer func() { _ = ingestor.Close() }()

	sweeper := reweight.New(st, reweight.Config{
		Factor:       cfg.Decay.Factor,
		Interval:     cfg.Decay.Interval,
		PruneEpsilon: cfg.Decay.PruneEpsilon,
	}, log)
	go func() { _ = sweeper.Run(ctx) }()

	svc := newFeedService(st, trends, cfg, log)
	srv := server.New(cfg.Server, st, ingestor, svc, log)

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	color.Green("Lattice %s listening on %s", Version, cfg.Server.Addr)

	select {
	case err := <-errs:
		return err
	case sig := <-osSignalChannel():
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// IngestCmd replays engagement events from a JSONL file directly into the
// graph, bypassing the HTTP API. Useful for backfills and demos.
type IngestCmd struct {
	File string `arg:"" help:"Path to JSONL event file (- for stdin)"`
}

// Run executes the ingest command.
func (c *IngestCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var in io.Reader = os.Stdin
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return fmt.Errorf("opening %s: %w", c.File, err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ingestor := ingest.New(ingest.Config{
		Store:   st,
		Weights: eventWeights(cfg),
		Logger:  log,
	})

	ctx := context.Background()
	applied, dropped := 0, 0

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev graph.EngagementEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			dropped++
			log.Warn().Err(err).Msg("skipping malformed line")
			continue
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}

		if err := ingestor.Apply(ctx, ev); err != nil {
			dropped++
			log.Warn().Str("event_id", ev.ID).Err(err).Msg("skipping event")
			continue
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	color.Green("✓ Replay complete")
	fmt.Printf("  Applied:  %d\n", applied)
	fmt.Printf("  Dropped:  %d\n", dropped)
	return nil
}

// FeedCmd prints recommendations for a user or agent.
type FeedCmd struct {
	Requester string `arg:"" help:"Requester node ID (user:{key} or agent:{key})"`
	Limit     int    `short:"n" default:"10" help:"Maximum results"`
	Cursor    string `help:"Resume cursor from a previous page"`
}

// Run executes the feed command.
func (c *FeedCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	// Offline read: trending state lives in the serving process, so a CLI
	// feed against a cold store personalizes only from the graph.
	svc := newFeedService(st, rank.NewTrendTracker(cfg.Rank.TrendingWindow), cfg, log)

	page, err := svc.Feed(context.Background(), c.Requester, c.Limit, c.Cursor)
	if err != nil {
		return err
	}

	if len(page.Items) == 0 {
		fmt.Println("No recommendations found")
		return nil
	}

	fmt.Printf("Feed for %s (%s)\n", c.Requester, page.Source)
	for i, item := range page.Items {
		fmt.Printf("%3d. %s  score=%.4f\n", i+1, item.ID, item.Score)
	}
	if page.NextCursor != "" {
		fmt.Printf("\nNext cursor: %s\n", page.NextCursor)
	}
	return nil
}

// StatsCmd prints graph statistics.
type StatsCmd struct{}

// Run executes the stats command.
func (c *StatsCmd) Run(cli *CLI) error {
	cfg, _, err := cli.setup()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	fmt.Printf("Graph at %s\n", cfg.Store.Path)
	fmt.Printf("  Nodes:       %d\n", stats.Nodes)
	fmt.Printf("  Edges:       %d\n", stats.Edges)
	fmt.Printf("  Tombstones:  %d\n", stats.Tombstones)
	return nil
}

// SweepCmd runs one decay sweep and exits.
type SweepCmd struct{}

// Run executes the sweep command.
func (c *SweepCmd) Run(cli *CLI) error {
	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sweeper := reweight.New(st, reweight.Config{
		Factor:       cfg.Decay.Factor,
		Interval:     cfg.Decay.Interval,
		PruneEpsilon: cfg.Decay.PruneEpsilon,
	}, log)

	res := sweeper.SweepOnce(context.Background())

	color.Green("✓ Sweep complete")
	fmt.Printf("  Decayed:   %d\n", res.Decayed)
	fmt.Printf("  Pruned:    %d\n", res.Pruned)
	fmt.Printf("  Failures:  %d\n", res.Failures)
	fmt.Printf("  Duration:  %s\n", res.Elapsed.Round(time.Millisecond))
	return nil
}

// CleanCmd deletes the graph database.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(cli *CLI) error {
	cfg, _, err := cli.setup()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Store.Path); os.IsNotExist(err) {
		return fmt.Errorf("no graph found at %s, nothing to clean", cfg.Store.Path)
	}

	if !c.Force {
		fmt.Printf("Delete graph at %s? [y/N] ", cfg.Store.Path)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(cfg.Store.Path); err != nil {
		return fmt.Errorf("deleting graph: %w", err)
	}

	color.Green("Deleted %s", cfg.Store.Path)
	return nil
}

// Helper functions

func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func openStore(cfg *config.Config, readOnly bool) (store.GraphStore, error) {
	if cfg.Store.InMemory {
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenBadger(cfg.Store.Path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("opening graph at %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

func eventWeights(cfg *config.Config) ingest.Weights {
	return ingest.Weights{
		ViewWeight:     cfg.Ingest.ViewWeight,
		ViewCapSeconds: cfg.Ingest.ViewCapSeconds,
		LikeWeight:     cfg.Ingest.LikeWeight,
		CommentWeight:  cfg.Ingest.CommentWeight,
		ShareWeight:    cfg.Ingest.ShareWeight,
		SkipPenalty:    cfg.Ingest.SkipPenalty,
	}
}

func newFeedService(st store.GraphStore, trends *rank.TrendTracker, cfg *config.Config, log zerolog.Logger) *feed.Service {
	ranker := rank.New(st, rank.Config{
		SeedLimit:     cfg.Rank.SeedLimit,
		HopDecay:      cfg.Rank.HopDecay,
		SeenThreshold: cfg.Rank.SeenThreshold,
		RelaxCeiling:  cfg.Rank.RelaxCeiling,
		VisitBudget:   cfg.Rank.VisitBudget,
	}, log)
	return feed.New(st, ranker, trends, feed.Config{
		MaxPoolSize:   cfg.Rank.MaxPoolSize,
		TrendingLimit: cfg.Rank.MaxPoolSize,
	}, log)
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Config  string           `short:"c" help:"Path to config file"`
	Verbose bool             `short:"v" help:"Enable verbose output"`
	Quiet   bool             `short:"q" help:"Suppress non-essential output"`

	// Commands
	Serve  ServeCmd  `cmd:"" help:"Run the recommendation engine (ingestion, decay, HTTP API)"`
	Ingest IngestCmd `cmd:"" help:"Replay engagement events from a JSONL file"`
	Feed   FeedCmd   `cmd:"" help:"Print recommendations for a user or agent"`
	Stats  StatsCmd  `cmd:"" help:"Show graph statistics"`
	Sweep  SweepCmd  `cmd:"" help:"Run one decay sweep and exit"`
	Clean  CleanCmd  `cmd:"" help:"Delete the graph database"`
}

// setup loads configuration and builds the root logger per verbosity flags.
func (c *CLI) setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level := zerolog.InfoLevel
	switch {
	case c.Quiet:
		level = zerolog.ErrorLevel
	case c.Verbose:
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	return cfg, log, nil
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("lattice"),
		kong.Description("Self-evolving knowledge graph and recommendation engine for agent content"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Bind(c),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		var parseErr *kong.ParseError
		if errors.As(err, &parseErr) {
			_ = parseErr.Context.PrintUsage(false)
		}
		return err
	}
	return kongCtx.Run()
}
