// Package app wires configuration, storage, the producer and the run queues
// into the operations exposed by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"flightdeck/internal/actions"
	"flightdeck/internal/agentexec"
	"flightdeck/internal/artifact"
	"flightdeck/internal/config"
	"flightdeck/internal/database"
	"flightdeck/internal/deck"
	"flightdeck/internal/delivery"
	"flightdeck/internal/fetch"
	"flightdeck/internal/skills"
)

const workerDrainTimeout = 30 * time.Second

// CooldownError reports a refresh refused by the cooldown gate.
type CooldownError struct {
	NextAllowed *time.Time
}

func (e *CooldownError) Error() string {
	when := "unknown"
	if e.NextAllowed != nil {
		when = e.NextAllowed.Format(time.RFC3339)
	}
	return "Refresh cooldown active until " + when
}

// Options overrides collaborators normally built from config. Zero values
// select the production implementation.
type Options struct {
	Logger  deck.Logger
	Clock   deck.Clock
	Fetcher deck.Fetcher
	Backend actions.Backend
	Sink    deck.ArtifactSink
}

// App is the application layer between the CLI/API and the deck pipeline.
// It constructs all dependencies from config and owns their lifecycle.
type App struct {
	cfg      *config.Config
	store    *database.SQLiteStore
	sink     deck.ArtifactSink
	producer *deck.Producer
	actions  *actions.Engine
	skills   *skills.Runner
	slack    *delivery.Slack
	logger   deck.Logger
	clock    deck.Clock
	logFile  *os.File

	refreshes     sync.WaitGroup
	workersOnce   sync.Once
	workersErr    error
	workersActive bool
	mu            sync.Mutex
}

// New creates a fully wired App from the given config, logging to
// <log_dir>/flightdeck.log and stderr. operation names the CLI command.
// The caller must call Close when done.
func New(cfg *config.Config, operation string, verbose bool) (*App, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := NewWithOptions(context.Background(), cfg, Options{
		Logger: &slogAdapter{l: logger.With("op", operation)},
	})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// NewWithOptions creates an App, using opts where set.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = deck.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = deck.RealClock{}
	}

	store, err := database.NewStoreFromConfig(cfg.Database, opts.Clock, nil)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	sink, key := opts.Sink, artifact.DefaultKey
	if sink == nil {
		sink, key, err = artifact.NewSinkFromConfig(ctx, cfg.Artifact)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating artifact sink: %w", err)
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewAgentFetcher(cfg, opts.Clock)
	}

	producer := deck.NewProducer(store, Normalizers(cfg), fetcher, sink, deck.ProducerConfig{
		ChatScope:     cfg.ChatScope(),
		RetentionDays: cfg.Refresh.RetentionDays,
		RunDays:       cfg.Refresh.RunDays,
		RunTime:       cfg.Refresh.RunTime,
		AllowEmpty:    cfg.Refresh.AllowEmpty,
		ArtifactKey:   key,
	}, opts.Clock, opts.Logger)

	backend := opts.Backend
	if backend == nil && cfg.Actions.OpenAIAPIKey != "" {
		backend = actions.NewOpenAIBackend(cfg.Actions.OpenAIAPIKey, cfg.Actions.OpenAIModel)
	}
	engine := actions.NewEngine(store, actions.Options{
		Backend: backend,
		Timeout: time.Duration(cfg.Actions.TimeoutSeconds) * time.Second,
		Clock:   opts.Clock,
		Logger:  opts.Logger,
	})

	runner := skills.NewRunner(store, skills.Options{
		ProjectRoot: cfg.Agent.ProjectRoot,
		Allowlist:   cfg.Skills.Allowlist,
		Agent: agentexec.Runner{
			Bin:     cfg.Agent.Bin,
			Timeout: time.Duration(cfg.Skills.TimeoutSeconds) * time.Second,
		},
		Logger: opts.Logger,
	})

	return &App{
		cfg:      cfg,
		store:    store,
		sink:     sink,
		producer: producer,
		actions:  engine,
		skills:   runner,
		slack:    delivery.NewSlack(),
		logger:   opts.Logger,
		clock:    opts.Clock,
	}, nil
}

// Normalizers builds the chat, calendar and email normalizers from cfg.
func Normalizers(cfg *config.Config) []deck.Normalizer {
	return []deck.Normalizer{
		deck.ChatNormalizer{
			Scope:         cfg.ChatScope(),
			LookbackHours: cfg.Chat.LookbackHours,
			Mentions:      cfg.Chat.Mentions,
		},
		deck.CalendarNormalizer{LookaheadHours: cfg.Calendar.LookaheadHours},
		deck.EmailNormalizer{LookbackHours: cfg.Email.LookbackHours, Mentions: cfg.Email.Mentions},
	}
}

func (a *App) Config() *config.Config       { return a.cfg }
func (a *App) Store() *database.SQLiteStore { return a.store }
func (a *App) Sink() deck.ArtifactSink      { return a.sink }
func (a *App) Actions() *actions.Engine     { return a.actions }
func (a *App) Skills() *skills.Runner       { return a.skills }
func (a *App) Logger() deck.Logger          { return a.logger }
func (a *App) Now() time.Time               { return a.clock.Now() }
func (a *App) Producer() *deck.Producer     { return a.producer }

// StartWorkers launches the action and skill queue workers.
func (a *App) StartWorkers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workersActive = true
	a.actions.Start()
	a.skills.Start()
}

// StopWorkers drains both run queues and stops their workers. Only the
// first call has an effect.
func (a *App) StopWorkers(ctx context.Context) error {
	a.workersOnce.Do(func() {
		a.workersErr = errors.Join(a.actions.Stop(ctx), a.skills.Stop(ctx))
	})
	return a.workersErr
}

// RequestRefresh claims the cooldown gate for kind and, when allowed, runs a
// fetch-backed ingestion cycle in the background. A refused claim is a
// *CooldownError.
func (a *App) RequestRefresh(kind string) error {
	ok, next, err := a.store.ClaimRefresh(kind, a.cfg.Cooldown())
	if err != nil {
		return fmt.Errorf("claiming refresh: %w", err)
	}
	if !ok {
		return &CooldownError{NextAllowed: next}
	}

	a.refreshes.Add(1)
	go func() {
		defer a.refreshes.Done()
		// Outcome is recorded as a refresh event by SafeProduce.
		_, _ = a.producer.SafeProduce(context.Background(), kind, nil)
	}()
	return nil
}

// Refresh runs one ingestion cycle in the foreground. A nil payload is
// fetched from the agent. Unless force is set the cooldown gate must allow it.
func (a *App) Refresh(ctx context.Context, kind string, payload *deck.Payload, force bool) (*deck.ProduceResult, error) {
	if force {
		if err := a.store.RecordRefreshEvent(kind, deck.RefreshQueued, "refresh forced"); err != nil {
			return nil, fmt.Errorf("recording refresh event: %w", err)
		}
	} else {
		ok, next, err := a.store.ClaimRefresh(kind, a.cfg.Cooldown())
		if err != nil {
			return nil, fmt.Errorf("claiming refresh: %w", err)
		}
		if !ok {
			return nil, &CooldownError{NextAllowed: next}
		}
	}
	return a.producer.SafeProduce(ctx, kind, payload)
}

// WaitForRefreshes blocks until background refreshes started by
// RequestRefresh have finished.
func (a *App) WaitForRefreshes() {
	a.refreshes.Wait()
}

// Board returns the latest snapshot (nil if none) and its board grouped by bucket.
func (a *App) Board() (*deck.Snapshot, map[deck.Bucket][]*deck.Task, error) {
	snap, err := a.store.GetLatestSnapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	var latestID *int64
	if snap != nil {
		latestID = &snap.ID
	}
	tasks, err := a.store.ListBoardTasks(latestID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing board tasks: %w", err)
	}
	return snap, deck.GroupTasks(tasks), nil
}

// Brief renders the markdown brief for the latest snapshot.
func (a *App) Brief() (string, error) {
	snap, err := a.store.GetLatestSnapshot()
	if err != nil {
		return "", fmt.Errorf("loading latest snapshot: %w", err)
	}
	var signals []deck.Signal
	if snap != nil {
		signals = snap.Signals
	}
	return deck.RenderBrief(signals, a.clock.Now(), a.cfg.Brief.MaxActions), nil
}

// PostBrief sends brief to the configured chat webhook.
func (a *App) PostBrief(ctx context.Context, brief string) error {
	if err := a.slack.PostBrief(ctx, a.cfg.Brief.SlackWebhookURL, brief); err != nil {
		return err
	}
	a.logger.Info("brief posted", "bytes", len(brief))
	return nil
}

// Cleanup applies the retention window immediately.
func (a *App) Cleanup() error {
	if err := a.store.CleanupOld(a.cfg.Refresh.RetentionDays); err != nil {
		return fmt.Errorf("cleaning up: %w", err)
	}
	a.logger.Info("retention cleanup finished", "retention_days", a.cfg.Refresh.RetentionDays)
	return nil
}

// HandleDroppedPayload is the fetch.PayloadHandler used by the watch command.
// It honors the cooldown gate; a refused claim is logged and skipped.
func (a *App) HandleDroppedPayload(ctx context.Context, path string, payload *deck.Payload) error {
	res, err := a.Refresh(ctx, deck.RefreshManual, payload, false)
	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		a.logger.Info("dropped payload skipped", "path", path, "reason", cooldown.Error())
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.Info("dropped payload ingested", "path", path, "snapshot_id", res.SnapshotID)
	return nil
}

// Close drains workers and background refreshes, then closes the store and log.
func (a *App) Close() error {
	var firstErr error

	a.mu.Lock()
	active := a.workersActive
	a.mu.Unlock()
	if active {
		ctx, cancel := context.WithTimeout(context.Background(), workerDrainTimeout)
		if err := a.StopWorkers(ctx); err != nil {
			firstErr = err
		}
		cancel()
	}

	a.refreshes.Wait()

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
