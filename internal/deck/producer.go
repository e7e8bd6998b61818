package deck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/pretty"
)

const (
	refreshMessageLimit = 400
	topChannelCount     = 12
	snapshotStatusReady = "ready"
)

// ProducerConfig carries the knobs an ingestion cycle needs.
type ProducerConfig struct {
	ChatScope     ChatScope
	RetentionDays int
	RunDays       []string
	RunTime       string
	// AllowEmpty accepts payloads with no records at all.
	AllowEmpty bool
	// ArtifactKey names the mirrored snapshot document in the sink.
	ArtifactKey string
}

// ProduceResult summarizes a completed ingestion cycle.
type ProduceResult struct {
	SnapshotID   int64          `json:"snapshot_id"`
	CreatedAt    time.Time      `json:"created_at"`
	SourceCounts map[string]int `json:"source_counts"`
	SignalCount  int            `json:"signal_count"`
	TaskCount    int            `json:"task_count"`
	RawCounts    map[string]int `json:"raw_counts"`
	FetchMode    string         `json:"fetch_mode"`
}

// Producer runs ingestion cycles: normalize, score, persist, derive tasks.
type Producer struct {
	store       Store
	normalizers []Normalizer
	fetcher     Fetcher
	sink        ArtifactSink
	cfg         ProducerConfig
	clock       Clock
	logger      Logger
}

// NewProducer creates a Producer. fetcher and sink may be nil; without a
// fetcher every cycle needs an explicit payload, and without a sink no
// artifact is written.
func NewProducer(store Store, normalizers []Normalizer, fetcher Fetcher, sink ArtifactSink, cfg ProducerConfig, clock Clock, logger Logger) *Producer {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if cfg.ArtifactKey == "" {
		cfg.ArtifactKey = "latest_snapshot.json"
	}
	return &Producer{
		store:       store,
		normalizers: normalizers,
		fetcher:     fetcher,
		sink:        sink,
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
	}
}

// SafeProduce runs Produce and records the outcome as a refresh event.
// Failures are recorded with a truncated message and returned.
func (p *Producer) SafeProduce(ctx context.Context, source string, payload *Payload) (*ProduceResult, error) {
	result, err := p.Produce(ctx, source, payload)
	if err != nil {
		msg := Truncate(strings.TrimSpace(err.Error()), refreshMessageLimit)
		if recErr := p.store.RecordRefreshEvent(source, RefreshFailed, msg); recErr != nil {
			p.logger.Error("recording failed refresh", "error", recErr)
		}
		p.logger.Error("snapshot refresh failed", "source", source, "error", err)
		return nil, err
	}
	if err := p.store.RecordRefreshEvent(source, RefreshSuccess, fmt.Sprintf("snapshot:%d", result.SnapshotID)); err != nil {
		return result, fmt.Errorf("recording refresh event: %w", err)
	}
	return result, nil
}

// Produce runs one ingestion cycle. When payload is nil it is obtained from
// the fetcher. Guard violations abort the cycle before any store write.
func (p *Producer) Produce(ctx context.Context, source string, payload *Payload) (*ProduceResult, error) {
	if payload == nil {
		if p.fetcher == nil {
			return nil, errors.New("no payload given and no fetcher configured")
		}
		fetched, err := p.fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		payload = fetched
	}
	if err := CheckNotSynthetic(payload); err != nil {
		return nil, err
	}
	if err := CheckNotEmpty(payload, p.cfg.AllowEmpty); err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	rawCounts := payload.RawCounts()
	channelStats := ChatChannelStats(payload.Chat, p.cfg.ChatScope, topChannelCount)
	inScope := payload.RawCounts()
	inScope[string(SourceChat)] = channelStats.InScopeCount

	ranked := ScoreAndSort(NormalizeAll(p.normalizers, payload, now))
	counts := SourceCounts(ranked)

	drafts := DeriveTasks(ranked, now)
	snapshotID, err := p.store.PublishSnapshot(SnapshotInput{
		Signals:      ranked,
		SourceCounts: counts,
		Source:       source,
		Status:       snapshotStatusReady,
		CreatedAt:    now,
		Metadata: SnapshotMetadata{
			FetchMode:        payload.FetchMode,
			RawCounts:        rawCounts,
			InScopeRawCounts: inScope,
			ActionableCounts: counts,
			Diagnostics:      payload.Diagnostics,
			ChatChannelStats: &channelStats,
			Schedule:         &Schedule{RunDays: p.cfg.RunDays, RunTime: p.cfg.RunTime},
		},
	}, drafts)
	if err != nil {
		return nil, fmt.Errorf("publishing snapshot: %w", err)
	}
	if p.cfg.RetentionDays > 0 {
		if err := p.store.CleanupOld(p.cfg.RetentionDays); err != nil {
			return nil, fmt.Errorf("cleaning up old records: %w", err)
		}
	}

	if err := p.writeArtifact(ctx, snapshotID, now, counts, ranked); err != nil {
		p.logger.Warn("writing snapshot artifact", "snapshot_id", snapshotID, "error", err)
	}

	p.logger.Info("snapshot produced",
		"snapshot_id", snapshotID,
		"source", source,
		"signals", len(ranked),
		"tasks", len(drafts),
		"fetch_mode", payload.FetchMode,
	)

	return &ProduceResult{
		SnapshotID:   snapshotID,
		CreatedAt:    now,
		SourceCounts: counts,
		SignalCount:  len(ranked),
		TaskCount:    len(drafts),
		RawCounts:    rawCounts,
		FetchMode:    payload.FetchMode,
	}, nil
}

// SnapshotArtifact is the mirrored JSON document written after each cycle.
type SnapshotArtifact struct {
	SnapshotID   int64          `json:"snapshot_id"`
	CreatedAt    time.Time      `json:"created_at"`
	SourceCounts map[string]int `json:"source_counts"`
	Signals      []Signal       `json:"signals"`
}

func (p *Producer) writeArtifact(ctx context.Context, id int64, createdAt time.Time, counts map[string]int, signals []Signal) error {
	if p.sink == nil {
		return nil
	}
	data, err := json.Marshal(SnapshotArtifact{
		SnapshotID:   id,
		CreatedAt:    createdAt,
		SourceCounts: counts,
		Signals:      signals,
	})
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	data = pretty.Pretty(data)
	return p.sink.Put(ctx, p.cfg.ArtifactKey, bytes.NewReader(data), int64(len(data)))
}
