package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"cove-indexer/internal/aggregator"
	"cove-indexer/internal/alerting"
	"cove-indexer/internal/amount"
	"cove-indexer/internal/chain"
	"cove-indexer/internal/entity"
	"cove-indexer/internal/event"
	"cove-indexer/internal/metrics"
	"cove-indexer/internal/scheduler"
	"cove-indexer/internal/storage"
)

// DefaultCheckpointID names the checkpoint when Options.Name is empty.
const DefaultCheckpointID = "cove"

// Publisher receives the entities written by each committed event.
type Publisher interface {
	Publish(ctx context.Context, eventID string, changes []entity.Entity) error
}

// Source yields decoded events from the chain.
type Source interface {
	Head(ctx context.Context) (uint64, error)
	Fetch(ctx context.Context, from, to uint64) ([]event.Envelope, error)
}

// Options tune the indexer.
type Options struct {
	Name        string
	StartBlock  uint64
	BatchSize   uint64
	LockKey     int64
	Environment string
}

// Dependencies are the collaborators wired by the application. Only Backend
// and Engine are required.
type Dependencies struct {
	Backend   storage.Backend
	Engine    *aggregator.Engine
	Source    Source
	Scheduler *scheduler.Scheduler
	Publisher Publisher
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
}

// Result describes the outcome of one processed event.
type Result struct {
	EventID string
	Skipped bool
	Changes []entity.Entity
}

// Service feeds events through the engine one at a time and commits each
// event's writes together with the checkpoint.
type Service struct {
	opts      Options
	backend   storage.Backend
	engine    *aggregator.Engine
	source    Source
	scheduler *scheduler.Scheduler
	publisher Publisher
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
}

// New constructs the indexer service.
func New(opts Options, deps Dependencies, logger zerolog.Logger) (*Service, error) {
	if deps.Backend == nil {
		return nil, errors.New("indexer: storage backend is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("indexer: engine is required")
	}
	if opts.Name == "" {
		opts.Name = DefaultCheckpointID
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 2000
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Backend.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:      opts,
		backend:   deps.Backend,
		engine:    deps.Engine,
		source:    deps.Source,
		scheduler: deps.Scheduler,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		locker:    locker,
		logger:    logger.With().Str("component", "indexer").Logger(),
	}, nil
}

// Checkpoint returns the last committed position, or nil before the first event.
func (s *Service) Checkpoint(ctx context.Context) (*entity.Checkpoint, error) {
	cp, found, err := storage.Load[entity.Checkpoint](ctx, storage.NewSession(s.backend), s.opts.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return cp, nil
}

// Process applies one event. Events at or below the checkpoint are skipped;
// a rejected event leaves the store untouched and is returned as an
// *aggregator.EventError.
func (s *Service) Process(ctx context.Context, env event.Envelope) (Result, error) {
	meta, err := env.Meta()
	if err != nil {
		return Result{}, fmt.Errorf("invalid event: %w", err)
	}
	eventID := meta.ID()
	result := Result{EventID: eventID}

	session := storage.NewSession(s.backend)
	cp, _, err := storage.LoadOrCreate[entity.Checkpoint](ctx, session, s.opts.Name, func(c *entity.Checkpoint) {
		c.ID = s.opts.Name
	})
	if err != nil {
		return result, s.fail(ctx, env, meta, &aggregator.EventError{EventID: eventID, Op: "checkpoint", Err: fmt.Errorf("%w: %w", aggregator.ErrStore, err)})
	}
	if cp.Covers(meta.BlockNumber, meta.LogIndex) {
		s.metrics.EventSkipped()
		s.logger.Debug().Str("event_id", eventID).Uint64("checkpoint_block", cp.BlockNumber).Msg("event already indexed")
		result.Skipped = true
		return result, nil
	}

	start := time.Now()
	pinned := chain.WithBlock(ctx, chain.Block{Number: meta.BlockNumber, Timestamp: meta.Timestamp})
	if err := s.engine.Apply(pinned, session, env); err != nil {
		return result, s.fail(ctx, env, meta, err)
	}

	cp.BlockNumber = meta.BlockNumber
	cp.LogIndex = meta.LogIndex
	cp.EventID = eventID
	session.Upsert(cp)

	changes, err := session.Commit(ctx)
	if err != nil {
		return result, s.fail(ctx, env, meta, &aggregator.EventError{EventID: eventID, Op: "commit", Err: fmt.Errorf("%w: %w", aggregator.ErrStore, err)})
	}

	published := make([]entity.Entity, 0, len(changes))
	for _, e := range changes {
		if e.EntityKind() != entity.KindCheckpoint {
			published = append(published, e)
		}
	}
	result.Changes = published

	if s.publisher != nil && len(published) > 0 {
		if err := s.publisher.Publish(ctx, eventID, published); err != nil {
			s.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to publish changes")
		}
	}

	s.metrics.EventProcessed(string(env.Type), meta.BlockNumber, len(changes), time.Since(start))
	s.logger.Info().
		Str("event_id", eventID).
		Str("event_type", string(env.Type)).
		Uint64("block", meta.BlockNumber).
		Str("tx_hash", meta.TxHash.Hex()).
		Int("writes", len(changes)).
		Msg("event indexed")
	return result, nil
}

func (s *Service) fail(ctx context.Context, env event.Envelope, meta event.Meta, err error) error {
	var evErr *aggregator.EventError
	if !errors.As(err, &evErr) {
		err = &aggregator.EventError{EventID: meta.ID(), Op: string(env.Type), Err: err}
	}
	reason := Reason(err)

	s.metrics.EventFailed(string(env.Type), reason)
	s.logger.Error().Err(err).
		Str("event_id", meta.ID()).
		Str("reason", reason).
		Uint64("block", meta.BlockNumber).
		Msg("event rejected")

	if s.notifier != nil {
		note := alerting.Notification{
			EventID:     meta.ID(),
			EventType:   string(env.Type),
			BlockNumber: meta.BlockNumber,
			Timestamp:   meta.Timestamp,
			Reason:      reason,
			Error:       err.Error(),
			Environment: s.opts.Environment,
		}
		if nerr := s.notifier.Notify(ctx, note); nerr != nil {
			s.logger.Error().Err(nerr).Str("event_id", meta.ID()).Msg("failed to dispatch alert")
		}
	}
	return err
}

// Reason maps an event failure onto a short label.
func Reason(err error) string {
	switch {
	case errors.Is(err, aggregator.ErrLookupFailed):
		return "lookup_failed"
	case errors.Is(err, aggregator.ErrUnclassifiedToken):
		return "unclassified_token"
	case errors.Is(err, aggregator.ErrDuplicateSwap):
		return "duplicate_swap"
	case errors.Is(err, amount.ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, aggregator.ErrStore):
		return "store"
	default:
		return "other"
	}
}

// ReplayStats summarise a replay run.
type ReplayStats struct {
	Processed int
	Skipped   int
	Failed    int
}

// Replay processes a JSONL event log in order. Events must be strictly
// ordered by (block, logIndex). Unless continueOnError is set the first
// rejected event stops the replay.
func (s *Service) Replay(ctx context.Context, r io.Reader, continueOnError bool) (ReplayStats, error) {
	var (
		stats    ReplayStats
		prev     event.Meta
		havePrev bool
	)

	err := event.NewReader(r).Each(ctx, func(env event.Envelope) error {
		meta, err := env.Meta()
		if err != nil {
			return err
		}
		if havePrev && !after(meta, prev) {
			return fmt.Errorf("event %s is out of order after %s", meta.ID(), prev.ID())
		}
		prev, havePrev = meta, true

		res, err := s.Process(ctx, env)
		switch {
		case err != nil:
			stats.Failed++
			if !continueOnError {
				return err
			}
		case res.Skipped:
			stats.Skipped++
		default:
			stats.Processed++
		}
		return nil
	})

	s.logger.Info().
		Int("processed", stats.Processed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("replay finished")
	return stats, err
}

func after(m, prev event.Meta) bool {
	if m.BlockNumber != prev.BlockNumber {
		return m.BlockNumber > prev.BlockNumber
	}
	return m.LogIndex > prev.LogIndex
}

// Run follows the chain on the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.source == nil {
		return fmt.Errorf("event source not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return s.Sync(ctx)
	})
}

// Sync indexes every confirmed block after the checkpoint. It holds the
// advisory lock for the duration when the backend provides one.
func (s *Service) Sync(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("event source not configured")
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip sync because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	head, err := s.source.Head(ctx)
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}
	s.metrics.ChainHead(head)

	cp, err := s.Checkpoint(ctx)
	if err != nil {
		return err
	}
	from := s.opts.StartBlock
	if cp != nil && cp.EventID != "" && cp.BlockNumber >= from {
		// the checkpoint block may hold events after the checkpoint
		from = cp.BlockNumber
	}

	for from <= head {
		to := from + s.opts.BatchSize - 1
		if to > head {
			to = head
		}
		envs, err := s.source.Fetch(ctx, from, to)
		if err != nil {
			return err
		}
		for _, env := range envs {
			if _, err := s.Process(ctx, env); err != nil {
				return err
			}
		}
		s.logger.Debug().Uint64("from", from).Uint64("to", to).Int("events", len(envs)).Msg("range synced")
		from = to + 1
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
