package personalize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridcore/core/internal/model"
)

// EventSource yields batches of activity events awaiting adapter training,
// grouped by (user_id, adapter_name). A real deployment backs this with a
// queue consumer; tests use an in-memory slice.
type EventSource interface {
	PendingBatches(ctx context.Context) (map[UserAdapterKey][]model.ActivityEvent, error)
}

// UserAdapterKey identifies one adapter's training queue.
type UserAdapterKey struct {
	UserID      string
	AdapterName string
}

// TrainingScheduler periodically drains pending activity events and applies
// one Update step per (user_id, adapter_name) pair, persisting the result.
// Start/Stop are mutex-guarded, the run loop is ticker-driven, and each
// sweep runs under panic recovery so one bad batch cannot kill the
// scheduler goroutine.
type TrainingScheduler struct {
	interval  time.Duration
	store     *AdapterStore
	source    EventSource
	embedFn   ContentEmbedFn
	rank      int
	inputDim  int
	outputDim int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	log *slog.Logger
}

// NewTrainingScheduler builds a scheduler. interval<=0 defaults to one hour.
func NewTrainingScheduler(store *AdapterStore, source EventSource, embedFn ContentEmbedFn, rank, inputDim, outputDim int, interval time.Duration, log *slog.Logger) *TrainingScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &TrainingScheduler{
		interval:  interval,
		store:     store,
		source:    source,
		embedFn:   embedFn,
		rank:      rank,
		inputDim:  inputDim,
		outputDim: outputDim,
		log:       log,
	}
}

// Start begins the background training sweep. Idempotent: calling Start on
// an already-running scheduler is a no-op.
func (s *TrainingScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.run(s.stopCh)
	s.log.Info("adapter_training_scheduler_started", slog.Duration("interval", s.interval))
}

// Stop signals the run loop to exit. Idempotent.
func (s *TrainingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

func (s *TrainingScheduler) run(stopCh chan struct{}) {
	defer s.recoverPanic("scheduler_goroutine")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-stopCh:
			return
		}
	}
}

func (s *TrainingScheduler) safeSweep() {
	defer s.recoverPanic("training_sweep")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.Sweep(ctx); err != nil {
		s.log.Error("adapter_training_sweep_failed", slog.Any("error", err))
	}
}

func (s *TrainingScheduler) recoverPanic(stage string) {
	if r := recover(); r != nil {
		s.log.Error("adapter_training_scheduler_panic", slog.String("stage", stage), slog.Any("panic", r))
		// A recovered sweep panic leaves the run loop alive, so only a panic
		// that ends the goroutine marks the scheduler as stopped.
		if stage == "scheduler_goroutine" {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}
}

// Sweep drains one round of pending batches and applies a training step to
// each (user_id, adapter_name) pair, saving the mutated adapter. Errors on
// individual pairs are logged and do not abort the sweep — one user's bad
// batch must not starve training for everyone else.
func (s *TrainingScheduler) Sweep(ctx context.Context) error {
	batches, err := s.source.PendingBatches(ctx)
	if err != nil {
		return err
	}

	for key, events := range batches {
		if len(events) == 0 {
			continue
		}
		adapter, _, err := s.store.LoadOrDefault(ctx, key.UserID, key.AdapterName, s.rank, s.inputDim, s.outputDim)
		if err != nil {
			s.log.Warn("adapter_training_load_failed", slog.String("user_id", key.UserID), slog.Any("error", err))
			continue
		}

		// No preference vector tracking in this scheduler stub; use the
		// zero vector as the target baseline, letting signed affinity
		// alone drive the update direction.
		preferenceVec := make([]float32, adapter.OutputDim)
		updated := Update(adapter, events, s.embedFn, preferenceVec)

		if _, err := s.store.Save(ctx, updated); err != nil {
			s.log.Warn("adapter_training_save_failed", slog.String("user_id", key.UserID), slog.Any("error", err))
		}
	}
	return nil
}
