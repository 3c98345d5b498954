package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/farid/orbit/pkg/cron"
	"github.com/farid/orbit/pkg/events"
)

// pendingSwap holds a reload that arrived while the agent was executing.
// It is applied when the in-flight run finishes.
type pendingSwap struct {
	meta     Metadata
	instance Instance
}

type agentState struct {
	meta     Metadata
	instance Instance
	running  bool
	pending  *pendingSwap
}

// Scheduler owns the agent registry and the per-minute tick loop. A tick
// that fires while the same agent's previous run is still in flight is
// dropped, not queued.
type Scheduler struct {
	mu       sync.Mutex
	agents   map[string]*agentState
	bus      *events.Bus
	loader   Loader
	recorder RunRecorder
	observer Observer
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// Options configures optional scheduler collaborators.
type Options struct {
	Loader   Loader
	Recorder RunRecorder
	Observer Observer
	Now      func() time.Time
}

// New creates a scheduler publishing lifecycle events on bus.
func New(bus *events.Bus, logger zerolog.Logger, opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		agents:   make(map[string]*agentState),
		bus:      bus,
		loader:   opts.Loader,
		recorder: opts.Recorder,
		observer: opts.Observer,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		done:     make(chan struct{}),
		now:      now,
	}
}

// Register adds an agent keyed by its file path. An invalid schedule is kept
// but logged; a malformed expression never matches, so the agent simply
// never fires on cron.
func (s *Scheduler) Register(meta Metadata, instance Instance) error {
	if meta.FilePath == "" {
		return fmt.Errorf("agent %s: file path is required", meta.Name)
	}
	if instance == nil {
		return fmt.Errorf("agent %s: instance is required", meta.Name)
	}
	if meta.Schedule != "" {
		if v := cron.Validate(meta.Schedule); !v.Valid {
			s.logger.Warn().
				Str("agent", meta.Name).
				Str("schedule", meta.Schedule).
				Strs("errors", v.Errors).
				Msg("Agent schedule is invalid and will never fire")
		}
	}

	s.mu.Lock()
	s.agents[meta.FilePath] = &agentState{meta: meta, instance: instance}
	s.mu.Unlock()

	s.logger.Info().
		Str("agent", meta.Name).
		Str("path", meta.FilePath).
		Str("schedule", meta.Schedule).
		Msg("Agent registered")
	s.bus.Emit(events.TopicScheduleUpdated, meta)
	return nil
}

// Deregister removes an agent.
func (s *Scheduler) Deregister(filePath string) {
	s.mu.Lock()
	st, ok := s.agents[filePath]
	delete(s.agents, filePath)
	s.mu.Unlock()

	if ok {
		s.logger.Info().Str("agent", st.meta.Name).Msg("Agent deregistered")
		s.bus.Emit(events.TopicScheduleUpdated, st.meta)
	}
}

// Agents returns a snapshot of registered agent metadata.
func (s *Scheduler) Agents() []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas := make([]Metadata, 0, len(s.agents))
	for _, st := range s.agents {
		metas = append(metas, st.meta)
	}
	return metas
}

// Reload swaps the instance behind filePath for a fresh one, adopting the
// new metadata's triggers. If the agent is mid-execute the swap is deferred
// until that run completes; a second reload before then replaces the
// pending one.
func (s *Scheduler) Reload(meta Metadata, instance Instance) error {
	if meta.FilePath == "" {
		return fmt.Errorf("agent %s: file path is required", meta.Name)
	}

	s.mu.Lock()
	st, ok := s.agents[meta.FilePath]
	if !ok {
		s.mu.Unlock()
		return s.Register(meta, instance)
	}
	if st.running {
		st.pending = &pendingSwap{meta: meta, instance: instance}
		s.mu.Unlock()
		s.logger.Info().
			Str("agent", meta.Name).
			Msg("Agent busy, reload deferred until current run completes")
		return nil
	}
	scheduleChanged := st.meta.Schedule != meta.Schedule
	st.meta = meta
	st.instance = instance
	s.mu.Unlock()

	s.logger.Info().Str("agent", meta.Name).Str("path", meta.FilePath).Msg("Agent reloaded")
	s.bus.Emit(events.TopicAgentReloaded, meta)
	if scheduleChanged {
		s.bus.Emit(events.TopicScheduleUpdated, meta)
	}
	return nil
}

// ReloadFromFile re-parses an agent file through the loader and swaps the
// instance. Requires a loader.
func (s *Scheduler) ReloadFromFile(ctx context.Context, path string) error {
	if s.loader == nil {
		return fmt.Errorf("no loader configured")
	}
	meta, instance, err := s.loader.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to reload agent from %s: %w", path, err)
	}
	return s.Reload(meta, instance)
}

// Start launches the tick loop. The first tick is aligned to the next
// wall-clock minute.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		next := s.now().Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(time.Until(next))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}

		s.Tick(ctx, s.now())

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case at := <-ticker.C:
				s.Tick(ctx, at)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info().Msg("Scheduler started")
}

// Stop halts the tick loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Tick evaluates every agent's cron expression against at and executes the
// matches. Exposed so tests can drive time directly.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) {
	s.mu.Lock()
	due := make([]*agentState, 0)
	for _, st := range s.agents {
		if st.meta.Schedule != "" && cron.Matches(st.meta.Schedule, at) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	for _, st := range due {
		s.execute(ctx, st, TriggerCron)
	}
}

// Execute triggers an agent by file path outside its schedule.
func (s *Scheduler) Execute(ctx context.Context, filePath string) error {
	s.mu.Lock()
	st, ok := s.agents[filePath]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent not found: %s", filePath)
	}
	s.execute(ctx, st, TriggerManual)
	return nil
}

// execute runs an agent unless a previous run is still in flight, in which
// case the trigger is dropped and recorded as skipped.
func (s *Scheduler) execute(ctx context.Context, st *agentState, trigger string) {
	s.mu.Lock()
	if st.running {
		meta := st.meta
		s.mu.Unlock()
		s.logger.Warn().
			Str("agent", meta.Name).
			Str("trigger", trigger).
			Msg("Agent still running, dropping trigger")
		s.record(Run{
			ID:        uuid.NewString(),
			Agent:     meta.Name,
			Trigger:   trigger,
			Status:    StatusSkipped,
			StartedAt: s.now(),
		})
		return
	}
	st.running = true
	meta := st.meta
	instance := st.instance
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(st)

		run := Run{
			ID:        uuid.NewString(),
			Agent:     meta.Name,
			Trigger:   trigger,
			StartedAt: s.now(),
		}
		s.logger.Info().
			Str("agent", meta.Name).
			Str("run_id", run.ID).
			Str("trigger", trigger).
			Msg("Agent run started")

		err := instance.Execute(ctx)
		run.Duration = s.now().Sub(run.StartedAt)
		if err != nil {
			run.Status = StatusError
			run.Error = err.Error()
			s.logger.Error().
				Err(err).
				Str("agent", meta.Name).
				Str("run_id", run.ID).
				Msg("Agent run failed")
		} else {
			run.Status = StatusOK
			s.logger.Info().
				Str("agent", meta.Name).
				Str("run_id", run.ID).
				Dur("duration", run.Duration).
				Msg("Agent run completed")
		}
		s.record(run)
	}()
}

// finish clears the busy flag and applies any reload that arrived while the
// run was in flight.
func (s *Scheduler) finish(st *agentState) {
	s.mu.Lock()
	st.running = false
	pending := st.pending
	st.pending = nil
	if pending != nil {
		st.meta = pending.meta
		st.instance = pending.instance
	}
	s.mu.Unlock()

	if pending != nil {
		s.logger.Info().Str("agent", pending.meta.Name).Msg("Deferred reload applied")
		s.bus.Emit(events.TopicAgentReloaded, pending.meta)
		s.bus.Emit(events.TopicScheduleUpdated, pending.meta)
	}
}

// HandleFileEvent routes a file system event. A change to an agent's own
// source file triggers a hot reload; a change matching an agent's watch
// globs invokes OnFileChange.
func (s *Scheduler) HandleFileEvent(ctx context.Context, path string, event string) {
	s.mu.Lock()
	var owner *agentState
	watchers := make([]*agentState, 0)
	for _, st := range s.agents {
		if st.meta.FilePath == path {
			owner = st
			continue
		}
		for _, pattern := range st.meta.Watch {
			if matched, err := filepath.Match(pattern, path); err == nil && matched {
				watchers = append(watchers, st)
				break
			}
			if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
				watchers = append(watchers, st)
				break
			}
		}
	}
	s.mu.Unlock()

	if owner != nil {
		s.bus.Emit(events.TopicAgentFileUpdated, map[string]interface{}{
			"path":  path,
			"event": event,
		})
		if err := s.ReloadFromFile(ctx, path); err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("Hot reload failed, keeping previous instance")
		}
	}

	for _, st := range watchers {
		st := st
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := st.instance.OnFileChange(ctx, path, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("agent", st.meta.Name).
					Str("path", path).
					Msg("Agent file change handler failed")
			}
		}()
	}
}

// DispatchWebhook finds the agent bound to the webhook path and invokes its
// handler synchronously.
func (s *Scheduler) DispatchWebhook(ctx context.Context, path string, payload map[string]interface{}) (interface{}, error) {
	s.mu.Lock()
	var target *agentState
	for _, st := range s.agents {
		if st.meta.Webhook != "" && st.meta.Webhook == path {
			target = st
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("no agent bound to webhook %s", path)
	}
	return target.instance.OnWebhook(ctx, payload)
}

func (s *Scheduler) record(run Run) {
	if s.observer != nil {
		s.observer.AgentRun(run.Agent, run.Status)
	}
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRun(run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run")
	}
}
