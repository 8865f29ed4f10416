// Package schedule runs the daily and monthly tasks and recovers runs missed while offline.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/robalyx/chatrank/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrTaskRunning is returned when a task of the same type is already running.
	ErrTaskRunning = errors.New("task is already running")
	// ErrUnknownTask is returned for task types that were never registered.
	ErrUnknownTask = errors.New("unknown task type")
	// ErrDuplicateTask is returned when a task type is registered twice.
	ErrDuplicateTask = errors.New("task type already registered")
	// ErrStopped is returned for runs requested after Stop.
	ErrStopped = errors.New("scheduler is stopped")
)

// TaskType identifies a scheduled task.
type TaskType string

const (
	TaskDaily   TaskType = "daily"
	TaskMonthly TaskType = "monthly"
)

// ParseTaskType parses "daily" or "monthly".
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TaskDaily, TaskMonthly:
		return TaskType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, s)
	}
}

// State is the execution state of a task type.
//
//go:generate go tool enumer -type=State -trimprefix=State
type State int32

const (
	StateIdle State = iota
	StateRunning
)

// Trigger describes why a task ran.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerCatchUp   Trigger = "catch-up"
	TriggerManual    Trigger = "manual"
)

// Run is passed to a task body.
type Run struct {
	Type TaskType
	// ScheduledAt is the fire time the run belongs to. Manual runs use the current time.
	ScheduledAt time.Time
	Trigger     Trigger
}

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context, run Run) error

// RunStore persists the last completion time of each task type.
type RunStore interface {
	LastRuns(ctx context.Context) (map[string]time.Time, error)
	MarkRun(ctx context.Context, taskType string, at time.Time) error
}

// task is a registered task and its runtime state.
type task struct {
	taskType TaskType
	rule     Rule
	body     TaskFunc
	state    atomic.Int32
	timer    *quartz.Timer
}

// Coordinator fires registered tasks on their rules and catches up on missed runs at startup.
type Coordinator struct {
	store   RunStore
	clock   quartz.Clock
	loc     *time.Location
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	tasks   map[TaskType]*task
	order   []TaskType
	stopped bool
	running sync.WaitGroup
}

// NewCoordinator creates a Coordinator without registered tasks.
func NewCoordinator(
	store RunStore, clock quartz.Clock, loc *time.Location, m *metrics.Metrics, logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		store:   store,
		clock:   clock,
		loc:     loc,
		metrics: m,
		logger:  logger.Named("schedule"),
		tasks:   make(map[TaskType]*task),
	}
}

// Register adds a task. Tasks are initialized and armed in registration order.
func (c *Coordinator) Register(taskType TaskType, rule Rule, body TaskFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tasks[taskType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, taskType)
	}

	c.tasks[taskType] = &task{taskType: taskType, rule: rule, body: body}
	c.order = append(c.order, taskType)

	return nil
}

// Initialize loads the task records and synchronously runs every task that
// missed its period while the process was down. Task types without a record
// are seeded with the current time instead.
func (c *Coordinator) Initialize(ctx context.Context) error {
	lastRuns, err := c.store.LastRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load task runs: %w", err)
	}

	now := c.clock.Now()

	for _, tk := range c.registered() {
		last, ok := lastRuns[string(tk.taskType)]
		if !ok {
			if err := c.store.MarkRun(ctx, string(tk.taskType), now); err != nil {
				c.logger.Warn("Failed to seed task run",
					zap.String("task", string(tk.taskType)),
					zap.Error(err))
			}

			continue
		}

		if !Missed(tk.taskType, last, now, c.loc) {
			continue
		}

		run := Run{
			Type:        tk.taskType,
			ScheduledAt: latestFire(tk.rule, last, now),
			Trigger:     TriggerCatchUp,
		}

		c.logger.Warn("Task missed while offline, running catch-up",
			zap.String("task", string(tk.taskType)),
			zap.Time("lastRun", last),
			zap.Time("scheduledAt", run.ScheduledAt))

		// Failures are logged by execute and retried on the next startup or fire
		_ = c.execute(ctx, tk, run)
	}

	return nil
}

// Start runs missed tasks and then arms a timer for every task.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	for _, tk := range c.registered() {
		c.arm(ctx, tk)
	}

	c.logger.Info("Scheduler started", zap.Int("tasks", len(c.order)))

	return nil
}

// Stop cancels all pending timers and waits for running tasks to return.
// Runs requested afterwards fail with ErrStopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true

	for _, tk := range c.tasks {
		if tk.timer != nil {
			tk.timer.Stop()
		}
	}
	c.mu.Unlock()

	c.running.Wait()
}

// RunTask runs a task immediately with the given trigger.
func (c *Coordinator) RunTask(ctx context.Context, taskType TaskType, trigger Trigger) error {
	tk, err := c.lookup(taskType)
	if err != nil {
		return err
	}

	return c.execute(ctx, tk, Run{Type: taskType, ScheduledAt: c.clock.Now(), Trigger: trigger})
}

// RunTest runs a task on demand with the same semantics as a scheduled run.
func (c *Coordinator) RunTest(ctx context.Context, taskType TaskType) error {
	return c.RunTask(ctx, taskType, TriggerManual)
}

// State returns the state of a task type.
func (c *Coordinator) State(taskType TaskType) State {
	tk, err := c.lookup(taskType)
	if err != nil {
		return StateIdle
	}

	return State(tk.state.Load())
}

// arm schedules the next fire of a task.
func (c *Coordinator) arm(ctx context.Context, tk *task) {
	now := c.clock.Now()
	next := tk.rule.Next(now)

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		return
	}

	timer := c.clock.AfterFunc(next.Sub(now), func() {
		c.fire(ctx, tk, next)
	}, "schedule", string(tk.taskType))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		timer.Stop()
		return
	}

	tk.timer = timer

	c.logger.Debug("Armed task",
		zap.String("task", string(tk.taskType)),
		zap.Time("next", next))
}

// fire runs a scheduled task and arms the following fire.
func (c *Coordinator) fire(ctx context.Context, tk *task, scheduledAt time.Time) {
	if ctx.Err() != nil {
		return
	}

	err := c.execute(ctx, tk, Run{Type: tk.taskType, ScheduledAt: scheduledAt, Trigger: TriggerScheduled})
	if errors.Is(err, ErrTaskRunning) {
		c.logger.Warn("Skipped fire of running task", zap.String("task", string(tk.taskType)))
	}

	c.arm(ctx, tk)
}

// execute runs the task body if no run of the same type is in progress and
// records the completion time on success.
func (c *Coordinator) execute(ctx context.Context, tk *task, run Run) error {
	// Runs are counted under mu so that Stop never misses one
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopped, tk.taskType)
	}
	c.running.Add(1)
	c.mu.Unlock()
	defer c.running.Done()

	if !tk.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		c.metrics.TaskRuns.WithLabelValues(string(tk.taskType), metrics.ResultSkipped).Inc()
		return fmt.Errorf("%w: %s", ErrTaskRunning, tk.taskType)
	}
	defer tk.state.Store(int32(StateIdle))

	start := c.clock.Now()

	c.logger.Info("Running task",
		zap.String("task", string(tk.taskType)),
		zap.String("trigger", string(run.Trigger)),
		zap.Time("scheduledAt", run.ScheduledAt))

	if err := tk.body(ctx, run); err != nil {
		c.metrics.TaskRuns.WithLabelValues(string(tk.taskType), metrics.ResultFailure).Inc()
		c.logger.Error("Task failed",
			zap.String("task", string(tk.taskType)),
			zap.String("trigger", string(run.Trigger)),
			zap.Error(err))

		return fmt.Errorf("task %s failed: %w", tk.taskType, err)
	}

	if err := c.store.MarkRun(ctx, string(tk.taskType), c.clock.Now()); err != nil {
		c.metrics.TaskRuns.WithLabelValues(string(tk.taskType), metrics.ResultFailure).Inc()
		c.logger.Error("Failed to record task run",
			zap.String("task", string(tk.taskType)),
			zap.Error(err))

		return fmt.Errorf("failed to record %s run: %w", tk.taskType, err)
	}

	c.metrics.TaskRuns.WithLabelValues(string(tk.taskType), metrics.ResultSuccess).Inc()
	c.logger.Info("Task completed",
		zap.String("task", string(tk.taskType)),
		zap.Duration("duration", c.clock.Since(start)))

	return nil
}

func (c *Coordinator) lookup(taskType TaskType) (*task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := c.tasks[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}

	return tk, nil
}

func (c *Coordinator) registered() []*task {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks := make([]*task, 0, len(c.order))
	for _, taskType := range c.order {
		tasks = append(tasks, c.tasks[taskType])
	}

	return tasks
}
