package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSchedulerInterval = time.Minute

	logEventJobFailed    = "scheduled_job_failed"
	logEventJobCompleted = "scheduled_job_completed"
	logFieldJob          = "job"
	logFieldAffected     = "affected"
	logFieldDuration     = "dur"
)

// Job is one unit of background work. Run reports how many records it changed.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// JobFunc adapts a plain function into a named Job.
type JobFunc struct {
	JobName string
	Fn      func(context.Context) (int, error)
}

func (job JobFunc) Name() string {
	return job.JobName
}

func (job JobFunc) Run(ctx context.Context) (int, error) {
	if job.Fn == nil {
		return 0, nil
	}
	return job.Fn(ctx)
}

// RunReport describes the most recent finished run of a job.
type RunReport struct {
	FinishedAt time.Time
	Duration   time.Duration
	Affected   int
	Err        error
}

// Scheduler runs a Job on a fixed interval and whenever Trigger is called.
type Scheduler struct {
	job      Job
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	trigger  chan struct{}

	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}

	reportMutex sync.Mutex
	lastReport  RunReport
	runCount    int
}

func NewScheduler(job Job, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		job:      job,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the run loop; a second Start before Stop is a no-op.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.job == nil {
		return
	}
	scheduler.controlMutex.Lock()
	defer scheduler.controlMutex.Unlock()
	if scheduler.cancel != nil {
		return
	}
	loopContext, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	scheduler.done = make(chan struct{})
	go scheduler.loop(loopContext, scheduler.done)
}

// Trigger requests an immediate run. Requests made while one is pending are coalesced.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-flight run to return.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel, done := scheduler.cancel, scheduler.done
	scheduler.cancel, scheduler.done = nil, nil
	scheduler.controlMutex.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LastReport returns the latest finished run and how many runs have finished.
func (scheduler *Scheduler) LastReport() (RunReport, int) {
	scheduler.reportMutex.Lock()
	defer scheduler.reportMutex.Unlock()
	return scheduler.lastReport, scheduler.runCount
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.runOnce(ctx)
			ticker.Reset(scheduler.interval)
		case <-ticker.C:
			scheduler.runOnce(ctx)
		}
	}
}

func (scheduler *Scheduler) runOnce(ctx context.Context) {
	startedAt := scheduler.now()
	affected, runErr := scheduler.job.Run(ctx)
	finishedAt := scheduler.now()
	if runErr != nil && ctx.Err() != nil {
		return
	}

	report := RunReport{
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
		Affected:   affected,
		Err:        runErr,
	}
	scheduler.reportMutex.Lock()
	scheduler.lastReport = report
	scheduler.runCount++
	scheduler.reportMutex.Unlock()

	fields := []zap.Field{
		zap.String(logFieldJob, scheduler.job.Name()),
		zap.Int(logFieldAffected, affected),
		zap.Duration(logFieldDuration, report.Duration),
	}
	if runErr != nil {
		scheduler.logger.Warn(logEventJobFailed, append(fields, zap.Error(runErr))...)
		return
	}
	scheduler.logger.Debug(logEventJobCompleted, fields...)
}
