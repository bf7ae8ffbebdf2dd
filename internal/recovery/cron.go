package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval — период запуска Sweep.
const DefaultInterval = 60 * time.Second

// cronParser — стандартные поля cron плюс дескрипторы (@every, @hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// EverySpec возвращает расписание "@every <interval>".
func EverySpec(interval time.Duration) string {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return fmt.Sprintf("@every %s", interval)
}

// ValidateSchedule проверяет cron-выражение или дескриптор.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", spec, err)
	}
	return nil
}

// Runner запускает Sweep по расписанию.
//
// Проходы могут перекрываться (медленный проход + новый тик):
// от двойной компенсации защищают проверки статуса в оркестраторе.
type Runner struct {
	sweeper *Sweeper
	spec    string
	timeout time.Duration
	logger  *slog.Logger
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	// Schedule — cron-выражение или дескриптор (default: @every 60s).
	Schedule string

	// Timeout — лимит одного прохода (default: без лимита).
	Timeout time.Duration

	Logger *slog.Logger
}

// NewRunner создаёт Runner и проверяет расписание.
func NewRunner(sweeper *Sweeper, cfg RunnerConfig) (*Runner, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = EverySpec(DefaultInterval)
	}
	if err := ValidateSchedule(spec); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		sweeper: sweeper,
		spec:    spec,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Run блокируется до отмены ctx.
// После отмены ждёт завершения текущих проходов.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(r.spec, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule recovery sweep: %w", err)
	}

	r.logger.Info("recovery runner started", "schedule", r.spec)
	c.Start()

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	r.logger.Info("recovery runner stopped")
	return nil
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if _, err := r.sweeper.Sweep(ctx); err != nil {
		r.logger.Error("recovery sweep failed", "error", err)
	}
}
