// Package scheduler keeps stored queue estimates fresh by recalculating
// every active shop on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qms/shop-queue/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Second
)

// Queue is the slice of the lifecycle manager a tick needs.
type Queue interface {
	ActiveShopIDs(ctx context.Context) ([]string, error)
	RecalculateShopQueue(ctx context.Context, shopID string) error
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	// Timeout bounds the work on a single shop.
	Timeout time.Duration
}

type Report struct {
	Shops     int `json:"shops"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Scheduler struct {
	cfg    Config
	queue  Queue
	logger logrus.FieldLogger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func New(cfg Config, queue Queue, logger logrus.FieldLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{cfg: cfg, queue: queue, logger: logger}
}

// Start schedules the periodic tick. Calling Start on a running scheduler
// does nothing. A tick still running when the next one is due is skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(s.logger)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.logger)),
	))
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), s.tick); err != nil {
		return fmt.Errorf("scheduler: schedule recalculation: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.WithField("interval", s.cfg.Interval.String()).Info("queue scheduler started")
	return nil
}

// Stop halts the periodic tick and waits for an in-flight tick until ctx
// is done. Stopping a stopped scheduler does nothing.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		s.logger.Info("queue scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) tick() {
	report, err := s.RunOnce(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("queue recalculation tick failed")
		return
	}
	if report.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"shops":  report.Shops,
			"failed": report.Failed,
		}).Warn("queue recalculation tick finished with failures")
	}
}

// RunOnce recalculates every active shop once. A failing shop is logged
// and counted; it never stops the others. The error is non-nil only when
// the active shops cannot be listed.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	ctx, span := otel.Tracer("qms/shop-queue/scheduler").Start(ctx, "scheduler.tick")
	defer span.End()
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	shopIDs, err := s.queue.ActiveShopIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active shops: %w", err)
	}
	span.SetAttributes(attribute.Int("scheduler.shops", len(shopIDs)))

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, shopID := range shopIDs {
		g.Go(func() error {
			if err := s.recalculate(gctx, shopID); err != nil {
				failed.Add(1)
				s.logger.WithField("shop_id", shopID).WithError(err).Error("queue recalculation failed")
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Shops:     len(shopIDs),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

func (s *Scheduler) recalculate(ctx context.Context, shopID string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("recalculation panic: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.queue.RecalculateShopQueue(ctx, shopID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s: %w", s.cfg.Timeout, err)
		}
		return err
	}
	return nil
}
