// Package queue owns the ticket lifecycle of every shop. Each mutation runs
// as one unit of work per shop: apply the transition, promote due
// appointments, recompact waiting positions, re-estimate and persist. Audit
// entries and snapshot publication follow the commit and never fail it.
package queue

import (
	"context"
	"time"

	"qms/shop-queue/internal/metrics"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/promoter"
	"qms/shop-queue/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const publishTimeout = 3 * time.Second

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Recorder receives one entry per committed status change.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditLogEntry)
}

// Publisher is told about the fresh state of a shop after every commit.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snapshot Snapshot) error
}

type Options struct {
	Clock      Clock
	Recorder   Recorder
	Promoter   promoter.Promoter
	Publishers []Publisher
	Logger     logrus.FieldLogger
}

type Manager struct {
	store      store.Store
	clock      Clock
	recorder   Recorder
	promoter   promoter.Promoter
	publishers []Publisher
	logger     logrus.FieldLogger
	tracer     trace.Tracer
}

func NewManager(st store.Store, options Options) *Manager {
	clock := options.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:      st,
		clock:      clock,
		recorder:   options.Recorder,
		promoter:   options.Promoter,
		publishers: options.Publishers,
		logger:     logger,
		tracer:     otel.Tracer("qms/shop-queue/queue"),
	}
}

// change is one status transition committed inside a unit of work.
type change struct {
	ticket models.Ticket
	from   string
	actor  string
	reason string
}

type unitFunc func(ctx context.Context, q store.Queries, now time.Time) ([]change, error)

// run executes fn and a queue refresh for shopID as one unit of work, then
// records and publishes the outcome. The returned map holds the shop's
// active tickets as persisted by the refresh.
func (m *Manager) run(ctx context.Context, action, shopID string, fn unitFunc) (map[string]models.Ticket, error) {
	ctx, span := m.tracer.Start(ctx, "queue."+action, trace.WithAttributes(attribute.String("shop.id", shopID)))
	defer span.End()

	now := m.clock.Now().UTC().Truncate(time.Microsecond)
	var (
		changes []change
		active  map[string]models.Ticket
	)
	err := m.store.InShop(ctx, shopID, func(ctx context.Context, q store.Queries) error {
		applied, err := fn(ctx, q, now)
		if err != nil {
			return err
		}
		state, err := m.refresh(ctx, q, shopID, now)
		if err != nil {
			return err
		}
		changes = append(applied, state.promoted...)
		active = state.tickets
		return nil
	})
	metrics.RecordTransition(action, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("queue.changes", len(changes)))

	m.record(ctx, shopID, now, changes)
	m.publish(ctx, shopID)
	return active, nil
}

func (m *Manager) record(ctx context.Context, shopID string, now time.Time, changes []change) {
	if m.recorder == nil {
		return
	}
	for _, c := range changes {
		m.recorder.Record(ctx, models.AuditLogEntry{
			ShopID:     shopID,
			TicketID:   c.ticket.TicketID,
			FromStatus: c.from,
			ToStatus:   c.ticket.Status,
			Actor:      c.actor,
			Reason:     c.reason,
			OccurredAt: now,
		})
	}
}

func (m *Manager) publish(ctx context.Context, shopID string) {
	if len(m.publishers) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	snapshot, err := m.GetQueueSnapshot(pubCtx, shopID)
	if err != nil {
		m.logger.WithField("shop_id", shopID).WithError(err).Warn("build queue snapshot failed")
		return
	}
	for _, p := range m.publishers {
		if err := p.Publish(pubCtx, snapshot); err != nil {
			metrics.RecordPublishFailure(p.Name())
			m.logger.WithFields(logrus.Fields{
				"shop_id":   shopID,
				"publisher": p.Name(),
			}).WithError(err).Warn("publish queue snapshot failed")
		}
	}
}
