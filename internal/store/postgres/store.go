package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const barberServingIndex = "tickets_barber_serving_idx"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// queries implements store.Queries over either the pool or a transaction.
type queries struct {
	db querier
}

type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// InShop locks the shop row for the lifetime of a transaction, so units of
// work on the same shop queue up behind each other across instances.
func (s *Store) InShop(ctx context.Context, shopID string, fn func(ctx context.Context, q store.Queries) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	if err = tx.QueryRow(ctx, `SELECT shop_id FROM shops WHERE shop_id = $1 FOR UPDATE`, shopID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrShopNotFound
		}
		return err
	}
	if err = fn(ctx, queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// View reads inside a read-only repeatable-read transaction.
func (s *Store) View(ctx context.Context, shopID string, fn func(ctx context.Context, q store.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var found string
	if err := tx.QueryRow(ctx, `SELECT shop_id FROM shops WHERE shop_id = $1`, shopID).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrShopNotFound
		}
		return err
	}
	if err := fn(ctx, queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ActiveShopIDs(ctx context.Context, pendingBefore time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT shop_id
		FROM tickets
		WHERE status IN ('waiting', 'in_progress')
			OR (status = 'pending' AND (scheduled_for IS NULL OR scheduled_for <= $1))
		ORDER BY shop_id
	`, pendingBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q queries) GetShop(ctx context.Context, shopID string) (models.Shop, error) {
	var shop models.Shop
	err := q.db.QueryRow(ctx, `
		SELECT shop_id, slug, name, timezone, active, created_at
		FROM shops
		WHERE shop_id = $1
	`, shopID).Scan(&shop.ShopID, &shop.Slug, &shop.Name, &shop.Timezone, &shop.Active, &shop.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Shop{}, store.ErrShopNotFound
	}
	return shop, err
}

const barberColumns = `barber_id, shop_id, name, is_active, is_present, updated_at`

func scanBarber(row pgx.Row) (models.Barber, error) {
	var barber models.Barber
	err := row.Scan(&barber.BarberID, &barber.ShopID, &barber.Name, &barber.IsActive, &barber.IsPresent, &barber.UpdatedAt)
	return barber, err
}

func (q queries) GetBarber(ctx context.Context, barberID string) (models.Barber, error) {
	barber, err := scanBarber(q.db.QueryRow(ctx, `SELECT `+barberColumns+` FROM barbers WHERE barber_id = $1`, barberID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Barber{}, store.ErrBarberNotFound
	}
	return barber, err
}

func (q queries) ListBarbers(ctx context.Context, shopID string) ([]models.Barber, error) {
	rows, err := q.db.Query(ctx, `SELECT `+barberColumns+` FROM barbers WHERE shop_id = $1 ORDER BY barber_id`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var barbers []models.Barber
	for rows.Next() {
		barber, err := scanBarber(rows)
		if err != nil {
			return nil, err
		}
		barbers = append(barbers, barber)
	}
	return barbers, rows.Err()
}

func (q queries) UpdateBarber(ctx context.Context, barber models.Barber) (models.Barber, error) {
	updated, err := scanBarber(q.db.QueryRow(ctx, `
		UPDATE barbers
		SET name = $2, is_active = $3, is_present = $4, updated_at = $5
		WHERE barber_id = $1
		RETURNING `+barberColumns, barber.BarberID, barber.Name, barber.IsActive, barber.IsPresent, barber.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Barber{}, store.ErrBarberNotFound
	}
	return updated, err
}

const serviceColumns = `service_id, shop_id, name, code, duration_minutes, active`

func scanService(row pgx.Row) (models.Service, error) {
	var service models.Service
	err := row.Scan(&service.ServiceID, &service.ShopID, &service.Name, &service.Code, &service.Duration, &service.Active)
	return service, err
}

func (q queries) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	service, err := scanService(q.db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE service_id = $1`, serviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, err
}

func (q queries) ListServices(ctx context.Context, shopID string) ([]models.Service, error) {
	rows, err := q.db.Query(ctx, `SELECT `+serviceColumns+` FROM services WHERE shop_id = $1 ORDER BY service_id`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

func (q queries) NextTicketNumber(ctx context.Context, shopID, serviceID string) (int64, error) {
	var next int64
	row := q.db.QueryRow(ctx, `
		INSERT INTO ticket_sequences (shop_id, service_id, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (shop_id, service_id)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, shopID, serviceID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (q queries) SaveQueueState(ctx context.Context, shopID string, updates []store.QueueUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, update := range updates {
		batch.Queue(`
			UPDATE tickets
			SET position = $3, estimated_wait_minutes = $4
			WHERE ticket_id = $1 AND shop_id = $2 AND status IN ('pending', 'waiting', 'in_progress')
		`, update.TicketID, shopID, update.Position, update.EstimatedWaitTime)
	}
	results := q.db.SendBatch(ctx, batch)
	for range updates {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func nullIfZero(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
