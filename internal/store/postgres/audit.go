package postgres

import (
	"context"
	"errors"
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"

	"github.com/jackc/pgx/v5"
)

const auditColumns = `entry_id, shop_id, ticket_id, seq, from_status, to_status, actor, reason, occurred_at, prev_hash, hash`

func scanAudit(row pgx.Row) (models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	err := row.Scan(&entry.EntryID, &entry.ShopID, &entry.TicketID, &entry.Seq, &entry.FromStatus, &entry.ToStatus,
		&entry.Actor, &entry.Reason, &entry.OccurredAt, &entry.PrevHash, &entry.Hash)
	return entry, err
}

// AppendAudit chains entry onto the ticket's audit trail. The advisory lock
// keeps concurrent writers for one ticket from forking the chain.
func (s *Store) AppendAudit(ctx context.Context, entry models.AuditLogEntry) (_ models.AuditLogEntry, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AuditLogEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.TicketID); err != nil {
		return models.AuditLogEntry{}, err
	}
	last, err := scanAudit(tx.QueryRow(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE ticket_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.TicketID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.AuditLogEntry{}, err
	}

	// timestamptz keeps microseconds; hash what will be read back.
	entry.OccurredAt = entry.OccurredAt.UTC().Truncate(time.Microsecond)
	entry = store.ChainEntry(last, entry)
	if _, err = tx.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.EntryID, entry.ShopID, entry.TicketID, entry.Seq, entry.FromStatus, entry.ToStatus,
		entry.Actor, entry.Reason, entry.OccurredAt, entry.PrevHash, entry.Hash); err != nil {
		return models.AuditLogEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.AuditLogEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListAudit(ctx context.Context, ticketID string) ([]models.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE ticket_id = $1 ORDER BY seq`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entry.OccurredAt = entry.OccurredAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
