package store

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"qms/shop-queue/internal/models"
)

var ErrBrokenChain = errors.New("audit chain broken")

func ComputeEntryHash(prevHash string, entry models.AuditLogEntry) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s|%s",
		prevHash, entry.ShopID, entry.TicketID, entry.Seq, entry.FromStatus, entry.ToStatus,
		entry.Actor, entry.Reason, entry.OccurredAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// ChainEntry fills Seq, PrevHash and Hash of entry so that it follows last.
// A zero last starts a new chain.
func ChainEntry(last models.AuditLogEntry, entry models.AuditLogEntry) models.AuditLogEntry {
	entry.Seq = last.Seq + 1
	entry.PrevHash = last.Hash
	entry.Hash = ComputeEntryHash(entry.PrevHash, entry)
	return entry
}

// VerifyChain checks entries of one ticket, ordered by Seq.
func VerifyChain(entries []models.AuditLogEntry) error {
	prev := ""
	for i, entry := range entries {
		if entry.Seq != i+1 {
			return fmt.Errorf("%w: entry %d has seq %d", ErrBrokenChain, i, entry.Seq)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: entry %d prev hash mismatch", ErrBrokenChain, entry.Seq)
		}
		if ComputeEntryHash(prev, entry) != entry.Hash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrBrokenChain, entry.Seq)
		}
		prev = entry.Hash
	}
	return nil
}
