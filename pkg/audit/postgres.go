package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/qam-project/qam/pkg/domain"
)

// PostgresStore persists the receipt log to the receipt_log table, one row
// per (subject_id, seq).
type PostgresStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewPostgresStore(db *sqlx.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

type receiptRow struct {
	SubjectID   string    `db:"subject_id"`
	Seq         uint64    `db:"seq"`
	Timestamp   time.Time `db:"ts"`
	Event       string    `db:"event"`
	Actor       string    `db:"actor"`
	Details     []byte    `db:"details"`
	PrevHash    string    `db:"prev_hash"`
	ContentHash string    `db:"content_hash"`
	Signature   string    `db:"signature"`
}

func (s *PostgresStore) Append(ctx context.Context, entry domain.ReceiptEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipt_log (subject_id, seq, ts, event, actor, details, prev_hash, content_hash, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.SubjectID, entry.Seq, entry.Timestamp, entry.Event, entry.Actor,
		details, entry.PrevHash, entry.ContentHash, entry.Signature,
	)
	if err != nil {
		s.log.Error("failed to append receipt entry",
			zap.String("subjectId", entry.SubjectID), zap.Uint64("seq", entry.Seq), zap.Error(err))
		return fmt.Errorf("audit: failed to append receipt entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastEntry(ctx context.Context, subjectID string) (domain.ReceiptEntry, bool, error) {
	var row receiptRow
	err := s.db.GetContext(ctx, &row, `
		SELECT subject_id, seq, ts, event, actor, details, prev_hash, content_hash, signature
		FROM receipt_log WHERE subject_id = $1 ORDER BY seq DESC LIMIT 1`, subjectID)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return domain.ReceiptEntry{}, false, nil
		}
		return domain.ReceiptEntry{}, false, fmt.Errorf("audit: failed to load last receipt entry: %w", err)
	}
	entry, err := row.toEntry()
	return entry, true, err
}

func (s *PostgresStore) Entries(ctx context.Context, subjectID string) ([]domain.ReceiptEntry, error) {
	var rows []receiptRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT subject_id, seq, ts, event, actor, details, prev_hash, content_hash, signature
		FROM receipt_log WHERE subject_id = $1 ORDER BY seq ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to load receipt entries: %w", err)
	}

	entries := make([]domain.ReceiptEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r receiptRow) toEntry() (domain.ReceiptEntry, error) {
	var details map[string]interface{}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return domain.ReceiptEntry{}, fmt.Errorf("audit: failed to unmarshal details: %w", err)
		}
	}

	return domain.ReceiptEntry{
		SubjectID:   r.SubjectID,
		Seq:         r.Seq,
		Timestamp:   r.Timestamp,
		Event:       r.Event,
		Actor:       r.Actor,
		Details:     details,
		PrevHash:    r.PrevHash,
		ContentHash: r.ContentHash,
		Signature:   r.Signature,
	}, nil
}
