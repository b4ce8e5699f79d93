package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EmailRepository persists per-attempt send outcomes.
type EmailRepository struct {
	db *sql.DB
}

func NewEmailRepository(db *DB) *EmailRepository {
	return &EmailRepository{db: db.DB}
}

func (r *EmailRepository) Create(e *EmailRecord) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	res, err := r.db.Exec(`
		INSERT INTO emails (recipient, subject, body, status, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Recipient, e.Subject, e.Body, e.Status, nullString(e.Error), e.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create email record: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// List returns records newest first, capped at limit (0 = all).
func (r *EmailRepository) List(limit int) ([]EmailRecord, error) {
	query := `SELECT id, recipient, subject, body, status, error, sent_at FROM emails ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	var records []EmailRecord
	for rows.Next() {
		var e EmailRecord
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.Status, &errText, &e.SentAt); err != nil {
			return nil, err
		}
		e.Error = errText.String
		records = append(records, e)
	}
	return records, rows.Err()
}
