package store

import (
	"database/sql"
	"fmt"
)

// ServerRepository manages the pool of outbound server configs.
type ServerRepository struct {
	db *sql.DB
}

func NewServerRepository(db *DB) *ServerRepository {
	return &ServerRepository{db: db.DB}
}

const serverColumns = `id, name, host, port, username, password, from_email, is_secure, domain_auth, is_active, sent_count`

func scanServer(row interface{ Scan(...any) error }) (*ServerConfig, error) {
	s := &ServerConfig{}
	var username, password, domainAuth sql.NullString

	err := row.Scan(&s.ID, &s.Name, &s.Host, &s.Port, &username, &password,
		&s.FromEmail, &s.IsSecure, &domainAuth, &s.IsActive, &s.SentCount)
	if err != nil {
		return nil, err
	}

	s.Username = username.String
	s.Password = password.String
	s.DomainAuth = domainAuth.String
	return s, nil
}

// List returns all configs in insertion order.
func (r *ServerRepository) List() ([]ServerConfig, error) {
	rows, err := r.db.Query(`SELECT ` + serverColumns + ` FROM smtp_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var configs []ServerConfig
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *s)
	}
	return configs, rows.Err()
}

// ListActive returns active configs in insertion order. Rotation over
// this list is deterministic; operators rely on the ordering to
// control which identity sends first.
func (r *ServerRepository) ListActive() ([]ServerConfig, error) {
	rows, err := r.db.Query(`SELECT ` + serverColumns + ` FROM smtp_configs WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active servers: %w", err)
	}
	defer rows.Close()

	var configs []ServerConfig
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *s)
	}
	return configs, rows.Err()
}

func (r *ServerRepository) GetByID(id int64) (*ServerConfig, error) {
	s, err := scanServer(r.db.QueryRow(`SELECT `+serverColumns+` FROM smtp_configs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *ServerRepository) Create(s *ServerConfig) error {
	if s.Name == "" {
		s.Name = "Default"
	}
	res, err := r.db.Exec(`
		INSERT INTO smtp_configs (name, host, port, username, password, from_email, is_secure, domain_auth, is_active, sent_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.Name, s.Host, s.Port, nullString(s.Username), nullString(s.Password),
		s.FromEmail, s.IsSecure, nullString(s.DomainAuth), s.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to create server config: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

func (r *ServerRepository) Update(s *ServerConfig) error {
	_, err := r.db.Exec(`
		UPDATE smtp_configs
		SET name = ?, host = ?, port = ?, username = ?, password = ?, from_email = ?, is_secure = ?, domain_auth = ?, is_active = ?
		WHERE id = ?`,
		s.Name, s.Host, s.Port, nullString(s.Username), nullString(s.Password),
		s.FromEmail, s.IsSecure, nullString(s.DomainAuth), s.IsActive, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update server config: %w", err)
	}
	return nil
}

func (r *ServerRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM smtp_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server config: %w", err)
	}
	return nil
}

// RecordSent increments the sent counter for one config.
func (r *ServerRepository) RecordSent(id int64) error {
	_, err := r.db.Exec(`UPDATE smtp_configs SET sent_count = sent_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to record sent: %w", err)
	}
	return nil
}

// ResetCounts zeroes the sent counter on every config.
func (r *ServerRepository) ResetCounts() error {
	_, err := r.db.Exec(`UPDATE smtp_configs SET sent_count = 0`)
	if err != nil {
		return fmt.Errorf("failed to reset sent counts: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
