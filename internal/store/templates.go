package store

import (
	"database/sql"
	"fmt"
)

// TemplateRepository manages saved compose templates.
type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{db: db.DB}
}

func (r *TemplateRepository) List() ([]Template, error) {
	rows, err := r.db.Query(`SELECT id, name, subject, body FROM email_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Body); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *TemplateRepository) GetByID(id int64) (*Template, error) {
	t := &Template{}
	err := r.db.QueryRow(`SELECT id, name, subject, body FROM email_templates WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Subject, &t.Body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TemplateRepository) Create(t *Template) error {
	res, err := r.db.Exec(`INSERT INTO email_templates (name, subject, body) VALUES (?, ?, ?)`,
		t.Name, t.Subject, t.Body)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (r *TemplateRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM email_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}
