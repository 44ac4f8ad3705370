package providerauth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Profile stores non-secret provider metadata. The API key itself lives in
// the OS keychain.
type Profile struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Store persists provider profiles in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the SQLite profile DB and enables WAL.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("providerauth: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("providerauth: enable WAL: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates tables and indexes.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS provider_profiles (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT 'gemini',
			model TEXT NOT NULL DEFAULT 'gemini-2.5-flash',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_profiles_updated_at ON provider_profiles(updated_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("providerauth: migrate: %w", err)
		}
	}
	return nil
}

// List returns all profiles sorted by updated_at descending.
func (s *Store) List() ([]Profile, error) {
	rows, err := s.db.Query(
		`SELECT id, label, provider, model, created_at, updated_at
		 FROM provider_profiles
		 ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("providerauth: list: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&p.ID, &p.Label, &p.Provider, &p.Model, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("providerauth: scan profile: %w", err)
		}
		p.CreatedAt = createdAt.Format(time.RFC3339)
		p.UpdatedAt = updatedAt.Format(time.RFC3339)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("providerauth: iterate profiles: %w", err)
	}
	return out, nil
}

// Get returns a single profile by id.
func (s *Store) Get(id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("providerauth: id is required")
	}

	var p Profile
	var createdAt, updatedAt time.Time
	err := s.db.QueryRow(
		`SELECT id, label, provider, model, created_at, updated_at
		 FROM provider_profiles
		 WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Label, &p.Provider, &p.Model, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("providerauth: profile %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("providerauth: get profile: %w", err)
	}
	p.CreatedAt = createdAt.Format(time.RFC3339)
	p.UpdatedAt = updatedAt.Format(time.RFC3339)
	return &p, nil
}

// Save upserts profile metadata and returns the stored record.
func (s *Store) Save(p Profile) (Profile, error) {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if strings.TrimSpace(p.Provider) == "" {
		p.Provider = "gemini"
	}
	if strings.TrimSpace(p.Model) == "" {
		p.Model = "gemini-2.5-flash"
	}
	p.Label = strings.TrimSpace(p.Label)

	_, err := s.db.Exec(
		`INSERT INTO provider_profiles (id, label, provider, model)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   label = excluded.label,
		   provider = excluded.provider,
		   model = excluded.model,
		   updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Label, p.Provider, p.Model,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("providerauth: save profile: %w", err)
	}

	saved, err := s.Get(p.ID)
	if err != nil {
		return Profile{}, err
	}
	return *saved, nil
}

// Delete removes profile metadata.
func (s *Store) Delete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("providerauth: id is required")
	}
	_, err := s.db.Exec(`DELETE FROM provider_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("providerauth: delete profile: %w", err)
	}
	return nil
}
