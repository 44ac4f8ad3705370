// Package gamestore provides SQLite persistence for generated games and the
// rounds played against them.
package gamestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/adlib-games/adlib/internal/cache"
	"github.com/adlib-games/adlib/internal/match"
)

// Game origins.
const (
	OriginGenerated = "generated"
	OriginTemplate  = "template"
)

const defaultCacheSize = 128

// Game is a stored mini-game: metadata plus the Lua source that plays it.
type Game struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Duration    int       `json:"duration"`
	Source      string    `json:"source"`
	Origin      string    `json:"origin"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	PlayCount   int       `json:"playCount"`
	BestScore   int       `json:"bestScore"`
}

// Round is one play-through of a game. A row is created when the round
// starts and completed when it ends.
type Round struct {
	ID             string             `json:"id"`
	GameID         string             `json:"gameId"`
	Reason         string             `json:"reason"`
	Score          int                `json:"score"`
	Inputs         int                `json:"inputs"`
	Correct        int                `json:"correct"`
	WrongGuesses   int                `json:"wrongGuesses"`
	HintsUsed      int                `json:"hintsUsed"`
	ScriptFailures int                `json:"scriptFailures"`
	PlayedSeconds  int                `json:"playedSeconds"`
	StartedAt      *time.Time         `json:"startedAt,omitempty"`
	EndedAt        *time.Time         `json:"endedAt,omitempty"`
	Series         []match.ScorePoint `json:"series,omitempty"`
}

// RoundInput is a single judged player input within a round.
type RoundInput struct {
	ID        int64     `json:"id"`
	RoundID   string    `json:"roundId"`
	Seq       int       `json:"seq"`
	Input     string    `json:"input"`
	Correct   bool      `json:"correct"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoundsPage is a paginated rounds response.
type RoundsPage struct {
	Rounds     []Round `json:"rounds"`
	TotalCount int     `json:"totalCount"`
	Page       int     `json:"page"`
	PerPage    int     `json:"perPage"`
	TotalPages int     `json:"totalPages"`
}

// RoundFromSummary maps a finished round's summary onto its storage row.
func RoundFromSummary(sum match.Summary) Round {
	r := Round{
		ID:             sum.RoundID,
		GameID:         sum.GameID,
		Reason:         string(sum.Reason),
		Score:          sum.Score,
		Inputs:         sum.Inputs,
		Correct:        sum.Correct,
		WrongGuesses:   sum.WrongGuesses,
		HintsUsed:      sum.HintsUsed,
		ScriptFailures: sum.ScriptFailures,
		PlayedSeconds:  sum.PlayedSeconds,
		Series:         sum.Series,
	}
	if !sum.StartedAt.IsZero() {
		started := sum.StartedAt
		r.StartedAt = &started
	}
	if !sum.EndedAt.IsZero() {
		ended := sum.EndedAt
		r.EndedAt = &ended
	}
	return r
}

// Store provides SQLite persistence with a read-through cache in front of
// game rows.
type Store struct {
	db    *sql.DB
	games cache.Cache
}

// New creates a store using the given SQLite database path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("gamestore: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("gamestore: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("gamestore: enable foreign keys: %w", err)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing sql.DB.
func NewFromDB(db *sql.DB) (*Store, error) {
	games, err := cache.NewLRU(defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("gamestore: build cache: %w", err)
	}
	return &Store{db: db, games: games}, nil
}

// Migrate runs the game and round migrations.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 60,
			source TEXT NOT NULL,
			origin TEXT NOT NULL DEFAULT 'generated',
			model TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			play_count INTEGER NOT NULL DEFAULT 0,
			best_score INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL DEFAULT 0,
			inputs INTEGER NOT NULL DEFAULT 0,
			correct INTEGER NOT NULL DEFAULT 0,
			wrong_guesses INTEGER NOT NULL DEFAULT 0,
			hints_used INTEGER NOT NULL DEFAULT 0,
			script_failures INTEGER NOT NULL DEFAULT 0,
			played_seconds INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			ended_at DATETIME,
			series_json TEXT NOT NULL DEFAULT '[]',
			FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_game ON rounds(game_id)`,
		`CREATE TABLE IF NOT EXISTS round_inputs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			input TEXT NOT NULL,
			correct BOOLEAN NOT NULL DEFAULT 0,
			points INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (round_id) REFERENCES rounds(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_round_inputs_round ON round_inputs(round_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("gamestore: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateGame inserts a new game and returns its ID.
func (s *Store) CreateGame(g *Game) (string, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Origin == "" {
		g.Origin = OriginGenerated
	}
	_, err := s.db.Exec(
		`INSERT INTO games (id, title, description, category, duration, source, origin, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Title, g.Description, g.Category, g.Duration, g.Source, g.Origin, g.Model,
	)
	if err != nil {
		return "", fmt.Errorf("gamestore: create game: %w", err)
	}
	return g.ID, nil
}

// UpsertGame inserts the game or refreshes an existing row in place,
// keeping its play history. Template seeding reuses fixed IDs, so reseeding
// must not duplicate rows.
func (s *Store) UpsertGame(g *Game) error {
	if g.ID == "" {
		return fmt.Errorf("gamestore: upsert game: missing id")
	}
	if g.Origin == "" {
		g.Origin = OriginTemplate
	}
	_, err := s.db.Exec(
		`INSERT INTO games (id, title, description, category, duration, source, origin, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			duration = excluded.duration,
			source = excluded.source,
			origin = excluded.origin,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP`,
		g.ID, g.Title, g.Description, g.Category, g.Duration, g.Source, g.Origin, g.Model,
	)
	if err != nil {
		return fmt.Errorf("gamestore: upsert game: %w", err)
	}
	s.games.Delete(g.ID)
	return nil
}

const gameColumns = `id, title, description, category, duration, source, origin, model,
	created_at, updated_at, play_count, best_score`

func scanGame(row interface{ Scan(...any) error }) (*Game, error) {
	g := &Game{}
	err := row.Scan(
		&g.ID, &g.Title, &g.Description, &g.Category, &g.Duration, &g.Source,
		&g.Origin, &g.Model, &g.CreatedAt, &g.UpdatedAt, &g.PlayCount, &g.BestScore,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGame fetches a game by ID through the cache.
func (s *Store) GetGame(id string) (*Game, error) {
	if v, ok := s.games.Get(id); ok {
		if g, ok := v.(*Game); ok {
			return g, nil
		}
	}
	g, err := scanGame(s.db.QueryRow(
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gamestore: game %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("gamestore: get game: %w", err)
	}
	s.games.Add(id, g)
	return g, nil
}

// ListGames returns games ordered by creation date (newest first).
func (s *Store) ListGames(limit, offset int) ([]Game, int, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM games").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("gamestore: count games: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+gameColumns+` FROM games ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("gamestore: list games: %w", err)
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("gamestore: scan game: %w", err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("gamestore: list games: %w", err)
	}
	return games, total, nil
}

// DeleteGame removes a game and all associated rounds and inputs.
func (s *Store) DeleteGame(id string) error {
	// Foreign keys with CASCADE handle rounds and their inputs
	if _, err := s.db.Exec("DELETE FROM games WHERE id = ?", id); err != nil {
		return fmt.Errorf("gamestore: delete game: %w", err)
	}
	s.games.Delete(id)
	return nil
}

// RecordPlay bumps the game's play counter and best score after a round.
func (s *Store) RecordPlay(gameID string, score int) error {
	_, err := s.db.Exec(
		`UPDATE games SET
			play_count = play_count + 1,
			best_score = MAX(best_score, ?),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		score, gameID,
	)
	if err != nil {
		return fmt.Errorf("gamestore: record play: %w", err)
	}
	s.games.Delete(gameID)
	return nil
}

// CreateRound inserts the round row at round start so inputs can attach to
// it while play is in flight.
func (s *Store) CreateRound(r *Round) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO rounds (id, game_id, started_at) VALUES (?, ?, ?)`,
		r.ID, r.GameID, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("gamestore: create round: %w", err)
	}
	return r.ID, nil
}

// FinishRound completes the round row with its final numbers.
func (s *Store) FinishRound(r *Round) error {
	seriesJSON, err := json.Marshal(r.Series)
	if err != nil {
		return fmt.Errorf("gamestore: marshal series: %w", err)
	}
	endedAt := time.Now()
	if r.EndedAt != nil {
		endedAt = *r.EndedAt
	}
	_, err = s.db.Exec(
		`UPDATE rounds SET
			reason = ?, score = ?, inputs = ?, correct = ?,
			wrong_guesses = ?, hints_used = ?, script_failures = ?,
			played_seconds = ?, ended_at = ?, series_json = ?
		 WHERE id = ?`,
		r.Reason, r.Score, r.Inputs, r.Correct,
		r.WrongGuesses, r.HintsUsed, r.ScriptFailures,
		r.PlayedSeconds, endedAt, string(seriesJSON),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("gamestore: finish round: %w", err)
	}
	return nil
}

const roundColumns = `id, game_id, reason, score, inputs, correct, wrong_guesses,
	hints_used, script_failures, played_seconds, started_at, ended_at, series_json`

func scanRound(row interface{ Scan(...any) error }) (*Round, error) {
	r := &Round{}
	var seriesJSON string
	err := row.Scan(
		&r.ID, &r.GameID, &r.Reason, &r.Score, &r.Inputs, &r.Correct,
		&r.WrongGuesses, &r.HintsUsed, &r.ScriptFailures, &r.PlayedSeconds,
		&r.StartedAt, &r.EndedAt, &seriesJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(seriesJSON), &r.Series); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return r, nil
}

// GetRound fetches a round by ID.
func (s *Store) GetRound(id string) (*Round, error) {
	r, err := scanRound(s.db.QueryRow(
		`SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gamestore: round %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("gamestore: get round: %w", err)
	}
	return r, nil
}

// ListRounds returns paginated rounds for a game, newest first.
func (s *Store) ListRounds(gameID string, page, perPage int) (*RoundsPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var total int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM rounds WHERE game_id = ?", gameID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("gamestore: count rounds: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT `+roundColumns+` FROM rounds WHERE game_id = ?
		 ORDER BY started_at DESC, id LIMIT ? OFFSET ?`,
		gameID, perPage, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("gamestore: list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("gamestore: scan round: %w", err)
		}
		rounds = append(rounds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gamestore: list rounds: %w", err)
	}

	totalPages := total / perPage
	if total%perPage > 0 {
		totalPages++
	}

	return &RoundsPage{
		Rounds:     rounds,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// InsertInput records a single judged input.
func (s *Store) InsertInput(in *RoundInput) error {
	_, err := s.db.Exec(
		`INSERT INTO round_inputs (round_id, seq, input, correct, points, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.RoundID, in.Seq, in.Input, in.Correct, in.Points, orNow(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("gamestore: insert input: %w", err)
	}
	return nil
}

// InsertInputsBatch records multiple inputs in a single transaction.
func (s *Store) InsertInputsBatch(ins []RoundInput) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("gamestore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO round_inputs (round_id, seq, input, correct, points, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("gamestore: prepare: %w", err)
	}
	defer stmt.Close()

	for _, in := range ins {
		if _, err := stmt.Exec(in.RoundID, in.Seq, in.Input, in.Correct, in.Points, orNow(in.CreatedAt)); err != nil {
			return fmt.Errorf("gamestore: insert input #%d: %w", in.Seq, err)
		}
	}
	return tx.Commit()
}

// GetRoundInputs returns a round's inputs in submission order.
func (s *Store) GetRoundInputs(roundID string) ([]RoundInput, error) {
	rows, err := s.db.Query(
		`SELECT id, round_id, seq, input, correct, points, created_at
		 FROM round_inputs WHERE round_id = ? ORDER BY seq`,
		roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("gamestore: get round inputs: %w", err)
	}
	defer rows.Close()

	var ins []RoundInput
	for rows.Next() {
		in := RoundInput{}
		if err := rows.Scan(&in.ID, &in.RoundID, &in.Seq, &in.Input, &in.Correct, &in.Points, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("gamestore: scan input: %w", err)
		}
		ins = append(ins, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gamestore: get round inputs: %w", err)
	}
	return ins, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
