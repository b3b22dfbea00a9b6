package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

type repository struct {
	db      *sql.DB
	dialect dialect
}

// Open returns a Postgres-backed repository when databaseURL is set, otherwise a SQLite file
// at sqlitePath. The schema is created if missing.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Repository, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return OpenPostgres(ctx, databaseURL)
	}
	return OpenSQLite(ctx, sqlitePath)
}

func OpenPostgres(ctx context.Context, databaseURL string) (Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return newRepository(ctx, db, dialectPostgres)
}

// OpenSQLite opens path (":memory:" allowed). A single connection serializes writers.
func OpenSQLite(ctx context.Context, path string) (Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newRepository(ctx, db, dialectSQLite)
}

func newRepository(ctx context.Context, db *sql.DB, d dialect) (Repository, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &repository{db: db, dialect: d}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *repository) migrate(ctx context.Context) error {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	if r.dialect == dialectSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			` + idColumn + `,
			user_id TEXT NOT NULL UNIQUE,
			user_name TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			language_code TEXT NOT NULL DEFAULT '',
			is_premium BOOLEAN NOT NULL DEFAULT FALSE,
			match_won INTEGER NOT NULL DEFAULT 0,
			match_lost INTEGER NOT NULL DEFAULT 0,
			match_draw INTEGER NOT NULL DEFAULT 0,
			battle_won INTEGER NOT NULL DEFAULT 0,
			battle_lost INTEGER NOT NULL DEFAULT 0,
			battle_draw INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_results (
			game_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			game_type TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			other_user_id TEXT NOT NULL DEFAULT '',
			winner_id TEXT NOT NULL DEFAULT '',
			loser_id TEXT NOT NULL DEFAULT '',
			draw BOOLEAN NOT NULL DEFAULT FALSE,
			ended_at TIMESTAMP NOT NULL,
			PRIMARY KEY (game_id, round)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_ended ON game_results(ended_at)`,
	}
	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *repository) rebind(q string) string {
	if r.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, ch := range q {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Counter names double as column names.
var counterColumns = func() map[tictactoe.Counter]string {
	m := make(map[tictactoe.Counter]string, len(tictactoe.Counters))
	for _, c := range tictactoe.Counters {
		m[c] = string(c)
	}
	return m
}()

const userColumns = `id, user_id, user_name, first_name, last_name, language_code, is_premium,
	match_won, match_lost, match_draw, battle_won, battle_lost, battle_draw`

type scanner interface{ Scan(dest ...any) error }

func scanUser(s scanner) (*User, error) {
	var u User
	err := s.Scan(&u.ID, &u.UserID, &u.UserName, &u.FirstName, &u.LastName, &u.LanguageCode, &u.IsPremium,
		&u.MatchWon, &u.MatchLost, &u.MatchDraw, &u.BattleWon, &u.BattleLost, &u.BattleDraw)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) SaveUser(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	q := r.rebind(`INSERT INTO users (user_id, user_name, first_name, last_name, language_code, is_premium)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			user_name = excluded.user_name,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			language_code = excluded.language_code,
			is_premium = excluded.is_premium`)
	_, err := r.db.ExecContext(ctx, q, u.UserID, u.UserName, u.FirstName, u.LastName, u.LanguageCode, u.IsPremium)
	return err
}

func (r *repository) GetUser(ctx context.Context, userID string) (*User, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+userColumns+` FROM users WHERE user_id = ?`), userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r *repository) ListUsersAfter(ctx context.Context, cursor int64, limit int) ([]*User, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT `+userColumns+` FROM users WHERE id > ? ORDER BY id ASC LIMIT ?`), cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RecordResult stores the result row and applies its increments in one transaction. A result
// that was already stored returns tictactoe.ErrDuplicateResult and changes nothing.
func (r *repository) RecordResult(ctx context.Context, res tictactoe.Result) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ended := res.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	out, err := tx.ExecContext(ctx, r.rebind(`INSERT INTO game_results
		(game_id, round, game_type, creator_id, other_user_id, winner_id, loser_id, draw, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id, round) DO NOTHING`),
		res.GameID, res.Round, string(res.Type), res.CreatorID, res.OtherUserID, res.WinnerID, res.LoserID, res.Draw, ended.UTC())
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if n, err := out.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return tictactoe.ErrDuplicateResult
	}

	ensure := r.rebind(`INSERT INTO users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`)
	for _, inc := range res.Increments() {
		col, ok := counterColumns[inc.Counter]
		if !ok || strings.TrimSpace(inc.UserID) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, ensure, inc.UserID); err != nil {
			return fmt.Errorf("ensure user %s: %w", inc.UserID, err)
		}
		if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE users SET `+col+` = `+col+` + 1 WHERE user_id = ?`), inc.UserID); err != nil {
			return fmt.Errorf("increment %s: %w", col, err)
		}
	}
	return tx.Commit()
}
