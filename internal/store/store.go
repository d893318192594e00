// Package store persists finished games in a SQL database.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// GameRecord is one finished game.
type GameRecord struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	P1Name    string    `json:"p1_name"`
	P2Name    string    `json:"p2_name"`
	P1Score   int       `json:"p1_score"`
	P2Score   int       `json:"p2_score"`
	Frames    int       `json:"frames"`
	FramesDir string    `json:"frames_dir"`
	VideoPath string    `json:"video_path"`
	Delivered bool      `json:"delivered"`
}

// Store is a games table behind database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects with driver and dsn and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if parent := filepath.Dir(dsn); parent != "" && parent != "." {
				if err := os.MkdirAll(parent, 0o755); err != nil {
					return nil, apperrors.Wrapf(err, apperrors.CodeStore, "create %s", parent)
				}
			}
		}
	case DriverPostgres, DriverMySQL:
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeStore, "open %s", driver)
	}
	s := &Store{db: db, driver: driver}

	ctx, cancel := context.WithTimeout(ctx, OpenTimeout)
	defer cancel()

	if driver == DriverSQLite {
		// a single connection keeps :memory: databases alive and serializes writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		for _, pragma := range []string{`PRAGMA busy_timeout = 5000;`, `PRAGMA journal_mode = WAL;`} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, apperrors.Wrapf(err, apperrors.CodeStore, "sqlite %s", pragma)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrapf(err, apperrors.CodeStore, "ping %s", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "ensure schema")
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStore, "ping")
	}
	return nil
}

// SaveGame inserts rec.
func (s *Store) SaveGame(ctx context.Context, rec GameRecord) error {
	if rec.ID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "game record has no id")
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO games (
    id, source, started_at_ms, ended_at_ms, p1_name, p2_name,
    p1_score, p2_score, frames, frames_dir, video_path, delivered
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Source, rec.StartedAt.UTC().UnixMilli(), rec.EndedAt.UTC().UnixMilli(),
		rec.P1Name, rec.P2Name, rec.P1Score, rec.P2Score, rec.Frames,
		rec.FramesDir, rec.VideoPath, rec.Delivered,
	)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStore, "save game %s", rec.ID)
	}
	trace.Logger(ctx).Debug("game saved", "id", rec.ID, "driver", s.driver)
	return nil
}

// MarkDelivered records that the game reached its notifiers.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE games SET delivered = ? WHERE id = ?`), true, id)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStore, "mark %s delivered", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "game %s not found", id)
	}
	return nil
}

// RecentGames returns up to limit games, newest first.
func (s *Store) RecentGames(ctx context.Context, limit int) ([]GameRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, source, started_at_ms, ended_at_ms, p1_name, p2_name,
       p1_score, p2_score, frames, frames_dir, video_path, delivered
FROM games
ORDER BY ended_at_ms DESC, id DESC
LIMIT ?`), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "query recent games")
	}
	defer rows.Close()

	var games []GameRecord
	for rows.Next() {
		var rec GameRecord
		var started, ended int64
		if err := rows.Scan(&rec.ID, &rec.Source, &started, &ended, &rec.P1Name, &rec.P2Name,
			&rec.P1Score, &rec.P2Score, &rec.Frames, &rec.FramesDir, &rec.VideoPath, &rec.Delivered); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStore, "scan game")
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.EndedAt = time.UnixMilli(ended).UTC()
		games = append(games, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "iterate games")
	}
	return games, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
