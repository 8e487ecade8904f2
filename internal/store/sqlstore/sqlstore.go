// Package sqlstore persists rounds and games in SQLite or PostgreSQL. Each
// round is one row holding its JSON snapshot; appends and saves run in a
// transaction that locks the row, so concurrent submissions to one round
// are applied one at a time.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/kiliankoe/promptdash/internal/round"
	"github.com/kiliankoe/promptdash/internal/store"
	"github.com/kiliankoe/promptdash/internal/store/sqlstore/migrations"
)

type dialect struct {
	driver   string
	lockRow  string // appended to a SELECT that must hold the row until commit
	numbered bool
}

var (
	sqliteDialect   = dialect{driver: "sqlite"}
	postgresDialect = dialect{driver: "postgres", lockRow: " FOR UPDATE", numbered: true}
)

// rebind rewrites ? placeholders to $n for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
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

type Store struct {
	db    *sql.DB
	d     dialect
	seeds store.SeedSource
}

type Option func(*Store)

func WithSeedSource(src store.SeedSource) Option {
	return func(s *Store) { s.seeds = src }
}

// Open connects to dsn and applies migrations. A postgres:// or
// postgresql:// URL selects PostgreSQL; anything else is a SQLite file path.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	d := sqliteDialect
	source := dsn
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = postgresDialect
	} else {
		source = filepath.Clean(dsn) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open(d.driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.driver, err)
	}
	if d == sqliteDialect {
		// SQLite allows one writer; a single connection serializes transactions.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.driver, err)
	}
	if err := applyMigrations(ctx, db, d, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Str("driver", d.driver).Msg("database ready")

	s := &Store{db: db, d: d, seeds: store.CryptoSeed}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) StartNewRound(ctx context.Context, gameID string, players []string, activePlayer string, startedAt time.Time) (round.RoundState, error) {
	st, err := store.NewRound(s.seeds, gameID, players, activePlayer, startedAt)
	if err != nil {
		return round.RoundState{}, err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return round.RoundState{}, fmt.Errorf("encode round: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.d.rebind(`INSERT INTO rounds (id, game_id, phase, state, started_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		st.ID, st.GameID, string(st.Phase), string(data), startedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return round.RoundState{}, fmt.Errorf("insert round: %w", err)
	}
	return st, nil
}

func (s *Store) LoadRoundState(ctx context.Context, id string) (round.RoundState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT state FROM rounds WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return round.RoundState{}, round.ErrNotFound
	}
	if err != nil {
		return round.RoundState{}, fmt.Errorf("load round: %w", err)
	}
	return decodeRound(data)
}

func (s *Store) SaveRoundState(ctx context.Context, next round.RoundState) error {
	return s.updateRound(ctx, next.ID, func(cur *round.RoundState) (bool, error) {
		if err := store.CheckSave(*cur, next); err != nil {
			return false, err
		}
		*cur = next.Clone()
		return true, nil
	})
}

func (s *Store) AppendPrompt(ctx context.Context, id, player, text string) (round.AppendResult[string], error) {
	var res round.AppendResult[string]
	err := s.updateRound(ctx, id, func(cur *round.RoundState) (bool, error) {
		if err := store.CheckPromptsOpen(cur.Phase); err != nil {
			return false, err
		}
		inserted, err := store.Append(cur, cur.Prompts, player, text)
		if err != nil {
			return false, err
		}
		res = round.AppendResult[string]{Inserted: inserted, Values: maps.Clone(cur.Prompts)}
		return inserted, nil
	})
	return res, err
}

func (s *Store) AppendVote(ctx context.Context, id, player string, slot int) (round.AppendResult[int], error) {
	var res round.AppendResult[int]
	err := s.updateRound(ctx, id, func(cur *round.RoundState) (bool, error) {
		if err := store.CheckVotesOpen(cur.Phase); err != nil {
			return false, err
		}
		inserted, err := store.Append(cur, cur.Votes, player, slot)
		if err != nil {
			return false, err
		}
		res = round.AppendResult[int]{Inserted: inserted, Values: maps.Clone(cur.Votes)}
		return inserted, nil
	})
	return res, err
}

// updateRound loads the round with its row locked, lets fn change it and
// writes it back when fn reports a change.
func (s *Store) updateRound(ctx context.Context, id string, fn func(cur *round.RoundState) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT state FROM rounds WHERE id = ?`+s.d.lockRow), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return round.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load round: %w", err)
	}
	cur, err := decodeRound(data)
	if err != nil {
		return err
	}
	changed, err := fn(&cur)
	if err != nil || !changed {
		return err
	}

	encoded, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.d.rebind(`UPDATE rounds SET phase = ?, state = ?, updated_at = ? WHERE id = ?`),
		string(cur.Phase), string(encoded), time.Now().UnixMilli(), id,
	); err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// decodeRound restores a snapshot; the maps are never nil afterwards.
func decodeRound(data string) (round.RoundState, error) {
	var st round.RoundState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return round.RoundState{}, fmt.Errorf("decode round: %w", err)
	}
	return st.Clone(), nil
}

func (s *Store) CreateGame(ctx context.Context, players []string, totalRounds int, at time.Time) (round.Game, error) {
	g := store.NewGame(players, totalRounds, at)
	data, err := json.Marshal(g)
	if err != nil {
		return round.Game{}, fmt.Errorf("encode game: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.d.rebind(`INSERT INTO games (id, state, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		g.ID, string(data), at.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return round.Game{}, fmt.Errorf("insert game: %w", err)
	}
	return g, nil
}

func (s *Store) LoadGame(ctx context.Context, id string) (round.Game, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT state FROM games WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return round.Game{}, round.ErrGameNotFound
	}
	if err != nil {
		return round.Game{}, fmt.Errorf("load game: %w", err)
	}
	var g round.Game
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return round.Game{}, fmt.Errorf("decode game: %w", err)
	}
	return g.Clone(), nil
}

// UpdateGame runs fn on the game with its row locked and writes the result
// back in the same transaction.
func (s *Store) UpdateGame(ctx context.Context, id string, fn func(*round.Game) error) (round.Game, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return round.Game{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT state FROM games WHERE id = ?`+s.d.lockRow), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return round.Game{}, round.ErrGameNotFound
	}
	if err != nil {
		return round.Game{}, fmt.Errorf("load game: %w", err)
	}
	var g round.Game
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return round.Game{}, fmt.Errorf("decode game: %w", err)
	}
	g = g.Clone()
	if err := fn(&g); err != nil {
		return round.Game{}, err
	}
	g.ID = id

	encoded, err := json.Marshal(g)
	if err != nil {
		return round.Game{}, fmt.Errorf("encode game: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.d.rebind(`UPDATE games SET state = ?, updated_at = ? WHERE id = ?`),
		string(encoded), time.Now().UnixMilli(), id,
	); err != nil {
		return round.Game{}, fmt.Errorf("update game: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return round.Game{}, fmt.Errorf("commit: %w", err)
	}
	return g, nil
}
