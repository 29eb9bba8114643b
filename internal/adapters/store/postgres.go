package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Postgres struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects with lib/pq and checks the connection.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return NewPostgres(db, table), nil
}

func NewPostgres(db *sql.DB, table string) *Postgres {
	if table == "" {
		table = "call_records"
	}
	return &Postgres{db: db, table: pq.QuoteIdentifier(table)}
}

// Migrate creates the records table when it is missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + p.table + ` (
		session_id       UUID PRIMARY KEY,
		user_id          TEXT NOT NULL DEFAULT '',
		expert_id        TEXT NOT NULL DEFAULT '',
		user_joined_at   TIMESTAMPTZ,
		expert_joined_at TIMESTAMPTZ,
		user_left_at     TIMESTAMPTZ,
		expert_left_at   TIMESTAMPTZ,
		started_at       TIMESTAMPTZ,
		ended_at         TIMESTAMPTZ,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		end_reason       TEXT NOT NULL DEFAULT '',
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *Postgres) Get(ctx context.Context, sid domain.SessionID) (*domain.CallRecord, error) {
	query := `
	SELECT
		session_id,
		user_id,
		expert_id,
		user_joined_at,
		expert_joined_at,
		user_left_at,
		expert_left_at,
		started_at,
		ended_at,
		duration_seconds,
		status,
		end_reason
	FROM ` + p.table + `
	WHERE session_id = $1
	LIMIT 1
	`

	var (
		rec                                            domain.CallRecord
		userJoined, expertJoined, userLeft, expertLeft pq.NullTime
		started, ended                                 pq.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, string(sid)).Scan(
		&rec.SessionID,
		&rec.UserID,
		&rec.ExpertID,
		&userJoined,
		&expertJoined,
		&userLeft,
		&expertLeft,
		&started,
		&ended,
		&rec.DurationSeconds,
		&rec.Status,
		&rec.EndReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.UserJoinedAt = timePtr(userJoined)
	rec.ExpertJoinedAt = timePtr(expertJoined)
	rec.UserLeftAt = timePtr(userLeft)
	rec.ExpertLeftAt = timePtr(expertLeft)
	rec.StartedAt = timePtr(started)
	rec.EndedAt = timePtr(ended)
	return &rec, nil
}

func (p *Postgres) Save(ctx context.Context, rec *domain.CallRecord) error {
	query := `
	INSERT INTO ` + p.table + ` (
		session_id,
		user_id,
		expert_id,
		user_joined_at,
		expert_joined_at,
		user_left_at,
		expert_left_at,
		started_at,
		ended_at,
		duration_seconds,
		status,
		end_reason,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
	ON CONFLICT (session_id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		expert_id = EXCLUDED.expert_id,
		user_joined_at = EXCLUDED.user_joined_at,
		expert_joined_at = EXCLUDED.expert_joined_at,
		user_left_at = EXCLUDED.user_left_at,
		expert_left_at = EXCLUDED.expert_left_at,
		started_at = EXCLUDED.started_at,
		ended_at = EXCLUDED.ended_at,
		duration_seconds = EXCLUDED.duration_seconds,
		status = EXCLUDED.status,
		end_reason = EXCLUDED.end_reason,
		updated_at = NOW()
	`

	_, err := p.db.ExecContext(
		ctx,
		query,
		string(rec.SessionID),
		string(rec.UserID),
		string(rec.ExpertID),
		nullTime(rec.UserJoinedAt),
		nullTime(rec.ExpertJoinedAt),
		nullTime(rec.UserLeftAt),
		nullTime(rec.ExpertLeftAt),
		nullTime(rec.StartedAt),
		nullTime(rec.EndedAt),
		rec.DurationSeconds,
		string(rec.Status),
		rec.EndReason,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			log.Error().
				Str("module", "store").
				Str("code", string(pqErr.Code)).
				Str("sid", string(rec.SessionID)).
				Msg(pqErr.Message)
		}
		return err
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func timePtr(nt pq.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullTime(t *time.Time) pq.NullTime {
	if t == nil {
		return pq.NullTime{}
	}
	return pq.NullTime{Time: *t, Valid: true}
}
