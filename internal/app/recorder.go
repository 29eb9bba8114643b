package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

// Recorder keeps the call record of each session current as participants come and go.
type Recorder struct {
	store core.CallRecordStore
	now   func() time.Time
	mu    sync.Mutex
}

func NewRecorder(store core.CallRecordStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, sid domain.SessionID) (*domain.CallRecord, error) {
	return r.store.Get(ctx, sid)
}

func (r *Recorder) load(ctx context.Context, sid domain.SessionID) (*domain.CallRecord, error) {
	rec, err := r.store.Get(ctx, sid)
	if errors.Is(err, core.ErrRecordNotFound) {
		return &domain.CallRecord{SessionID: sid, Status: domain.CallStatusWaiting}, nil
	}
	return rec, err
}

// Joined stamps the join time of p. The call starts once both roles have joined.
// present lists the other roles still connected; they count as joined when a completed
// record is restarted.
func (r *Recorder) Joined(ctx context.Context, p *domain.Participant, present ...domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(ctx, p.SessionID)
	if err != nil {
		return err
	}
	now := r.now()
	if rec.Status == domain.CallStatusCompleted {
		// rejoin after an end starts a fresh attempt
		rec = &domain.CallRecord{SessionID: p.SessionID, UserID: rec.UserID, ExpertID: rec.ExpertID, Status: domain.CallStatusWaiting}
		for _, role := range present {
			switch {
			case role == p.Role:
			case role == domain.RoleUser:
				rec.UserJoinedAt = &now
			case role == domain.RoleExpert:
				rec.ExpertJoinedAt = &now
			}
		}
	}
	switch p.Role {
	case domain.RoleUser:
		rec.UserID = p.ID
		rec.UserJoinedAt = &now
		rec.UserLeftAt = nil
	case domain.RoleExpert:
		rec.ExpertID = p.ID
		rec.ExpertJoinedAt = &now
		rec.ExpertLeftAt = nil
	}
	if rec.UserJoinedAt != nil && rec.ExpertJoinedAt != nil && rec.StartedAt == nil {
		rec.StartedAt = &now
		rec.Status = domain.CallStatusActive
		log.Info().Str("module", "app.recorder").Str("sid", string(p.SessionID)).Msg("call active")
	}
	return r.store.Save(ctx, rec)
}

// Left stamps the leave time of role and completes the call if it is still open.
func (r *Recorder) Left(ctx context.Context, sid domain.SessionID, role domain.Role, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(ctx, sid)
	if err != nil {
		return err
	}
	now := r.now()
	if role == domain.RoleUser {
		rec.UserLeftAt = &now
	} else {
		rec.ExpertLeftAt = &now
	}
	r.completeLocked(rec, reason, now)
	return r.store.Save(ctx, rec)
}

// Ended completes the call. Completing twice keeps the first reason.
func (r *Recorder) Ended(ctx context.Context, sid domain.SessionID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(ctx, sid)
	if err != nil {
		return err
	}
	r.completeLocked(rec, reason, r.now())
	return r.store.Save(ctx, rec)
}

func (r *Recorder) completeLocked(rec *domain.CallRecord, reason string, now time.Time) {
	if rec.Status == domain.CallStatusCompleted {
		return
	}
	rec.EndedAt = &now
	if rec.StartedAt != nil {
		rec.DurationSeconds = int(now.Sub(*rec.StartedAt).Seconds())
	}
	rec.Status = domain.CallStatusCompleted
	rec.EndReason = reason
	log.Info().
		Str("module", "app.recorder").
		Str("sid", string(rec.SessionID)).
		Str("reason", reason).
		Int("duration_seconds", rec.DurationSeconds).
		Msg("call completed")
}
