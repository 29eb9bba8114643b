// Package schedule orders booked consultations and decides when they can be joined.
package schedule

import (
	"errors"
	"slices"
	"time"

	"github.com/dkeye/consult/internal/domain"
)

// JoinLead is how early before the start a session opens for joining.
const JoinLead = 15 * time.Minute

// DashboardGrace is how long after the start the dashboard still offers Join.
const DashboardGrace = 60 * time.Minute

var ErrUnknownPolicy = errors.New("unknown join policy")

type Status string

const (
	StatusActive   Status = "active"
	StatusUpcoming Status = "upcoming"
	StatusFinished Status = "finished"
)

// StatusAt classifies a by whether now falls before, inside or after [Start, End].
func StatusAt(a domain.Appointment, now time.Time) Status {
	switch {
	case now.Before(a.Start):
		return StatusUpcoming
	case now.After(a.End):
		return StatusFinished
	}
	return StatusActive
}

func rank(s Status) int {
	switch s {
	case StatusActive:
		return 0
	case StatusUpcoming:
		return 1
	}
	return 2
}

// SortSessionsByTime returns a sorted copy: active sessions by earliest start, then
// upcoming by earliest start, then finished with the most recently ended first.
func SortSessionsByTime(sessions []domain.Appointment, now time.Time) []domain.Appointment {
	out := slices.Clone(sessions)
	slices.SortStableFunc(out, func(a, b domain.Appointment) int {
		sa, sb := StatusAt(a, now), StatusAt(b, now)
		if d := rank(sa) - rank(sb); d != 0 {
			return d
		}
		if sa == StatusFinished {
			return b.End.Compare(a.End)
		}
		return a.Start.Compare(b.Start)
	})
	return out
}

// JoinPolicy reports whether a session can be joined at now.
type JoinPolicy func(a domain.Appointment, now time.Time) bool

// CanJoinSession is the appointments-screen window: 15 minutes before the start up to
// the start, both ends inclusive.
func CanJoinSession(a domain.Appointment, now time.Time) bool {
	opens := a.Start.Add(-JoinLead)
	return !now.Before(opens) && !now.After(a.Start)
}

// DashboardWindow is the dashboard's wider window, open until an hour after the start.
func DashboardWindow(a domain.Appointment, now time.Time) bool {
	opens := a.Start.Add(-JoinLead)
	return !now.Before(opens) && !now.After(a.Start.Add(DashboardGrace))
}

// PolicyByName maps the schedule.join_policy setting to a JoinPolicy.
func PolicyByName(name string) (JoinPolicy, error) {
	switch name {
	case "", "appointments":
		return CanJoinSession, nil
	case "dashboard":
		return DashboardWindow, nil
	}
	return nil, ErrUnknownPolicy
}
