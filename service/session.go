package service

import (
	"time"
)

// VotingSession bounds when ballots are admitted. A zero opensAt or closesAt
// leaves that side unbounded; the zero VotingSession is always open.
type VotingSession struct {
	opensAt  time.Time
	closesAt time.Time
}

// NewVotingSession creates a session open over [opensAt, closesAt).
func NewVotingSession(opensAt, closesAt time.Time) VotingSession {
	return VotingSession{opensAt: opensAt, closesAt: closesAt}
}

// IsActive reports whether now falls inside [opensAt, closesAt).
func (vs VotingSession) IsActive(now time.Time) bool {
	if !vs.opensAt.IsZero() && now.Before(vs.opensAt) {
		return false
	}
	if !vs.closesAt.IsZero() && !now.Before(vs.closesAt) {
		return false
	}
	return true
}
