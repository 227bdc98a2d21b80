package call

import (
	"encoding/json"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

type state int

const (
	stateInvited state = iota
	stateAccepted
)

func (s state) String() string {
	if s == stateAccepted {
		return "accepted"
	}
	return "invited"
}

// session is an in-flight call. Fields other than the identity are only
// touched while holding the channel lock.
type session struct {
	channelID   string
	callerID    string
	callerName  string
	calleeID    string
	calleeToken string
	callType    domain.CallType
	offer       json.RawMessage
	createdAt   time.Time

	state      state
	acceptedAt time.Time
	timer      *time.Timer
}

func (s *session) involves(userID string) bool {
	return s.callerID == userID || s.calleeID == userID
}

func (s *session) peerOf(userID string) string {
	if userID == s.callerID {
		return s.calleeID
	}
	return s.callerID
}

// history builds the terminal record of the session.
func (s *session) history(id string, outcome domain.CallOutcome, endedAt time.Time) *domain.CallHistory {
	var duration int64
	if outcome == domain.OutcomeAnswered && !s.acceptedAt.IsZero() {
		duration = int64(endedAt.Sub(s.acceptedAt) / time.Second)
	}
	return &domain.CallHistory{
		ID:              id,
		ChannelID:       s.channelID,
		CallerID:        s.callerID,
		CalleeID:        s.calleeID,
		CallType:        s.callType,
		Outcome:         outcome,
		StartedAt:       s.createdAt,
		EndedAt:         endedAt,
		DurationSeconds: duration,
	}
}
