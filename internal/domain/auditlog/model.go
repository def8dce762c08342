package auditlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionSigned   Action = "signed"
	ActionExported Action = "exported"
	ActionViewed   Action = "viewed"
	ActionDeleted  Action = "deleted"
)

const (
	maxIPAddressLen = 64
	maxUserAgentLen = 512
	maxRequestIDLen = 64
)

// Entry maps to the audit_logs table. Entries are written once and never
// updated or deleted.
type Entry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	EncounterID uuid.UUID       `db:"encounter_id" json:"encounter_id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Action      Action          `db:"action" json:"action"`
	Changes     json.RawMessage `db:"changes" json:"changes,omitempty"`
	IPAddress   string          `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string          `db:"user_agent" json:"user_agent,omitempty"`
	RequestID   string          `db:"request_id" json:"request_id,omitempty"`
	Timestamp   time.Time       `db:"timestamp" json:"timestamp"`
}

// Actor identifies who performed an action and from where.
type Actor struct {
	UserID    uuid.UUID
	IPAddress string
	UserAgent string
	RequestID string
}

// NewEntry builds an entry for action on encounterID. changes may be nil.
func (a Actor) NewEntry(encounterID uuid.UUID, action Action, changes interface{}, at time.Time) (*Entry, error) {
	var raw json.RawMessage
	if changes != nil {
		b, err := json.Marshal(changes)
		if err != nil {
			return nil, fmt.Errorf("marshal audit changes: %w", err)
		}
		raw = b
	}

	return &Entry{
		ID:          uuid.New(),
		EncounterID: encounterID,
		UserID:      a.UserID,
		Action:      action,
		Changes:     raw,
		IPAddress:   truncate(a.IPAddress, maxIPAddressLen),
		UserAgent:   truncate(a.UserAgent, maxUserAgentLen),
		RequestID:   truncate(a.RequestID, maxRequestIDLen),
		Timestamp:   at.UTC(),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// keep valid UTF-8
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
