package domain

import "time"

// Session identifies one continuous ingestion run of a room. A new session
// starts when the prior stream ends and a new broadcast begins under the
// same room id, which bumps Index.
type Session struct {
	RoomID    string
	Date      string // YYYY-MM-DD
	Index     int
	OwnerID   string
	Nickname  string
	CreatedAt time.Time
}

// NewSession creates a session for the given room and index, dated now.
func NewSession(roomID string, index int, now time.Time) *Session {
	return &Session{
		RoomID:    roomID,
		Date:      now.Format("2006-01-02"),
		Index:     index,
		CreatedAt: now,
	}
}

// Next returns the follow-up session after a stream rotation.
func (s *Session) Next(now time.Time) *Session {
	return NewSession(s.RoomID, s.Index+1, now)
}

// SetOwner fills the broadcaster identity if it is still unset.
func (s *Session) SetOwner(ownerID, nickname string) {
	if s.OwnerID == "" && ownerID != "" {
		s.OwnerID = ownerID
	}
	if s.Nickname == "" && nickname != "" {
		s.Nickname = nickname
	}
}
