// Package domain contains core domain types for the roomcast ingestion engine.
package domain

// Event is one classified occurrence from the room's push feed. Events are
// produced only by the classifier and are immutable once constructed.
type Event interface {
	isEvent()
}

// ChatMessage is a viewer chat line.
type ChatMessage struct {
	Timestamp int64
	UserID    string
	Nickname  string
	Content   string
}

// GiftEvent is one tick of a gift send. Combo gifts arrive as several ticks
// sharing a ComboID; the tick with ComboTerminal set carries the
// authoritative cumulative count for the whole combo.
type GiftEvent struct {
	Timestamp       int64
	UserID          string
	Nickname        string
	GiftName        string
	ComboID         string
	CumulativeCount int64
	UnitValue       int64
	ComboTerminal   bool
}

// MemberEnter reports a viewer entering the room.
type MemberEnter struct {
	UserID   string
	Nickname string
}

// LikeEvent reports a batch of likes.
type LikeEvent struct {
	UserID string
	Count  int64
}

// FollowEvent reports a viewer following the broadcaster.
type FollowEvent struct {
	Timestamp int64
	UserID    string
	Nickname  string
}

// RoomStats carries the current viewer count and, when known, the
// broadcaster's identity.
type RoomStats struct {
	ViewerCount   int64
	OwnerID       string
	OwnerNickname string
}

// StreamEnd signals that the remote broadcast has ended. The engine rotates
// to a fresh session when it sees one.
type StreamEnd struct{}

func (ChatMessage) isEvent() {}
func (GiftEvent) isEvent()   {}
func (MemberEnter) isEvent() {}
func (LikeEvent) isEvent()   {}
func (FollowEvent) isEvent() {}
func (RoomStats) isEvent()   {}
func (StreamEnd) isEvent()   {}
