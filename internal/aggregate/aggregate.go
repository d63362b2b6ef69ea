// Package aggregate owns the mutable per-session state and applies
// classified events to it with deterministic rules.
package aggregate

import (
	"sync"
	"time"

	"github.com/ashureev/roomcast/internal/checkpoint"
	"github.com/ashureev/roomcast/internal/domain"
)

// giftTally accumulates one gift name's totals. Count and TotalValue move
// only on combo-terminal events, and senders are added on the same events,
// so the sender set never disagrees with the count.
type giftTally struct {
	count      int64
	totalValue int64
	senders    map[string]struct{}
	senderList []string // first-seen order, for stable output
}

// State is the aggregated session state. A single dispatch goroutine
// mutates it through Apply; snapshotting is the only concurrent reader and
// takes the same lock just long enough to copy.
type State struct {
	mu sync.Mutex

	chats      []domain.ChatMessage
	gifts      map[string]*giftTally
	memberIDs  map[string]struct{}
	memberList []string // display nicknames, first-seen order
	follows    []domain.FollowEvent
	viewers    int64
	likes      int64

	decodeErrors    int64
	unknownMessages int64
	droppedFrames   int64
}

// NewState returns an empty aggregate.
func NewState() *State {
	return &State{
		gifts:     make(map[string]*giftTally),
		memberIDs: make(map[string]struct{}),
	}
}

// Apply folds one event into the state. Derived totals are never tracked
// here; they are recomputed from collection sizes at snapshot time.
func (s *State) Apply(sess *domain.Session, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case domain.ChatMessage:
		s.chats = append(s.chats, e)

	case domain.GiftEvent:
		if !e.ComboTerminal {
			return
		}
		tally, ok := s.gifts[e.GiftName]
		if !ok {
			tally = &giftTally{senders: make(map[string]struct{})}
			s.gifts[e.GiftName] = tally
		}
		tally.count += e.CumulativeCount
		tally.totalValue += e.UnitValue * e.CumulativeCount
		if _, seen := tally.senders[e.UserID]; !seen && e.UserID != "" {
			tally.senders[e.UserID] = struct{}{}
			tally.senderList = append(tally.senderList, e.UserID)
		}

	case domain.MemberEnter:
		if _, seen := s.memberIDs[e.UserID]; seen {
			return
		}
		s.memberIDs[e.UserID] = struct{}{}
		s.memberList = append(s.memberList, e.Nickname)

	case domain.FollowEvent:
		s.follows = append(s.follows, e)

	case domain.LikeEvent:
		s.likes += e.Count

	case domain.RoomStats:
		s.viewers = e.ViewerCount
		sess.SetOwner(e.OwnerID, e.OwnerNickname)
	}
}

// CountDecodeError records a frame or payload that failed structural parsing.
func (s *State) CountDecodeError() {
	s.mu.Lock()
	s.decodeErrors++
	s.mu.Unlock()
}

// CountUnknownMessage records a payload with an unrecognized method tag.
func (s *State) CountUnknownMessage() {
	s.mu.Lock()
	s.unknownMessages++
	s.mu.Unlock()
}

// CountDroppedFrame records a frame dropped before reaching the classifier.
func (s *State) CountDroppedFrame() {
	s.mu.Lock()
	s.droppedFrames++
	s.mu.Unlock()
}

// Snapshot returns a consistent point-in-time checkpoint document. The lock
// is held only for the in-memory copy, never across I/O.
func (s *State) Snapshot(sess *domain.Session, now time.Time) *checkpoint.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &checkpoint.Document{
		LiveID:       sess.RoomID,
		Date:         sess.Date,
		Session:      sess.Index,
		UserID:       sess.OwnerID,
		Nickname:     sess.Nickname,
		TotalViewers: s.viewers,
		TotalLikes:   s.likes,
		ChatMessages: make([]checkpoint.ChatEntry, 0, len(s.chats)),
		Gifts:        make(map[string]checkpoint.GiftTally, len(s.gifts)),
		Members:      append([]string(nil), s.memberList...),
		Follows:      make([]checkpoint.FollowEntry, 0, len(s.follows)),
	}

	for _, c := range s.chats {
		doc.ChatMessages = append(doc.ChatMessages, checkpoint.ChatEntry{
			Timestamp: c.Timestamp,
			UserID:    c.UserID,
			Nickname:  c.Nickname,
			Content:   c.Content,
			Type:      "chat",
		})
	}
	for name, tally := range s.gifts {
		doc.Gifts[name] = checkpoint.GiftTally{
			Count:      tally.count,
			TotalValue: tally.totalValue,
			Senders:    append([]string(nil), tally.senderList...),
		}
	}
	for _, f := range s.follows {
		doc.Follows = append(doc.Follows, checkpoint.FollowEntry{
			Timestamp: f.Timestamp,
			UserID:    f.UserID,
			Nickname:  f.Nickname,
		})
	}

	doc.Stats = checkpoint.Stats{
		TotalChatMessages: len(doc.ChatMessages),
		TotalMembers:      len(doc.Members),
		TotalFollows:      len(doc.Follows),
		TotalGiftTypes:    len(doc.Gifts),
		SaveTime:          now.Format(time.RFC3339),
		DecodeErrors:      s.decodeErrors,
		UnknownMessages:   s.unknownMessages,
		DroppedFrames:     s.droppedFrames,
	}
	return doc
}
