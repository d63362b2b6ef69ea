// Package checkpoint persists point-in-time snapshots of aggregated session
// state as JSON documents, one file per room session, replaced atomically on
// every write.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Document is the on-disk checkpoint layout. It is an immutable copy of
// aggregated state plus session identity and a save timestamp; each write
// supersedes the previous file.
type Document struct {
	LiveID       string               `json:"live_id"`
	Date         string               `json:"date"`
	Session      int                  `json:"session"`
	UserID       string               `json:"user_id"`
	Nickname     string               `json:"nickname"`
	TotalViewers int64                `json:"total_viewers"`
	TotalLikes   int64                `json:"total_likes"`
	ChatMessages []ChatEntry          `json:"chat_messages"`
	Gifts        map[string]GiftTally `json:"gifts"`
	Members      []string             `json:"members"`
	Follows      []FollowEntry        `json:"follows"`
	Stats        Stats                `json:"stats"`
}

// ChatEntry is one chat line in the document.
type ChatEntry struct {
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// GiftTally is the per-gift aggregate.
type GiftTally struct {
	Count      int64    `json:"count"`
	TotalValue int64    `json:"total_value"`
	Senders    []string `json:"senders"`
}

// FollowEntry is one follow in the document.
type FollowEntry struct {
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
}

// Stats is the derived-counter block. The totals are computed from the
// backing collections at snapshot time; the error counters report frames
// and payloads absorbed without stopping ingestion.
type Stats struct {
	TotalChatMessages int    `json:"total_chat_messages"`
	TotalMembers      int    `json:"total_members"`
	TotalFollows      int    `json:"total_follows"`
	TotalGiftTypes    int    `json:"total_gift_types"`
	SaveTime          string `json:"save_time"`
	DecodeErrors      int64  `json:"decode_errors"`
	UnknownMessages   int64  `json:"unknown_messages"`
	DroppedFrames     int64  `json:"dropped_frames"`
}

// Store writes checkpoint documents under a data directory.
type Store struct {
	dir string
}

// NewStore creates the data directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the final file path for a document.
func (s *Store) Path(doc *Document) string {
	name := fmt.Sprintf("%s_%d_%s.json", doc.LiveID, doc.Session, doc.Date)
	return filepath.Join(s.dir, name)
}

// Write serializes the document to its session file. The document is
// written to a temporary file in the same directory and renamed over the
// final path, so an interrupted write never corrupts or truncates the
// previously committed file.
func (s *Store) Write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	final := s.Path(doc)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(final)+".tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// NextSessionIndex scans existing checkpoint files for the room and returns
// the index after the highest one found, starting at 1 for a fresh room.
func (s *Store) NextSessionIndex(roomID string) int {
	pattern := filepath.Join(s.dir, roomID+"_*_*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return 1
	}
	maxIndex := 0
	for _, f := range files {
		parts := strings.Split(filepath.Base(f), "_")
		if len(parts) < 3 {
			continue
		}
		n, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			continue
		}
		if n > maxIndex {
			maxIndex = n
		}
	}
	return maxIndex + 1
}
