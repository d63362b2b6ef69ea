package feed

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashureev/roomcast/internal/domain"
	"github.com/ashureev/roomcast/internal/wire"
)

// ErrUnknownMethod reports an inner message whose method tag has no mapping.
// Unknown methods are counted and dropped, never fatal.
var ErrUnknownMethod = errors.New("unknown message method")

// Method tags carried by the push feed.
const (
	methodChat        = "WebcastChatMessage"
	methodGift        = "WebcastGiftMessage"
	methodMember      = "WebcastMemberMessage"
	methodLike        = "WebcastLikeMessage"
	methodSocial      = "WebcastSocialMessage"
	methodRoomUserSeq = "WebcastRoomUserSeqMessage"
	methodControl     = "WebcastControlMessage"
)

// Classifier maps method-tagged messages to domain events.
type Classifier struct {
	now func() time.Time
}

// NewClassifier returns a Classifier stamping events with the wall clock.
func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// Classify maps one inner message to its event. The returned event is nil
// for messages the engine should ignore (e.g. a control message for a state
// other than stream end).
func (c *Classifier) Classify(msg wire.Message) (domain.Event, error) {
	switch msg.Method {
	case methodChat:
		p, err := wire.DecodeChat(msg.Payload)
		if err != nil {
			return nil, err
		}
		return domain.ChatMessage{
			Timestamp: c.now().Unix(),
			UserID:    formatUserID(p.User.ID),
			Nickname:  p.User.Nickname,
			Content:   p.Content,
		}, nil

	case methodGift:
		p, err := wire.DecodeGift(msg.Payload)
		if err != nil {
			return nil, err
		}
		ev := domain.GiftEvent{
			Timestamp:       c.now().Unix(),
			UserID:          formatUserID(p.User.ID),
			Nickname:        p.User.Nickname,
			GiftName:        p.GiftName,
			CumulativeCount: p.RepeatCount,
			UnitValue:       p.DiamondCount,
			ComboTerminal:   p.RepeatEnd == 1,
		}
		if p.GroupID != 0 {
			ev.ComboID = strconv.FormatInt(p.GroupID, 10)
		} else {
			// No combo id: a standalone send, terminal by definition.
			ev.ComboTerminal = true
			if ev.CumulativeCount == 0 {
				ev.CumulativeCount = 1
			}
		}
		return ev, nil

	case methodMember:
		p, err := wire.DecodeMember(msg.Payload)
		if err != nil {
			return nil, err
		}
		return domain.MemberEnter{
			UserID:   formatUserID(p.User.ID),
			Nickname: p.User.Nickname,
		}, nil

	case methodLike:
		p, err := wire.DecodeLike(msg.Payload)
		if err != nil {
			return nil, err
		}
		count := p.Count
		if count == 0 {
			count = 1
		}
		return domain.LikeEvent{
			UserID: formatUserID(p.User.ID),
			Count:  count,
		}, nil

	case methodSocial:
		p, err := wire.DecodeSocial(msg.Payload)
		if err != nil {
			return nil, err
		}
		return domain.FollowEvent{
			Timestamp: c.now().Unix(),
			UserID:    formatUserID(p.User.ID),
			Nickname:  p.User.Nickname,
		}, nil

	case methodRoomUserSeq:
		p, err := wire.DecodeRoomUserSeq(msg.Payload)
		if err != nil {
			return nil, err
		}
		return domain.RoomStats{ViewerCount: p.TotalUser}, nil

	case methodControl:
		p, err := wire.DecodeControl(msg.Payload)
		if err != nil {
			return nil, err
		}
		if p.Status == wire.ControlStatusStreamEnded {
			return domain.StreamEnd{}, nil
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, msg.Method)
	}
}

func formatUserID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}
