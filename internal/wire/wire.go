// Package wire implements the binary push protocol spoken by the room's
// event feed: an outer PushFrame envelope wrapping a Response batch of
// method-tagged messages.
//
// The upstream schema is reverse-engineered, so the codec is hand-mapped
// with protowire rather than generated from a .proto. Field numbers follow
// the community mapping of the webcast push protocol; if the feed changes,
// this file is the only place to touch.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var errMalformed = errors.New("malformed wire data")

// Frame payload types.
const (
	PayloadTypeMsg       = "msg"
	PayloadTypeAck       = "ack"
	PayloadTypeHeartbeat = "hb"
)

// PushFrame is the outer envelope of every transport frame.
type PushFrame struct {
	SeqID       uint64
	LogID       uint64
	PayloadType string
	Payload     []byte
}

// Response is the decompressed inner batch carried by a "msg" frame.
type Response struct {
	Messages    []Message
	Cursor      string
	InternalExt string
	NeedAck     bool
}

// Message is one method-tagged payload inside a Response.
type Message struct {
	Method  string
	Payload []byte
	MsgID   int64
}

// User is the sender identity embedded in most payloads.
type User struct {
	ID       uint64
	Nickname string
}

// ChatPayload is the body of a WebcastChatMessage.
type ChatPayload struct {
	User    User
	Content string
}

// GiftPayload is the body of a WebcastGiftMessage. RepeatCount is the
// cumulative count for the combo identified by GroupID; RepeatEnd marks the
// terminal tick.
type GiftPayload struct {
	RepeatCount  int64
	ComboCount   int64
	User         User
	RepeatEnd    int32
	GroupID      int64
	GiftName     string
	DiamondCount int64
}

// MemberPayload is the body of a WebcastMemberMessage.
type MemberPayload struct {
	User User
}

// LikePayload is the body of a WebcastLikeMessage. Count is the batch size
// for this message, Total the room's running total.
type LikePayload struct {
	Count int64
	Total int64
	User  User
}

// SocialPayload is the body of a WebcastSocialMessage (follow).
type SocialPayload struct {
	User   User
	Action int64
}

// RoomUserSeqPayload is the body of a WebcastRoomUserSeqMessage.
type RoomUserSeqPayload struct {
	TotalUser int64
}

// ControlPayload is the body of a WebcastControlMessage. Status 3 means the
// stream has ended.
type ControlPayload struct {
	Status int32
}

// ControlStatusStreamEnded is the control status sent when the broadcast stops.
const ControlStatusStreamEnded = 3

// fieldValue holds one decoded top-level field: varint/fixed values in U,
// length-delimited values in B.
type fieldValue struct {
	U uint64
	B []byte
}

// walk iterates the top-level fields of a wire-encoded message, skipping
// groups and unknown field types.
func walk(b []byte, visit func(num protowire.Number, typ protowire.Type, v fieldValue) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errMalformed
		}
		b = b[n:]

		var v fieldValue
		switch typ {
		case protowire.VarintType:
			u, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return errMalformed
			}
			v.U = u
			b = b[m:]
		case protowire.Fixed32Type:
			u, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return errMalformed
			}
			v.U = uint64(u)
			b = b[m:]
		case protowire.Fixed64Type:
			u, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return errMalformed
			}
			v.U = u
			b = b[m:]
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errMalformed
			}
			v.B = raw
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return errMalformed
			}
			b = b[m:]
			continue
		}

		if err := visit(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodePushFrame parses the outer envelope of a raw transport frame.
func DecodePushFrame(b []byte) (PushFrame, error) {
	var pf PushFrame
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 1:
			pf.SeqID = v.U
		case 2:
			pf.LogID = v.U
		case 7:
			pf.PayloadType = string(v.B)
		case 8:
			pf.Payload = v.B
		}
		return nil
	})
	if err != nil {
		return PushFrame{}, fmt.Errorf("decode push frame: %w", err)
	}
	return pf, nil
}

// DecodeResponse parses the inner batch of a decompressed "msg" payload.
func DecodeResponse(b []byte) (Response, error) {
	var resp Response
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 1:
			msg, err := decodeMessage(v.B)
			if err != nil {
				return err
			}
			resp.Messages = append(resp.Messages, msg)
		case 2:
			resp.Cursor = string(v.B)
		case 5:
			resp.InternalExt = string(v.B)
		case 9:
			resp.NeedAck = v.U != 0
		}
		return nil
	})
	if err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func decodeMessage(b []byte) (Message, error) {
	var msg Message
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 1:
			msg.Method = string(v.B)
		case 2:
			msg.Payload = v.B
		case 3:
			msg.MsgID = int64(v.U)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func decodeUser(b []byte) (User, error) {
	var u User
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 1:
			u.ID = v.U
		case 3:
			u.Nickname = string(v.B)
		}
		return nil
	})
	return u, err
}

// DecodeChat parses a WebcastChatMessage payload.
func DecodeChat(b []byte) (ChatPayload, error) {
	var p ChatPayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 2:
			u, err := decodeUser(v.B)
			if err != nil {
				return err
			}
			p.User = u
		case 3:
			p.Content = string(v.B)
		}
		return nil
	})
	if err != nil {
		return ChatPayload{}, fmt.Errorf("decode chat: %w", err)
	}
	return p, nil
}

// DecodeGift parses a WebcastGiftMessage payload.
func DecodeGift(b []byte) (GiftPayload, error) {
	var p GiftPayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 5:
			p.RepeatCount = int64(v.U)
		case 6:
			p.ComboCount = int64(v.U)
		case 7:
			u, err := decodeUser(v.B)
			if err != nil {
				return err
			}
			p.User = u
		case 9:
			p.RepeatEnd = int32(v.U)
		case 11:
			p.GroupID = int64(v.U)
		case 15:
			return decodeGiftStruct(v.B, &p)
		}
		return nil
	})
	if err != nil {
		return GiftPayload{}, fmt.Errorf("decode gift: %w", err)
	}
	return p, nil
}

func decodeGiftStruct(b []byte, p *GiftPayload) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 12:
			p.DiamondCount = int64(v.U)
		case 16:
			p.GiftName = string(v.B)
		}
		return nil
	})
}

// DecodeMember parses a WebcastMemberMessage payload.
func DecodeMember(b []byte) (MemberPayload, error) {
	var p MemberPayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if num == 2 {
			u, err := decodeUser(v.B)
			if err != nil {
				return err
			}
			p.User = u
		}
		return nil
	})
	if err != nil {
		return MemberPayload{}, fmt.Errorf("decode member: %w", err)
	}
	return p, nil
}

// DecodeLike parses a WebcastLikeMessage payload.
func DecodeLike(b []byte) (LikePayload, error) {
	var p LikePayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 2:
			p.Count = int64(v.U)
		case 3:
			p.Total = int64(v.U)
		case 5:
			u, err := decodeUser(v.B)
			if err != nil {
				return err
			}
			p.User = u
		}
		return nil
	})
	if err != nil {
		return LikePayload{}, fmt.Errorf("decode like: %w", err)
	}
	return p, nil
}

// DecodeSocial parses a WebcastSocialMessage payload.
func DecodeSocial(b []byte) (SocialPayload, error) {
	var p SocialPayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		switch num {
		case 2:
			u, err := decodeUser(v.B)
			if err != nil {
				return err
			}
			p.User = u
		case 4:
			p.Action = int64(v.U)
		}
		return nil
	})
	if err != nil {
		return SocialPayload{}, fmt.Errorf("decode social: %w", err)
	}
	return p, nil
}

// DecodeRoomUserSeq parses a WebcastRoomUserSeqMessage payload.
func DecodeRoomUserSeq(b []byte) (RoomUserSeqPayload, error) {
	var p RoomUserSeqPayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if num == 7 {
			p.TotalUser = int64(v.U)
		}
		return nil
	})
	if err != nil {
		return RoomUserSeqPayload{}, fmt.Errorf("decode room user seq: %w", err)
	}
	return p, nil
}

// DecodeControl parses a WebcastControlMessage payload.
func DecodeControl(b []byte) (ControlPayload, error) {
	var p ControlPayload
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if num == 2 {
			p.Status = int32(v.U)
		}
		return nil
	})
	if err != nil {
		return ControlPayload{}, fmt.Errorf("decode control: %w", err)
	}
	return p, nil
}

// EncodePushFrame serializes an outgoing envelope.
func EncodePushFrame(pf PushFrame) []byte {
	var b []byte
	if pf.SeqID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, pf.SeqID)
	}
	if pf.LogID != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, pf.LogID)
	}
	if pf.PayloadType != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, pf.PayloadType)
	}
	if len(pf.Payload) > 0 {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, pf.Payload)
	}
	return b
}

// HeartbeatFrame builds the periodic keepalive frame.
func HeartbeatFrame(logID uint64) []byte {
	return EncodePushFrame(PushFrame{LogID: logID, PayloadType: PayloadTypeHeartbeat})
}

// AckFrame builds the acknowledgement for a batch that required one. The
// internal_ext of the decoded Response is echoed back as the payload.
func AckFrame(logID uint64, internalExt string) []byte {
	return EncodePushFrame(PushFrame{
		LogID:       logID,
		PayloadType: PayloadTypeAck,
		Payload:     []byte(internalExt),
	})
}
