package wire

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendBytesField(b []byte, num protowire.Number, val []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, val)
}

func appendVarintField(b []byte, num protowire.Number, val uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, val)
}

func encodeUser(id uint64, nickname string) []byte {
	var b []byte
	b = appendVarintField(b, 1, id)
	b = appendBytesField(b, 3, []byte(nickname))
	return b
}

func TestPushFrameRoundTrip(t *testing.T) {
	t.Parallel()

	raw := EncodePushFrame(PushFrame{
		SeqID:       7,
		LogID:       42,
		PayloadType: PayloadTypeMsg,
		Payload:     []byte("inner"),
	})

	pf, err := DecodePushFrame(raw)
	if err != nil {
		t.Fatalf("DecodePushFrame failed: %v", err)
	}
	if pf.SeqID != 7 || pf.LogID != 42 {
		t.Fatalf("unexpected ids: seq=%d log=%d", pf.SeqID, pf.LogID)
	}
	if pf.PayloadType != PayloadTypeMsg {
		t.Fatalf("unexpected payload type %q", pf.PayloadType)
	}
	if !bytes.Equal(pf.Payload, []byte("inner")) {
		t.Fatalf("unexpected payload %q", pf.Payload)
	}
}

func TestDecodePushFrameSkipsUnknownFields(t *testing.T) {
	t.Parallel()

	var raw []byte
	raw = appendVarintField(raw, 2, 99)
	raw = appendBytesField(raw, 120, []byte("future extension"))
	raw = appendBytesField(raw, 7, []byte(PayloadTypeMsg))

	pf, err := DecodePushFrame(raw)
	if err != nil {
		t.Fatalf("DecodePushFrame failed: %v", err)
	}
	if pf.LogID != 99 || pf.PayloadType != PayloadTypeMsg {
		t.Fatalf("unexpected frame: %+v", pf)
	}
}

func TestDecodePushFrameMalformed(t *testing.T) {
	t.Parallel()

	// A lone truncated tag byte is not a valid field.
	if _, err := DecodePushFrame([]byte{0xff}); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestDecodeResponseWithMessages(t *testing.T) {
	t.Parallel()

	var msg []byte
	msg = appendBytesField(msg, 1, []byte("WebcastChatMessage"))
	msg = appendBytesField(msg, 2, []byte("payload"))
	msg = appendVarintField(msg, 3, 1234)

	var resp []byte
	resp = appendBytesField(resp, 1, msg)
	resp = appendBytesField(resp, 5, []byte("ext"))
	resp = appendVarintField(resp, 9, 1)

	got, err := DecodeResponse(resp)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
	if got.Messages[0].Method != "WebcastChatMessage" {
		t.Fatalf("unexpected method %q", got.Messages[0].Method)
	}
	if string(got.Messages[0].Payload) != "payload" || got.Messages[0].MsgID != 1234 {
		t.Fatalf("unexpected message: %+v", got.Messages[0])
	}
	if got.InternalExt != "ext" || !got.NeedAck {
		t.Fatalf("unexpected response metadata: %+v", got)
	}
}

func TestDecodeGiftPayload(t *testing.T) {
	t.Parallel()

	var gift []byte
	gift = appendVarintField(gift, 12, 5) // diamond count
	gift = appendBytesField(gift, 16, []byte("rose"))

	var p []byte
	p = appendVarintField(p, 5, 3) // repeat count
	p = appendBytesField(p, 7, encodeUser(1001, "alice"))
	p = appendVarintField(p, 9, 1) // repeat end
	p = appendVarintField(p, 11, 555)
	p = appendBytesField(p, 15, gift)

	got, err := DecodeGift(p)
	if err != nil {
		t.Fatalf("DecodeGift failed: %v", err)
	}
	if got.GiftName != "rose" || got.DiamondCount != 5 {
		t.Fatalf("unexpected gift struct: %+v", got)
	}
	if got.RepeatCount != 3 || got.RepeatEnd != 1 || got.GroupID != 555 {
		t.Fatalf("unexpected combo fields: %+v", got)
	}
	if got.User.ID != 1001 || got.User.Nickname != "alice" {
		t.Fatalf("unexpected user: %+v", got.User)
	}
}

func TestAckFrameCarriesLogIDAndExt(t *testing.T) {
	t.Parallel()

	raw := AckFrame(77, "internal-ext-token")
	pf, err := DecodePushFrame(raw)
	if err != nil {
		t.Fatalf("DecodePushFrame failed: %v", err)
	}
	if pf.LogID != 77 {
		t.Fatalf("unexpected log id %d", pf.LogID)
	}
	if pf.PayloadType != PayloadTypeAck {
		t.Fatalf("unexpected payload type %q", pf.PayloadType)
	}
	if string(pf.Payload) != "internal-ext-token" {
		t.Fatalf("unexpected payload %q", pf.Payload)
	}
}

func TestHeartbeatFrame(t *testing.T) {
	t.Parallel()

	pf, err := DecodePushFrame(HeartbeatFrame(123))
	if err != nil {
		t.Fatalf("DecodePushFrame failed: %v", err)
	}
	if pf.PayloadType != PayloadTypeHeartbeat || pf.LogID != 123 {
		t.Fatalf("unexpected heartbeat frame: %+v", pf)
	}
}
