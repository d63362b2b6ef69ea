package feed

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ashureev/roomcast/internal/domain"
	"github.com/ashureev/roomcast/internal/wire"
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

func encodeMessage(method string, payload []byte) []byte {
	var b []byte
	b = appendBytesField(b, 1, []byte(method))
	b = appendBytesField(b, 2, payload)
	return b
}

func encodeResponse(needAck bool, internalExt string, messages ...[]byte) []byte {
	var b []byte
	for _, m := range messages {
		b = appendBytesField(b, 1, m)
	}
	b = appendBytesField(b, 5, []byte(internalExt))
	if needAck {
		b = appendVarintField(b, 9, 1)
	}
	return b
}

func encodeFrame(t *testing.T, logID uint64, compress bool, response []byte) []byte {
	t.Helper()
	payload := response
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(response); err != nil {
			t.Fatalf("gzip write failed: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close failed: %v", err)
		}
		payload = buf.Bytes()
	}
	return wire.EncodePushFrame(wire.PushFrame{
		LogID:       logID,
		PayloadType: wire.PayloadTypeMsg,
		Payload:     payload,
	})
}

func encodeChatPayload(userID uint64, nickname, content string) []byte {
	var b []byte
	b = appendBytesField(b, 2, encodeUser(userID, nickname))
	b = appendBytesField(b, 3, []byte(content))
	return b
}

func TestDecoderUncompressedFrame(t *testing.T) {
	t.Parallel()

	msg := encodeMessage("WebcastChatMessage", encodeChatPayload(1, "alice", "hi"))
	raw := encodeFrame(t, 9, false, encodeResponse(true, "ext", msg))

	var dec Decoder
	batch, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(batch.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(batch.Messages))
	}
	if !batch.NeedAck || batch.LogID != 9 || batch.InternalExt != "ext" {
		t.Fatalf("unexpected ack metadata: %+v", batch)
	}
}

func TestDecoderGzipFrame(t *testing.T) {
	t.Parallel()

	msg := encodeMessage("WebcastChatMessage", encodeChatPayload(1, "alice", "hi"))
	raw := encodeFrame(t, 3, true, encodeResponse(false, "", msg))

	var dec Decoder
	batch, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(batch.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(batch.Messages))
	}
	if batch.NeedAck {
		t.Fatal("expected no ack required")
	}
}

func TestDecoderSkipsNonMessageFrames(t *testing.T) {
	t.Parallel()

	var dec Decoder
	for _, kind := range []string{wire.PayloadTypeHeartbeat, wire.PayloadTypeAck} {
		raw := wire.EncodePushFrame(wire.PushFrame{PayloadType: kind})
		_, err := dec.Decode(raw)
		if !errors.Is(err, ErrNotMessageFrame) {
			t.Fatalf("expected ErrNotMessageFrame for %q, got %v", kind, err)
		}
	}
}

func TestDecoderFlagsUnknownFrameKind(t *testing.T) {
	t.Parallel()

	raw := wire.EncodePushFrame(wire.PushFrame{PayloadType: "qos"})

	var dec Decoder
	_, err := dec.Decode(raw)
	if !errors.Is(err, ErrUnknownFrameKind) {
		t.Fatalf("expected ErrUnknownFrameKind, got %v", err)
	}
	if errors.Is(err, ErrNotMessageFrame) {
		t.Fatal("unknown frame kinds must not look like benign non-message frames")
	}
}

func TestDecoderMalformedFrame(t *testing.T) {
	t.Parallel()

	var dec Decoder
	if _, err := dec.Decode([]byte{0xff, 0x01, 0x02}); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestDecoderCorruptGzip(t *testing.T) {
	t.Parallel()

	raw := wire.EncodePushFrame(wire.PushFrame{
		PayloadType: wire.PayloadTypeMsg,
		Payload:     []byte{0x1f, 0x8b, 0x00, 0x01, 0x02},
	})

	var dec Decoder
	if _, err := dec.Decode(raw); err == nil {
		t.Fatal("expected error for corrupt gzip payload")
	}
}

func fixedClassifier() *Classifier {
	c := NewClassifier()
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestClassifyChat(t *testing.T) {
	t.Parallel()

	c := fixedClassifier()
	ev, err := c.Classify(wire.Message{
		Method:  "WebcastChatMessage",
		Payload: encodeChatPayload(42, "bob", "hello"),
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	chat, ok := ev.(domain.ChatMessage)
	if !ok {
		t.Fatalf("expected ChatMessage, got %T", ev)
	}
	if chat.UserID != "42" || chat.Nickname != "bob" || chat.Content != "hello" {
		t.Fatalf("unexpected chat: %+v", chat)
	}
	if chat.Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp %d", chat.Timestamp)
	}
}

func TestClassifyGiftComboFields(t *testing.T) {
	t.Parallel()

	var gift []byte
	gift = appendVarintField(gift, 12, 10)
	gift = appendBytesField(gift, 16, []byte("rose"))

	var p []byte
	p = appendVarintField(p, 5, 3)
	p = appendBytesField(p, 7, encodeUser(7, "carol"))
	p = appendVarintField(p, 9, 1)
	p = appendVarintField(p, 11, 900)
	p = appendBytesField(p, 15, gift)

	c := fixedClassifier()
	ev, err := c.Classify(wire.Message{Method: "WebcastGiftMessage", Payload: p})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	g, ok := ev.(domain.GiftEvent)
	if !ok {
		t.Fatalf("expected GiftEvent, got %T", ev)
	}
	if g.GiftName != "rose" || g.ComboID != "900" || g.CumulativeCount != 3 {
		t.Fatalf("unexpected gift: %+v", g)
	}
	if !g.ComboTerminal || g.UnitValue != 10 {
		t.Fatalf("unexpected combo fields: %+v", g)
	}
}

func TestClassifyGiftWithoutComboIsTerminal(t *testing.T) {
	t.Parallel()

	var p []byte
	p = appendBytesField(p, 7, encodeUser(7, "carol"))
	p = appendBytesField(p, 15, appendBytesField(nil, 16, []byte("rose")))

	c := fixedClassifier()
	ev, err := c.Classify(wire.Message{Method: "WebcastGiftMessage", Payload: p})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	g := ev.(domain.GiftEvent)
	if !g.ComboTerminal {
		t.Fatal("gift without combo id must be terminal by definition")
	}
	if g.CumulativeCount != 1 {
		t.Fatalf("expected default count 1, got %d", g.CumulativeCount)
	}
}

func TestClassifyLikeDefaultsToOne(t *testing.T) {
	t.Parallel()

	var p []byte
	p = appendBytesField(p, 5, encodeUser(3, "dave"))

	c := fixedClassifier()
	ev, err := c.Classify(wire.Message{Method: "WebcastLikeMessage", Payload: p})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	like := ev.(domain.LikeEvent)
	if like.Count != 1 {
		t.Fatalf("expected count 1, got %d", like.Count)
	}
}

func TestClassifyControlStreamEnd(t *testing.T) {
	t.Parallel()

	c := fixedClassifier()

	ended := appendVarintField(nil, 2, uint64(wire.ControlStatusStreamEnded))
	ev, err := c.Classify(wire.Message{Method: "WebcastControlMessage", Payload: ended})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if _, ok := ev.(domain.StreamEnd); !ok {
		t.Fatalf("expected StreamEnd, got %T", ev)
	}

	other := appendVarintField(nil, 2, 1)
	ev, err = c.Classify(wire.Message{Method: "WebcastControlMessage", Payload: other})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event for non-terminal control status, got %T", ev)
	}
}

func TestClassifyUnknownMethod(t *testing.T) {
	t.Parallel()

	c := fixedClassifier()
	_, err := c.Classify(wire.Message{Method: "WebcastFutureMessage"})
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}
