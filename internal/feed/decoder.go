// Package feed turns raw transport frames into typed domain events: the
// Decoder unwraps and decompresses the envelope, the Classifier maps each
// inner message to an event.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ashureev/roomcast/internal/wire"
)

var (
	// ErrNotMessageFrame reports a frame whose payload type is known but
	// carries no batch (heartbeat and ack replies). Callers skip these
	// without counting an error.
	ErrNotMessageFrame = errors.New("frame carries no message batch")

	// ErrUnknownFrameKind reports a frame whose payload type is not
	// recognized at all. Callers drop and count these, separately from
	// payload-level unknown message methods.
	ErrUnknownFrameKind = errors.New("unrecognized frame payload type")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Batch is one decoded frame: the inner messages plus the metadata needed
// to acknowledge it.
type Batch struct {
	Messages    []wire.Message
	NeedAck     bool
	LogID       uint64
	InternalExt string
}

// Decoder parses raw transport frames.
type Decoder struct{}

// Decode unwraps one raw frame into a Batch. A structural failure anywhere
// (envelope, decompression, inner batch) returns an error; a single
// malformed frame is never fatal to the stream, the caller counts and
// continues.
func (Decoder) Decode(raw []byte) (Batch, error) {
	pf, err := wire.DecodePushFrame(raw)
	if err != nil {
		return Batch{}, err
	}
	switch pf.PayloadType {
	case wire.PayloadTypeMsg, "":
	case wire.PayloadTypeHeartbeat, wire.PayloadTypeAck:
		return Batch{}, fmt.Errorf("%w: %q", ErrNotMessageFrame, pf.PayloadType)
	default:
		return Batch{}, fmt.Errorf("%w: %q", ErrUnknownFrameKind, pf.PayloadType)
	}

	payload := pf.Payload
	if bytes.HasPrefix(payload, gzipMagic) {
		payload, err = gunzip(payload)
		if err != nil {
			return Batch{}, fmt.Errorf("decompress frame payload: %w", err)
		}
	}

	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		return Batch{}, err
	}

	return Batch{
		Messages:    resp.Messages,
		NeedAck:     resp.NeedAck,
		LogID:       pf.LogID,
		InternalExt: resp.InternalExt,
	}, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}
