// Package engine orchestrates one room's ingestion session: it signs and
// opens the push connection, runs the sequential read loop that feeds the
// decoder, classifier and aggregator, keeps the connection alive, reconnects
// with backoff, and drives checkpointing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/roomcast/internal/aggregate"
	"github.com/ashureev/roomcast/internal/checkpoint"
	"github.com/ashureev/roomcast/internal/config"
	"github.com/ashureev/roomcast/internal/domain"
	"github.com/ashureev/roomcast/internal/feed"
	"github.com/ashureev/roomcast/internal/roomapi"
	"github.com/ashureev/roomcast/internal/signing"
	"github.com/ashureev/roomcast/internal/wire"
)

// ErrSigningExhausted reports that all configured signing attempts failed.
// It is fatal: the process exits non-zero.
var ErrSigningExhausted = errors.New("signing attempts exhausted")

// ConnState is the connection lifecycle state.
type ConnState int32

// Connection lifecycle states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Engine is the connection manager for one room.
type Engine struct {
	cfg        *config.Config
	liveID     string
	gateway    signing.Gateway
	resolver   *roomapi.Resolver
	store      *checkpoint.Store
	dial       DialFunc
	decoder    feed.Decoder
	classifier *feed.Classifier
	logger     *slog.Logger
	now        func() time.Time

	// sessMu guards the session/state pair so checkpointing and session
	// rotation see a consistent pair.
	sessMu sync.Mutex
	sess   *domain.Session
	state  *aggregate.State

	room        *roomapi.RoomInfo
	connState   atomic.Int32
	lastTraffic atomic.Int64
}

// New creates an engine for one room.
func New(cfg *config.Config, liveID string, gateway signing.Gateway, resolver *roomapi.Resolver, store *checkpoint.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		liveID:     liveID,
		gateway:    gateway,
		resolver:   resolver,
		store:      store,
		dial:       DialWebsocket,
		classifier: feed.NewClassifier(),
		logger:     logger,
		now:        time.Now,
	}
}

// State returns the current connection state.
func (e *Engine) State() ConnState {
	return ConnState(e.connState.Load())
}

func (e *Engine) setState(s ConnState) {
	e.connState.Store(int32(s))
}

// Snapshot returns a point-in-time copy of the current session's aggregate.
func (e *Engine) Snapshot() *checkpoint.Document {
	e.sessMu.Lock()
	sess, state := e.sess, e.state
	e.sessMu.Unlock()
	if sess == nil {
		return nil
	}
	return state.Snapshot(sess, e.now())
}

// Run ingests the room's feed until ctx is cancelled or a fatal error
// occurs. A final checkpoint is written before Run returns in either case;
// cancellation returns nil.
func (e *Engine) Run(ctx context.Context) error {
	room, err := e.resolver.Resolve(ctx, e.liveID)
	if err != nil {
		return fmt.Errorf("resolve room: %w", err)
	}
	e.room = room
	e.logger.Info("room resolved",
		"live_id", e.liveID,
		"room_id", room.RoomID,
		"live", room.Live,
		"nickname", room.OwnerNickname,
	)

	e.sessMu.Lock()
	e.sess = domain.NewSession(e.liveID, e.store.NextSessionIndex(e.liveID), e.now())
	e.state = aggregate.NewState()
	e.sessMu.Unlock()

	// The checkpoint loop must also stop when connectLoop returns a fatal
	// error, not only on caller cancellation.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.checkpointLoop(runCtx)
	}()

	runErr := e.connectLoop(ctx)

	cancelRun()
	wg.Wait()
	e.setState(StateDisconnected)

	// Final flush happens after the read loop has stopped, so every event
	// decoded before shutdown is included.
	e.writeCheckpoint("final")

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func (e *Engine) connectLoop(ctx context.Context) error {
	backoff := NewBackoff(e.cfg.BackoffBase, e.cfg.BackoffMax)

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := e.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrSigningExhausted) {
			return err
		}

		if connected >= e.cfg.HealthyWindow {
			backoff.Reset()
		}

		e.setState(StateReconnecting)
		delay := backoff.Next()
		e.logger.Warn("connection lost, reconnecting",
			"error", err,
			"delay", delay.String(),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connectOnce runs one full connection lifecycle: sign, dial, read until
// the connection drops or ctx is cancelled. It reports how long the
// connection stayed up, measured from the successful dial so handshake time
// never counts toward the healthy window.
func (e *Engine) connectOnce(ctx context.Context) (time.Duration, error) {
	e.setState(StateConnecting)
	pushURL, err := e.signedURL(ctx)
	if err != nil {
		return 0, err
	}

	// The token rides the handshake URL; the dial is the authentication
	// exchange.
	e.setState(StateAuthenticating)
	dialCtx, cancelDial := context.WithTimeout(ctx, e.cfg.DialTimeout)
	header := http.Header{}
	header.Set("User-Agent", roomapi.UserAgent)
	header.Set("Cookie", "ttwid="+e.room.TTWID)
	tr, err := e.dial(dialCtx, pushURL, header)
	cancelDial()
	if err != nil {
		return 0, err
	}
	defer tr.Close()

	connectedAt := e.now()
	e.setState(StateConnected)
	e.lastTraffic.Store(e.now().UnixNano())
	e.logger.Info("connected to push feed", "room_id", e.room.RoomID)

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.heartbeatLoop(connCtx, tr)
	}()

	err = e.readLoop(connCtx, tr)
	cancelConn()
	wg.Wait()
	return e.now().Sub(connectedAt), err
}

// signedURL builds the push endpoint URL and obtains the handshake token,
// retrying up to the configured attempt count.
func (e *Engine) signedURL(ctx context.Context) (string, error) {
	params := e.pushParams()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.SigningAttempts; attempt++ {
		signCtx, cancel := context.WithTimeout(ctx, e.cfg.SigningTimeout)
		token, err := e.gateway.RequestToken(signCtx, e.room.RoomID, params)
		cancel()
		if err == nil {
			values := url.Values{}
			for k, v := range params {
				values.Set(k, v)
			}
			values.Set("signature", token)
			return e.cfg.PushEndpoint + "?" + values.Encode(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logger.Warn("signing attempt failed",
			"attempt", attempt,
			"max_attempts", e.cfg.SigningAttempts,
			"error", err,
		)
	}
	return "", fmt.Errorf("%w: %v", ErrSigningExhausted, lastErr)
}

func (e *Engine) pushParams() map[string]string {
	roomID := e.room.RoomID
	nowMs := e.now().UnixMilli()
	return map[string]string{
		"aid":                    "6383",
		"live_id":                "1",
		"device_platform":        "web",
		"room_id":                roomID,
		"support_wrds":           "1",
		"version_code":           "180800",
		"webcast_sdk_version":    "1.0.14",
		"update_version_code":    "1.0.14",
		"compress":               "gzip",
		"internal_ext":           fmt.Sprintf("internal_src:dim|wss_push_room_id:%s|fetch_time:%d|seq:1|wss_info:0-%d-0-0", roomID, nowMs, nowMs),
		"cursor":                 fmt.Sprintf("d-1_u-1_h-1_t-%d", nowMs),
		"host":                   "https://live.douyin.com",
		"im_path":                "/webcast/im/fetch/",
		"user_unique_id":         "",
		"identity":               "audience",
		"need_persist_msg_count": "15",
		"heartbeatDuration":      "0",
	}
}

// readLoop is the single sequential processing path: every frame is
// decoded, acked when required, and its events applied in delivery order.
// Combo semantics depend on that ordering.
func (e *Engine) readLoop(ctx context.Context, tr Transport) error {
	for {
		raw, err := tr.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport read: %w", err)
		}
		e.lastTraffic.Store(e.now().UnixNano())

		batch, err := e.decoder.Decode(raw)
		if err != nil {
			if errors.Is(err, feed.ErrNotMessageFrame) {
				continue
			}
			if errors.Is(err, feed.ErrUnknownFrameKind) {
				e.state.CountDroppedFrame()
				e.logger.Debug("dropping frame of unknown kind", "error", err)
				continue
			}
			e.state.CountDecodeError()
			e.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		// Ack after decode: the batch is applied synchronously below, so an
		// ack implies the events reach the aggregator.
		if batch.NeedAck {
			if err := tr.Send(ctx, wire.AckFrame(batch.LogID, batch.InternalExt)); err != nil {
				e.logger.Warn("failed to ack frame", "log_id", batch.LogID, "error", err)
			}
		}

		for _, msg := range batch.Messages {
			e.dispatch(msg)
		}
	}
}

func (e *Engine) dispatch(msg wire.Message) {
	ev, err := e.classifier.Classify(msg)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownMethod) {
			e.state.CountUnknownMessage()
		} else {
			e.state.CountDecodeError()
			e.logger.Debug("dropping malformed payload", "method", msg.Method, "error", err)
		}
		return
	}
	if ev == nil {
		return
	}

	switch v := ev.(type) {
	case domain.StreamEnd:
		e.rotateSession()
		return
	case domain.RoomStats:
		// The stats payload carries no owner; stamp the identity resolved
		// from the room page so the session fills on first stats.
		v.OwnerID = e.room.OwnerID
		v.OwnerNickname = e.room.OwnerNickname
		ev = v
	}

	e.sessMu.Lock()
	sess, state := e.sess, e.state
	e.sessMu.Unlock()
	state.Apply(sess, ev)
	e.logEvent(ev)
}

func (e *Engine) logEvent(ev domain.Event) {
	switch v := ev.(type) {
	case domain.ChatMessage:
		e.logger.Info("chat", "nickname", v.Nickname, "content", v.Content)
	case domain.GiftEvent:
		if v.ComboTerminal {
			e.logger.Info("gift", "nickname", v.Nickname, "gift", v.GiftName, "count", v.CumulativeCount)
		}
	case domain.MemberEnter:
		e.logger.Info("member entered", "nickname", v.Nickname)
	case domain.FollowEvent:
		e.logger.Info("follow", "nickname", v.Nickname)
	case domain.LikeEvent:
		e.logger.Debug("likes", "count", v.Count)
	case domain.RoomStats:
		e.logger.Debug("room stats", "viewers", v.ViewerCount)
	}
}

// rotateSession closes out the current session after the stream ended and
// starts a fresh one under the next index.
func (e *Engine) rotateSession() {
	e.writeCheckpoint("stream end")

	e.sessMu.Lock()
	old := e.sess
	e.sess = old.Next(e.now())
	e.state = aggregate.NewState()
	e.sessMu.Unlock()

	e.logger.Info("stream ended, rotated session",
		"room_id", old.RoomID,
		"closed_session", old.Index,
		"next_session", old.Index+1,
	)
}

// heartbeatLoop sends keepalive frames and watches for stale traffic. It
// never touches aggregate state; a stalled connection is closed so the read
// loop routes into reconnection.
func (e *Engine) heartbeatLoop(ctx context.Context, tr Transport) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		idle := e.now().Sub(time.Unix(0, e.lastTraffic.Load()))
		if idle > e.cfg.IdleTimeout {
			e.logger.Warn("no traffic within idle timeout, forcing reconnect", "idle", idle.String())
			tr.Close()
			return
		}

		hb := wire.HeartbeatFrame(uint64(e.now().UnixMilli()))
		if err := tr.Send(ctx, hb); err != nil {
			if ctx.Err() == nil {
				e.logger.Warn("heartbeat send failed", "error", err)
			}
			return
		}
		e.logger.Debug("heartbeat sent")
	}
}

// checkpointLoop writes periodic checkpoints until ctx is cancelled. The
// final flush is the caller's responsibility so it runs after the read loop
// has fully stopped.
func (e *Engine) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.writeCheckpoint("periodic")
		}
	}
}

// writeCheckpoint snapshots under the state lock and writes outside it; a
// failed write is logged and retried at the next trigger, never discarding
// in-memory state.
func (e *Engine) writeCheckpoint(reason string) {
	doc := e.Snapshot()
	if doc == nil {
		return
	}
	if err := e.store.Write(doc); err != nil {
		e.logger.Error("checkpoint write failed", "reason", reason, "error", err)
		return
	}
	e.logger.Info("checkpoint written",
		"reason", reason,
		"path", e.store.Path(doc),
		"chat_messages", doc.Stats.TotalChatMessages,
		"members", doc.Stats.TotalMembers,
	)
}
