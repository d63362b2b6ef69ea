package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyToken               = errors.New("signer returned an empty token")
)

const signMethod = "/roomcast.signer.v1.Signer/Sign"

// The signer sidecar hosts the reverse-engineered JS routine, so it is not
// a Go process and shares no generated stubs with us. Calls use the JSON
// codec instead of protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type signRequest struct {
	RoomID string            `json:"room_id"`
	Params map[string]string `json:"params"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// GrpcGateway is a Gateway backed by the signer sidecar over gRPC.
type GrpcGateway struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// GrpcGatewayConfig holds configuration for the signer client.
type GrpcGatewayConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcGatewayConfig returns default configuration.
func DefaultGrpcGatewayConfig() GrpcGatewayConfig {
	return GrpcGatewayConfig{
		Address:          "localhost:50061",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcGateway connects to the signer sidecar. The connection is probed
// during startup so a bad signer endpoint fails fast instead of at the
// first handshake.
func NewGrpcGateway(cfg GrpcGatewayConfig, logger *slog.Logger) (*GrpcGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to signer at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close signer connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("signer at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to signer sidecar", "address", cfg.Address)

	return &GrpcGateway{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the signer connection.
func (g *GrpcGateway) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close signer connection", "error", err)
		}
	}
}

// RequestToken signs the connection parameters for a room.
func (g *GrpcGateway) RequestToken(ctx context.Context, roomID string, params map[string]string) (string, error) {
	req := &signRequest{RoomID: roomID, Params: params}
	resp := &signResponse{}
	if err := g.conn.Invoke(ctx, signMethod, req, resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrSigning, resp.Error)
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("%w: %v", ErrSigning, errEmptyToken)
	}
	return resp.Signature, nil
}
