package runtimeclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/runtimeclient/grpccodec"
)

const browserBatchMethod = "/runtime.v1.BrowserBatch/Exec"

type wireStep struct {
	Index  int            `json:"index"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

type wireResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// CompositeClient is the Client implementation actually registered with
// the pool: plain REST for every capability, and a dedicated gRPC
// streaming transport for ExecBrowserBatch, adapted from the teacher's
// internal/dispatcher (per-endpoint grpc.ClientConn with keepalive,
// dialed lazily and cached).
type CompositeClient struct {
	*HTTPClient
	grpcTarget string
	logger     *slog.Logger
	conn       *grpc.ClientConn
}

func NewCompositeClient(endpoint, grpcTarget string, timeout time.Duration, logger *slog.Logger) *CompositeClient {
	return &CompositeClient{
		HTTPClient: NewHTTPClient(endpoint, timeout, logger),
		grpcTarget: grpcTarget,
		logger:     logger.With(slog.String("grpc_target", grpcTarget)),
	}
}

func (c *CompositeClient) dial() (*grpc.ClientConn, error) {
	if c.conn != nil && c.conn.GetState().String() != "SHUTDOWN" {
		return c.conn, nil
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(c.grpcTarget,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpccodec.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("runtimeclient: dial browser batch endpoint: %w", err)
	}
	c.conn = conn
	return conn, nil
}

func (c *CompositeClient) ExecBrowserBatch(ctx context.Context, steps []BrowserStep, timeout time.Duration) (<-chan BrowserStepResult, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, apperr.RuntimeError("browser batch dial failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "ExecBrowserBatch",
		ClientStreams: true,
		ServerStreams: true,
	}, browserBatchMethod)
	if err != nil {
		cancel()
		return nil, apperr.RuntimeError("browser batch stream open failed", err)
	}

	for i, step := range steps {
		if err := stream.SendMsg(&wireStep{Index: i, Action: step.Action, Args: step.Args}); err != nil {
			cancel()
			return nil, apperr.RuntimeError("browser batch send failed", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, apperr.RuntimeError("browser batch close-send failed", err)
	}

	out := make(chan BrowserStepResult, len(steps))
	go func() {
		defer cancel()
		defer close(out)
		for {
			var res wireResult
			if err := stream.RecvMsg(&res); err != nil {
				if err != io.EOF {
					c.logger.Error("browser batch stream error", "error", err)
				}
				return
			}
			select {
			case out <- BrowserStepResult{Index: res.Index, Success: res.Success, Output: res.Output, Error: res.Error}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *CompositeClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
