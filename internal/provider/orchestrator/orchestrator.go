// Package orchestrator provides a generator that streams responses from a
// remote orchestrator service over gRPC.
//
// Requests and responses are google.protobuf.Struct messages, so no generated
// stubs are needed. A request carries "model" and "messages" (a list of
// {role, content}); each response carries "role", "content" and optionally
// "done" or "error".
package orchestrator

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/resilience"
)

// GenerateMethod is the full name of the server-streaming RPC
const GenerateMethod = "/june.generator.v1.Generator/Generate"

var _ provider.Generator = (*Generator)(nil)

var generateDesc = &grpc.StreamDesc{
	StreamName:    "Generate",
	ServerStreams: true,
}

// Generator manages the gRPC connection to the orchestrator
type Generator struct {
	target    string
	model     string
	conn      *grpc.ClientConn
	reconnect *resilience.ReconnectConfig
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

type options struct {
	tls       bool
	dialOpts  []grpc.DialOption
	reconnect *resilience.ReconnectConfig
}

// Option configures a Generator
type Option func(*options)

// WithTLS enables transport security using the system roots
func WithTLS(enabled bool) Option {
	return func(o *options) { o.tls = enabled }
}

// WithDialOptions appends raw gRPC dial options
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithReconnect sets how opening a stream is retried
func WithReconnect(cfg *resilience.ReconnectConfig) Option {
	return func(o *options) { o.reconnect = cfg }
}

// New creates a generator for target. The connection is established lazily.
func New(target, model string, opts ...Option) (*Generator, error) {
	o := &options{reconnect: resilience.DefaultReconnectConfig()}
	for _, opt := range opts {
		opt(o)
	}

	creds := insecure.NewCredentials()
	if o.tls {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, o.dialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator client for %s: %w", target, err)
	}

	return &Generator{
		target:    target,
		model:     model,
		conn:      conn,
		reconnect: o.reconnect,
		logger:    observability.WithComponent("orchestrator_generator").With().Str("target", target).Logger(),
	}, nil
}

// Generate implements provider.Generator. Opening the stream is retried
// until the first response arrives; once output has started, a failure ends
// the turn.
func (g *Generator) Generate(ctx context.Context, history []provider.Message) (<-chan provider.Delta, <-chan error) {
	return provider.StreamDeltas(ctx, func(send func(provider.Delta) bool) error {
		req, err := buildRequest(g.model, history)
		if err != nil {
			return err
		}

		// Cancelling releases the stream when we stop reading before EOF
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var (
			stream grpc.ClientStream
			first  *structpb.Struct
		)
		err = resilience.Reconnect(ctx, "orchestrator", func(ctx context.Context) error {
			if g.isClosed() {
				return fmt.Errorf("orchestrator client is closed")
			}
			s, err := g.conn.NewStream(ctx, generateDesc, GenerateMethod)
			if err != nil {
				return err
			}
			if err := s.SendMsg(req); err != nil {
				return err
			}
			if err := s.CloseSend(); err != nil {
				return err
			}
			msg := &structpb.Struct{}
			if err := s.RecvMsg(msg); err != nil {
				if err == io.EOF {
					msg = nil
				} else {
					return err
				}
			}
			stream, first = s, msg
			return nil
		}, g.reconnect)
		if err != nil {
			return fmt.Errorf("failed to call Generate: %w", err)
		}

		for msg := first; msg != nil; {
			done, err := g.handle(msg, send)
			if err != nil || done {
				return err
			}

			msg = &structpb.Struct{}
			if err := stream.RecvMsg(msg); err != nil {
				if err == io.EOF {
					return nil
				}
				return fmt.Errorf("error receiving from Generate stream: %w", err)
			}
		}
		return nil
	})
}

// handle forwards one response. It reports whether the stream is finished.
func (g *Generator) handle(msg *structpb.Struct, send func(provider.Delta) bool) (bool, error) {
	fields := msg.GetFields()

	if e := fields["error"].GetStringValue(); e != "" {
		g.logger.Error().Str("error", e).Msg("Orchestrator error")
		return true, fmt.Errorf("orchestrator: %s", e)
	}

	if content := fields["content"].GetStringValue(); content != "" {
		role := fields["role"].GetStringValue()
		if role == "" {
			role = provider.RoleAssistant
		}
		if !send(provider.Delta{Role: role, Content: content}) {
			return true, nil
		}
	}

	if fields["done"].GetBoolValue() {
		g.logger.Debug().Msg("Generate stream completed")
		return true, nil
	}
	return false, nil
}

func buildRequest(model string, history []provider.Message) (*structpb.Struct, error) {
	messages := make([]any, len(history))
	for i, m := range history {
		messages[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	req, err := structpb.NewStruct(map[string]any{
		"model":    model,
		"messages": messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return req, nil
}

// HealthCheck reports an error while the connection is failing
func (g *Generator) HealthCheck(ctx context.Context) error {
	if g.isClosed() {
		return fmt.Errorf("orchestrator client is closed")
	}
	switch state := g.conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("orchestrator connection is %s", state)
	case connectivity.Idle:
		g.conn.Connect()
	}
	return nil
}

// Close closes the gRPC connection
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.conn.Close()
}

func (g *Generator) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}
