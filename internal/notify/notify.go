// Package notify publishes decision events to downstream listeners. It is
// optional: without a configured endpoint the service uses Nop.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the socket.io event decisions are emitted under.
const DefaultEvent = "decision"

// ErrNotConnected is returned when the socket has dropped.
var ErrNotConnected = errors.New("notifier is not connected")

// Event describes one evaluated request.
type Event struct {
	RequestID  string    `json:"requestId"`
	ActivityID string    `json:"activityId,omitempty"`
	Decision   string    `json:"decision"`
	At         time.Time `json:"at"`
}

// Notifier publishes decision events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// Options configures Dial.
type Options struct {
	Namespace          string
	Event              string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// SocketIO emits events over a persistent socket.io connection.
type SocketIO struct {
	client *socket.Socket
	event  string
	logger *slog.Logger
}

// Dial connects to a socket.io server and waits for the connection to be
// established.
func Dial(ctx context.Context, rawURL string, o Options) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("component", "notify", "url", rawURL)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", rawURL)
	}
	if o.Event == "" {
		o.Event = DefaultEvent
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	if parsed.Path != "" {
		opts.SetPath(parsed.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), opts)
	io := manager.Socket(o.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Notifier connected.", "sid", io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})

	logger.Debug("Connecting notifier.")
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIO{client: io, event: o.Event, logger: logger}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(o.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", o.ConnectTimeout)
	}
}

// Notify emits ev. Delivery is not acknowledged.
func (s *SocketIO) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.client.Connected() {
		return ErrNotConnected
	}
	s.client.Emit(s.event, ev)
	s.logger.Debug("Decision event emitted.", "event", s.event, "request_id", ev.RequestID)
	return nil
}

// Close disconnects the socket.
func (s *SocketIO) Close() error {
	s.logger.Info("Closing notifier.", "sid", s.client.Id())
	s.client.Disconnect()
	return nil
}
