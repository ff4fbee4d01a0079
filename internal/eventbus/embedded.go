package eventbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedServer wraps an in-process NATS server for single-binary
// deployments, started with JetStream disabled — this bus has no
// persisted streams to store.
type EmbeddedServer struct {
	server *server.Server
	conn   *nats.Conn
	bus    *Bus
}

// EmbeddedConfig configures the embedded server's bind address.
type EmbeddedConfig struct {
	Host string
	Port int
}

// DefaultEmbeddedConfig returns the conventional loopback bind.
func DefaultEmbeddedConfig() *EmbeddedConfig {
	return &EmbeddedConfig{Host: "127.0.0.1", Port: 4222}
}

// NewEmbeddedServer starts an embedded NATS server and connects a client
// to it, grounded on the teacher's queue/nats.NewEmbeddedServer bootstrap
// (server.Options → ns.Start → ReadyForConnections → nats.Connect), with
// the JetStream/stream-provisioning steps dropped.
func NewEmbeddedServer(cfg *EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg == nil {
		cfg = DefaultEmbeddedConfig()
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded event bus server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded event bus server failed to start within timeout")
	}

	slog.Info("Embedded event bus server started", "host", cfg.Host, "port", cfg.Port)

	url := fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("Event bus connection disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("Event bus connection reconnected")
		}),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded event bus server: %w", err)
	}

	return &EmbeddedServer{
		server: ns,
		conn:   conn,
		bus:    New(conn),
	}, nil
}

// Bus returns the publish/subscribe facade bound to this server.
func (e *EmbeddedServer) Bus() *Bus {
	return e.bus
}

// Connection returns the underlying NATS connection, for components (like
// the SSE handlers) that need to manage their own subscriptions directly.
func (e *EmbeddedServer) Connection() *nats.Conn {
	return e.conn
}

// Close shuts down the client connection and the embedded server.
func (e *EmbeddedServer) Close() error {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
	return nil
}
