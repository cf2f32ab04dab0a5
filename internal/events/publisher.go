// Package events mirrors timer state changes onto a NATS JetStream
// stream, so tournament platforms and spectator services can follow games
// without holding WebSocket connections.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/api/internal/model"
)

const (
	streamName    = "BLITZTIME"
	subjectPrefix = "blitztime.timer"
)

// Publisher emits timer snapshots to an external event stream.
type Publisher interface {
	PublishState(ctx context.Context, state *model.TimerState) error
	Close()
}

// NoopPublisher drops all events, used when no stream is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishState(context.Context, *model.TimerState) error { return nil }
func (NoopPublisher) Close()                                                {}

// NATSPublisher publishes snapshots to JetStream.
type NATSPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSPublisher connects to NATS and ensures the timer stream exists.
func NewNATSPublisher(ctx context.Context, url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	p := &NATSPublisher{nc: nc, js: js}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *NATSPublisher) ensureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
	}
	if _, err := p.js.Stream(ctx, streamName); err != nil {
		if _, err := p.js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", streamName).Msg("Created JetStream stream")
	}
	return nil
}

// PublishState publishes one snapshot under blitztime.timer.<id>.state.
func (p *NATSPublisher) PublishState(ctx context.Context, state *model.TimerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	subject := fmt.Sprintf("%s.%d.state", subjectPrefix, state.ID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}
