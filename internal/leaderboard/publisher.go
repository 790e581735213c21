package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
)

// JetStreamConfig holds publisher settings.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultJetStreamConfig returns the publisher defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "GAME_RESULTS",
		SubjectPrefix: "party.results",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Publisher emits results to a NATS JetStream stream so downstream
// consumers (global leaderboards, stats) can pick them up.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(cfg JetStreamConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     p.config.StreamName,
		Subjects: []string{p.config.SubjectPrefix + ".>"},
		MaxAge:   p.config.MaxAge,
	})
	return err
}

// Record implements Recorder by publishing an event envelope.
func (p *Publisher) Record(ctx context.Context, result models.GameResult) error {
	envelope := map[string]any{
		"eventId":   uuid.New().String(),
		"eventType": "GameFinished",
		"roomCode":  result.RoomCode,
		"timestamp": result.EndedAt,
		"payload":   result,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal result envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, result.GameType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	log.Debug().Str("subject", subject).Str("room", result.RoomCode).Msg("game result published")
	return nil
}

// Close shuts the NATS connection down.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
