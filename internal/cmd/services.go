package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/admission"
	"github.com/partydeck/partydeck/internal/config"
	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/dbconfig"
	"github.com/partydeck/partydeck/internal/gateway"
	"github.com/partydeck/partydeck/internal/leaderboard"
	"github.com/partydeck/partydeck/internal/reconnect"
	"github.com/partydeck/partydeck/internal/room"
	"github.com/partydeck/partydeck/internal/statesync"

	// Register minigame plugins.
	_ "github.com/partydeck/partydeck/internal/games/bingo"
	_ "github.com/partydeck/partydeck/internal/games/majority"
	_ "github.com/partydeck/partydeck/internal/games/pricehunt"
	_ "github.com/partydeck/partydeck/internal/games/trivia"
)

// Services holds every wired component.
type Services struct {
	Manager  *gateway.Manager
	Service  *gateway.Service
	Handler  *gateway.Handler
	Registry *room.Registry
	Engine   *statesync.Engine
	Guard    *admission.Guard

	repo      *leaderboard.Repository
	publisher *leaderboard.Publisher
}

func setupServices(cfg config.Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	library, err := content.Load(cfg.Content.Dir)
	if err != nil {
		return nil, fmt.Errorf("load content library: %w", err)
	}

	manager := gateway.NewManager(gateway.DefaultConnectionConfig())

	engine := statesync.NewEngine(statesync.Config{
		GapTolerance:      time.Duration(cfg.Sync.GapToleranceSec) * time.Second,
		MonitorInterval:   time.Duration(cfg.Sync.MonitorIntervalSec) * time.Second,
		ResyncBackoff:     time.Duration(cfg.Sync.ResyncBackoffSec) * time.Second,
		CompressThreshold: cfg.Sync.CompressThreshold,
	}, manager, clock)

	guard := admission.NewGuard(admission.Config{
		ActionsPerSecond: cfg.Admission.ActionsPerSecond,
		Burst:            cfg.Admission.Burst,
		IdleEviction:     time.Duration(cfg.Admission.IdleEvictionMin) * time.Minute,
		SweepInterval:    time.Minute,
	}, clock)

	svcs := &Services{
		Manager: manager,
		Engine:  engine,
		Guard:   guard,
	}

	recorder, err := svcs.setupRecorders(cfg)
	if err != nil {
		return nil, err
	}

	// The registry and the gateway service observe each other; the
	// service is installed after construction.
	var service *gateway.Service
	registry := room.NewRegistry(room.Config{
		RoomTTL:       cfg.RoomTTL(),
		PlayerGrace:   cfg.PlayerGrace(),
		HostGrace:     cfg.HostGrace(),
		SweepInterval: time.Duration(cfg.Rooms.SweepIntervalSec) * time.Second,
	}, clock, observerFunc(func() *gateway.Service { return service }))

	coordinator := reconnect.NewCoordinator(registry, engine, clock)

	service = gateway.NewService(
		manager, registry, engine, coordinator, guard,
		library, recorder, clock, cfg.Server.BaseURL,
	)
	service.Attach()

	svcs.Service = service
	svcs.Registry = registry
	svcs.Handler = gateway.NewHandler(manager, service, service)
	return svcs, nil
}

// setupRecorders builds the leaderboard sink chain from config.
func (s *Services) setupRecorders(cfg config.Config) (leaderboard.Recorder, error) {
	var sinks []leaderboard.Recorder

	if cfg.Leaderboard.DatabaseEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		repo, err := leaderboard.NewRepository(ctx, dbconfig.NewConfigFromEnv().DSN())
		if err != nil {
			return nil, fmt.Errorf("connect results database: %w", err)
		}
		s.repo = repo
		sinks = append(sinks, repo)
	}

	if cfg.Leaderboard.NATSEnabled {
		publisher, err := leaderboard.NewPublisher(leaderboard.JetStreamConfig{
			URL:           cfg.Leaderboard.NATSURL,
			StreamName:    cfg.Leaderboard.StreamName,
			SubjectPrefix: cfg.Leaderboard.SubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			MaxAge:        7 * 24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("connect NATS publisher: %w", err)
		}
		s.publisher = publisher
		sinks = append(sinks, publisher)
	}

	switch len(sinks) {
	case 0:
		log.Info().Msg("no leaderboard sinks enabled, results are discarded")
		return leaderboard.Noop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return leaderboard.Multi(sinks), nil
	}
}

// Close releases external connections.
func (s *Services) Close() {
	if s.repo != nil {
		s.repo.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
}

// observerFunc defers observer resolution until the gateway service
// exists, breaking the registry/service construction cycle.
type observerFunc func() *gateway.Service

func (f observerFunc) OnRosterChanged(r *room.Room)   { f().OnRosterChanged(r) }
func (f observerFunc) OnSettingsChanged(r *room.Room) { f().OnSettingsChanged(r) }
func (f observerFunc) OnRoomDestroyed(code string, connIDs []string, reason string) {
	f().OnRoomDestroyed(code, connIDs, reason)
}
