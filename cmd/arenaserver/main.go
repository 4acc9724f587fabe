// Package main provides the arena server binary: websocket transport,
// matchmaking, rooms, and the fixed-rate synchronization engine.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/auth"
	"github.com/kestrel-games/arena/internal/config"
	"github.com/kestrel-games/arena/internal/game/content"
	"github.com/kestrel-games/arena/internal/game/matchmaking"
	"github.com/kestrel-games/arena/internal/game/room"
	"github.com/kestrel-games/arena/internal/game/session"
	"github.com/kestrel-games/arena/internal/game/simulation"
	"github.com/kestrel-games/arena/internal/gameserver"
	"github.com/kestrel-games/arena/internal/observability"
	"github.com/kestrel-games/arena/internal/server"
	"github.com/kestrel-games/arena/internal/storage/postgres"
	"github.com/kestrel-games/arena/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	noDB := flag.Bool("no-db", false, "run without player persistence")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("tick_rate", cfg.Game.TickRate),
	)

	catalogStart := time.Now()
	catalog, err := content.Load(cfg.Content.ModesPath)
	if err != nil {
		logger.Fatal("loading game mode catalog", zap.Error(err))
	}
	logger.Info("game mode catalog loaded",
		zap.Int("modes", catalog.ModeCount()),
		zap.Duration("elapsed", time.Since(catalogStart)),
	)

	var players gameserver.PlayerStore
	if *noDB {
		logger.Warn("player persistence disabled")
	} else {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		players = postgres.NewPlayerRepository(pool)
	}

	sessions := session.NewRegistry()
	hub := ws.NewHub(sessions, logger)
	rooms := room.NewRegistry(sessions, hub, logger)
	engine := simulation.NewEngine(cfg.Game, rooms, hub, logger)
	gameRooms := gameserver.NewGameRooms(rooms, engine)
	queue := matchmaking.NewQueue(cfg.Matchmaking, sessions, gameRooms, hub, logger)
	resolver := auth.NewResolver(cfg.Auth, logger)

	dispatcher := gameserver.NewDispatcher(
		sessions, rooms, engine, queue, catalog, resolver, players, hub, logger,
	)
	wsServer := ws.NewServer(cfg.Server, hub, dispatcher, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("simulation", engine)
	lifecycle.Add("matchmaking", queue)
	lifecycle.Add("websocket", wsServer)

	logger.Info("arena server initialized",
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}
