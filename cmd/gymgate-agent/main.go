package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gymgate/agent/internal/config"
	"github.com/gymgate/agent/internal/db"
	"github.com/gymgate/agent/internal/gate/device"
	"github.com/gymgate/agent/internal/gate/device/sim"
	"github.com/gymgate/agent/internal/gate/gymforce"
	"github.com/gymgate/agent/internal/gate/service"
	"github.com/gymgate/agent/internal/gate/store/sqlite"
	"github.com/gymgate/agent/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	conn, err := db.Open(ctx, db.Config{Path: cfg.App.DBPath, Env: cfg.App.Env})
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	if cfg.App.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{MembershipDays: 30}); err != nil {
			logger.Warn("dev seed failed", zap.Error(err))
		}
	}

	members := sqlite.NewMembershipStore(conn, writer)
	templates := sqlite.NewTemplateStore(conn, writer)
	audit := sqlite.NewAuditStore(conn, writer)

	// Remote authorization
	client := gymforce.New(gymforce.Config{
		BaseURL:        cfg.API.BaseURL,
		Email:          cfg.API.Email,
		Password:       cfg.API.Password,
		BranchID:       cfg.API.BranchID,
		Workers:        cfg.API.Workers,
		ConnectTimeout: cfg.API.ConnectTimeout(),
		ReadTimeout:    cfg.API.ReadTimeout(),
	}, logger.Named("gymforce"))

	// Domain services
	clock := service.SystemClock()
	vault := service.NewVault(templates, logger.Named("vault"))
	blocker := service.NewAutoBlocker(members, vault, audit, clock, logger.Named("autoblock"))

	dialer := newDialer(cfg.Device, logger)

	// Startup reconciliation: snapshot unprotected users, block lapsed
	// members.  A dead terminal is not fatal; ingestion retries anyway.
	if sess, err := dialer.Connect(ctx); err != nil {
		logger.Warn("startup sync skipped, device unreachable", zap.Error(err))
	} else {
		stats, err := blocker.SyncOnStartup(ctx, sess)
		if err != nil {
			logger.Warn("startup sync failed", zap.Error(err))
		} else {
			logger.Info("startup sync finished",
				zap.Int("device_users", stats.DeviceUsers),
				zap.Int("backed_up", stats.BackedUp),
				zap.Int("blocked", stats.Blocked))
		}
		_ = sess.Close()
	}

	sweeper := service.NewSweeper(blocker, dialer,
		service.SweeperConfig{Interval: cfg.Sweep.Interval()}, logger.Named("sweeper"))
	sweeper.Start(ctx)

	engine := service.NewIngestionEngine(dialer, client, service.EngineConfig{
		PollInterval: cfg.Device.PollInterval(),
		RetryBackoff: cfg.Device.RetryBackoff(),
	}, logger.Named("ingest"))
	engine.Start(ctx)

	go drain(engine, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	engine.Stop() // also closes the gymforce client
	sweeper.Stop()
}

// newDialer picks the terminal implementation.  The vendor driver
// speaks the ZKTeco wire protocol; until it lands, non-simulated
// configs get the simulator too so the rest of the agent can run.
// TODO: wire the zkteco driver for cfg.Addr once the protocol package
// is imported.
func newDialer(cfg config.DeviceConfig, logger *zap.Logger) device.Dialer {
	if !cfg.Simulate {
		logger.Warn("hardware driver not available, using simulator",
			zap.String("addr", cfg.Addr))
	}
	return sim.NewLive()
}

// drain keeps the engine's channels flowing and mirrors them to the
// log; a future local display can subscribe here instead.
func drain(engine *service.IngestionEngine, logger *zap.Logger) {
	for {
		select {
		case ev := <-engine.Events():
			logger.Debug("attendance event",
				zap.String("id", ev.ID),
				zap.String("user_id", ev.UserID),
				zap.String("status", string(ev.Status)),
				zap.String("reason", ev.Reason))
		case st := <-engine.StatusChanges():
			logger.Info("connection state", zap.String("state", string(st)))
		}
	}
}
