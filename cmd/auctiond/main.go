package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealedbid/config"
	"sealedbid/core/events"
	"sealedbid/core/state"
	"sealedbid/fhe"
	"sealedbid/native/auction"
	"sealedbid/observability"
	"sealedbid/observability/logging"
	"sealedbid/rpc"
	"sealedbid/services/revealer"
	"sealedbid/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AUCTIOND_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := bootLogger(cfg, env)

	owner, err := config.Address(cfg.OwnerAddress)
	if err != nil {
		logger.Error("Invalid owner address", slog.Any("error", err))
		os.Exit(1)
	}
	contract, err := config.Address(cfg.ContractAddress)
	if err != nil {
		logger.Error("Invalid contract address", slog.Any("error", err))
		os.Exit(1)
	}
	gateway, err := config.Address(cfg.GatewayAddress)
	if err != nil {
		logger.Error("Invalid gateway address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "auction"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	crypt := fhe.NewLocalEngine()
	bus := events.NewBus()

	engine := auction.NewEngine()
	engine.SetState(manager)
	engine.SetFHE(crypt)
	engine.SetOwner(owner)
	engine.SetSelf(contract)
	engine.SetEmitter(bus)

	if gateway != ([20]byte{}) {
		if _, configured, err := engine.GatewayOperator(); err != nil {
			logger.Error("Gateway lookup failed", slog.Any("error", err))
			os.Exit(1)
		} else if !configured {
			if err := engine.UpdateGatewayOperator(owner, gateway); err != nil {
				logger.Error("Gateway bootstrap failed", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("Gateway operator configured", "operator", cfg.GatewayAddress)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Surface engine activity in logs and metrics.
	go logEvents(ctx, bus, logger)

	if cfg.EnableLocalGateway {
		rev := revealer.New(engine, crypt, gateway, logger)
		go rev.Run(ctx, bus)
		logger.Info("Local reveal gateway enabled")
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/rpc", rpc.NewServer(engine))

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting auctiond", "listen", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", slog.Any("error", err))
	}
}

func bootLogger(cfg *config.Config, env string) *slog.Logger {
	if strings.TrimSpace(cfg.LogFile) != "" {
		return logging.SetupFile("auctiond", env, cfg.LogFile)
	}
	return logging.Setup("auctiond", env)
}

func logEvents(ctx context.Context, bus *events.Bus, logger *slog.Logger) {
	ch, cancel := bus.Subscribe(128)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			observability.ModuleMetrics().RecordEvent(evt.EventType())
			logger.Info("auction event", "type", evt.EventType())
		}
	}
}
