package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/relayhub/internal/adapters/http"
	"github.com/dkeye/relayhub/internal/adapters/rtc"
	"github.com/dkeye/relayhub/internal/adapters/ws"
	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/app/orch"
	"github.com/dkeye/relayhub/internal/auth"
	"github.com/dkeye/relayhub/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:           "relayhub",
		Short:         "Audio relay hub between a PC producer and headset consumers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(env, cmd.Flags())
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := run(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("server error")
				return err
			}
			return nil
		},
	}
	cmd.SetContext(context.Background())

	f := cmd.Flags()
	f.StringVar(&env, "env", "", "config environment, reads config/config.<env>.yaml")
	f.Int("port", 8080, "listen port")
	f.String("mode", "release", "gin mode: debug, release or test")
	f.String("log-level", "info", "log level")
	f.String("static", "", "directory with the static client page")

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	reg := app.NewRegistry(app.Options{
		ConsumerQueueSize: cfg.Hub.ConsumerQueueSize,
		MaxConsumers:      cfg.Hub.MaxConsumers,
		Pending: app.PendingOptions{
			MaxFrames: cfg.Pending.MaxFrames,
			MaxBytes:  cfg.Pending.MaxBytes,
			TTL:       cfg.Pending.TTL,
		},
	}, nil)

	var issuer *auth.JWTAuthorizer
	authz := auth.New(cfg.Auth.JWTSecret)
	if j, ok := authz.(*auth.JWTAuthorizer); ok {
		issuer = j
	}

	sup := &orch.Supervisor{
		Registry:      reg,
		Router:        app.NewRouter(reg, cfg.Pending.MinFrameSize, app.NewOverflowPolicy(cfg.Hub.KickAfter)),
		Signals:       app.NewSignalRelay(reg),
		Auth:          authz,
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: cfg.SweepInterval,
	}
	if cfg.RTC.Enabled {
		dm := rtc.NewDirectManager(rtc.Configuration(cfg.RTC.ICEServers), cfg.RTC.GatherTimeout, sup.OnFrame)
		sup.Direct = dm
	}

	relay := ws.NewRelayWSController(sup, ws.NewSignalRateLimiter(cfg.Signal.Rate, cfg.Signal.Burst), ws.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	r := router.SetupRouter(gctx, cfg, router.Deps{
		Sup:         sup,
		Relay:       relay,
		Issuer:      issuer,
		TokenTTL:    cfg.Auth.TokenTTL,
		CodeLimiter: router.NewClientLimiter(cfg.API.CodeRate, cfg.API.CodeBurst),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("relay hub started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		sup.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err := g.Wait()
	log.Info().Msg("Server exited gracefully")
	return err
}
