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

	router "github.com/dkeye/parlor/internal/adapters/http"
	sig "github.com/dkeye/parlor/internal/adapters/signal"
	"github.com/dkeye/parlor/internal/app"
	"github.com/dkeye/parlor/internal/auth"
	"github.com/dkeye/parlor/internal/config"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/dkeye/parlor/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configEnv string

	root := &cobra.Command{
		Use:           "parlor",
		Short:         "Real-time room chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configEnv, "config-env", "", "config environment (config/config.<env>.yaml)")

	load := func() (*config.Config, error) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		cfg, err := config.Load(configEnv)
		if err != nil {
			return nil, err
		}
		setupLogger(cfg.Log)
		return cfg, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the chat server",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				db, err := store.Open(cfg.DatabasePath)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Migrate(cmd.Context()); err != nil {
					return err
				}
				log.Info().Str("db", cfg.DatabasePath).Msg("schema ready")
				return nil
			},
		},
		newTokenCmd(load),
		newUserCmd(load),
		newRoomCmd(load),
	)
	return root
}

func newTokenCmd(load loadFunc) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user_id> [username]",
		Short: "Sign a development token",
		Long:  "Sign a token for a user. Without a username it is read from the database.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			var name string
			if len(args) == 2 {
				name = args[1]
			} else {
				db, err := store.Open(cfg.DatabasePath)
				if err != nil {
					return err
				}
				defer db.Close()
				if name, err = db.Username(cmd.Context(), id); err != nil {
					return fmt.Errorf("user %s: %w", id, err)
				}
			}
			user, err := domain.NewUser(id, name)
			if err != nil {
				return err
			}
			token, err := auth.NewVerifier(cfg.Secret).Issue(*user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func setupLogger(cfg config.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	cheer, err := app.NewEnthusiasm(cfg.Enthusiasm.Keywords)
	if err != nil {
		return err
	}

	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		return err
	}
	reg := app.NewRegistry(app.WithPolicy(policy))
	ctl := &sig.SignalWSController{
		Registry: reg,
		Rooms:    db,
		Conn: sig.Options{
			ReadLimit: cfg.ReadLimit,
			PongWait:  cfg.PongWait,
			WriteWait: cfg.WriteWait,
		},
		Session: app.SessionOptions{
			SendBuffer: cfg.SendBuffer,
			PingPeriod: cfg.PingPeriod,
			Limiter:    app.NewUserRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Interval),
			Enthusiasm: cheer,
		},
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Registry: reg,
		Signal:   ctl,
		Verifier: auth.NewVerifier(cfg.Secret),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("parlor server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.CloseAll()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := ctl.Wait(drainCtx); err != nil {
		log.Warn().Err(err).Msg("sessions still running at exit")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
