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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/unitreviews/backend/internal/config"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "unitreviews-api",
		Short: "Unit reviews backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newJobCommand(server.JobRefreshTags, "Move the most-reviews tag to the unit with the most reviews"),
		newJobCommand(server.JobRefreshOverviews, "Regenerate stale AI overviews of every reviewed unit"),
		newCreateAdminCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Browser origins allowed to send credentialed requests")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for shared job locks")
	cmd.PersistentFlags().Bool("jobs-enabled", defaults.GetBool("jobs.enabled"), "Run periodic jobs inside the server")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "jobs.enabled", "jobs-enabled")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(signalCtx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator:      app.validator,
		Reviews:        app.reviews,
		Overviews:      app.overviews,
		Setu:           app.setu,
		Jobs:           app.runner,
		AllowedOrigins: appConfig.HTTPAllowedOrigins,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		app.logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if appConfig.JobsEnabled {
		group.Go(func() error {
			app.runner.Start(groupCtx)
			return nil
		})
	}
	return group.Wait()
}

func newJobCommand(name, description string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: description,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.runner.RunOnce(cmd.Context(), name)
		},
	}
}

func newCreateAdminCommand() *cobra.Command {
	var (
		email    string
		username string
		password string
	)
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a moderator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := app.reviews.CreateUser(cmd.Context(), reviews.NewUser{
				Email:    email,
				Username: username,
				Password: password,
				IsAdmin:  true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&username, "username", "", "Username (defaults to the email prefix)")
	cmd.Flags().StringVar(&password, "password", "", "Password for email login (optional)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
