package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
	"github.com/lookout-labs/lookout-go/internal/labeling/strategies"
	"github.com/lookout-labs/lookout-go/internal/platform/auditlog"
	"github.com/lookout-labs/lookout-go/internal/platform/auth"
	"github.com/lookout-labs/lookout-go/internal/platform/env"
	"github.com/lookout-labs/lookout-go/internal/platform/httpserver"
	"github.com/lookout-labs/lookout-go/internal/platform/openapi"
	"github.com/lookout-labs/lookout-go/internal/platform/postgres"
	repopg "github.com/lookout-labs/lookout-go/internal/repo/postgres"
)

func newRootCommand(logger *slog.Logger) *cobra.Command {
	var inventoryFile string

	root := &cobra.Command{
		Use:           "lookout",
		Short:         "Webcam condition labeling service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&inventoryFile, "inventory", "", "YAML inventory to seed at startup (overrides LOOKOUT_INVENTORY_FILE)")

	loadConfig := func() (appConfig, error) {
		cfg, err := appConfigFromEnv()
		if err != nil {
			return appConfig{}, err
		}
		if inventoryFile != "" {
			cfg.InventoryFile = inventoryFile
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCommand(logger, loadConfig),
		newCycleCommand(logger, loadConfig),
		newMigrateCommand(logger),
		newLabelersCommand(logger),
	)
	return root
}

func newServeCommand(logger *slog.Logger, loadConfig func() (appConfig, error)) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the capture scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			shutdownTimeout, err := env.Duration("LOOKOUT_SHUTDOWN_TIMEOUT", 10*time.Second)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			authCfg, err := auth.ConfigFromEnv()
			if err != nil {
				return fmt.Errorf("invalid auth config: %w", err)
			}
			authenticator, err := auth.NewAuthenticator(ctx, authCfg)
			if err != nil {
				return fmt.Errorf("auth init failed: %w", err)
			}
			validator, err := openapi.NewValidator(ctx, openapiDocument, logger)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.scheduler.Start(ctx)

			mux := http.NewServeMux()
			mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
			mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, a.readinessChecks()...))
			mux.HandleFunc("GET /openapi.yaml", serveOpenAPI)

			api := newConditionsAPI(logger, a.cache, a.registry, a.aggregator, a.captures, a.blobs)
			api.register(mux)

			handler := auth.Middleware{
				Logger:        logger,
				Authenticator: authenticator,
				Authorize:     auth.MethodRoleAuthorizer(),
				Audit:         a.audit.AuthDeny,
				SkipPrefixes:  []string{"/healthz", "/readyz", "/openapi.yaml", "/webcams/"},
			}.Wrap(validator.Wrap(mux))

			serverCfg := httpserver.Config{
				Service:         serviceName,
				Addr:            addr,
				ShutdownTimeout: shutdownTimeout,
			}
			if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", env.String("LOOKOUT_HTTP_ADDR", ":8080"), "HTTP listen address")
	return cmd
}

func newCycleCommand(logger *slog.Logger, loadConfig func() (appConfig, error)) *cobra.Command {
	var webcamID string
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Capture and label every active webcam once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.RunOnce(cmd.Context(), strings.TrimSpace(webcamID))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&webcamID, "webcam", "", "only run this webcam")
	return cmd
}

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				return postgres.MigrateUp(db, logger)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				return postgres.MigrateDown(db, logger)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
				version, dirty, err := postgres.MigrateVersion(db, logger)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"version": version, "dirty": dirty})
			},
		},
	)
	return cmd
}

func newLabelersCommand(logger *slog.Logger) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "labelers",
		Short: "Inspect and administer labelers",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor recorded in the audit log")

	withRegistry := func(cmd *cobra.Command, fn func(*labeling.Registry) error) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		registry := labeling.NewRegistry(
			repopg.NewLabelerStore(db),
			strategies.NewDefaultFactory(nil),
			auditlog.Recorder{DB: db, Service: "lookout-cli"},
			logger,
		)
		return fn(registry)
	}

	var modeFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List labelers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode *domain.LabelerMode
			if modeFilter != "" {
				parsed, err := domain.ParseLabelerMode(modeFilter)
				if err != nil {
					return err
				}
				mode = &parsed
			}
			return withRegistry(cmd, func(r *labeling.Registry) error {
				labelers, err := r.List(cmd.Context(), mode)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), labelerViews(labelers))
			})
		},
	}
	list.Flags().StringVar(&modeFilter, "mode", "", "only list labelers in this mode")

	setMode := &cobra.Command{
		Use:   "set-mode NAME MODE",
		Short: "Change a labeler's lifecycle mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseLabelerMode(args[1])
			if err != nil {
				return err
			}
			return withRegistry(cmd, func(r *labeling.Registry) error {
				l, err := r.SetMode(cmd.Context(), args[0], mode, actor)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), newLabelerView(l))
			})
		},
	}

	setEnabled := func(use, short string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " NAME",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRegistry(cmd, func(r *labeling.Registry) error {
					l, err := r.SetEnabled(cmd.Context(), args[0], enabled, actor)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), newLabelerView(l))
				})
			},
		}
	}

	cmd.AddCommand(list, setMode,
		setEnabled("enable", "Enable a labeler", true),
		setEnabled("disable", "Disable a labeler", false),
	)
	return cmd
}

func defaultActor() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return "cli:" + user
	}
	return "cli"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
