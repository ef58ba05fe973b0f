package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/atomicobject/vaultweaver/internal/engine"
	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/rules"
	"github.com/atomicobject/vaultweaver/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the vault and run the enrichment engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}

		logger := observability.InitLogger(observability.LogConfig{
			Level: cfg.Logging.Level,
			JSON:  cfg.Logging.JSON,
			Dir:   cfg.Logging.Dir,
		})

		e, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}

		if cfg.Workflows.HTTPAddr != "" {
			srv := echo.New()
			srv.HideBanner = true
			rules.RegisterRoutes(srv, e.Registry, e.Rules)
			if e.WFRun != nil {
				workflow.RegisterRoutes(srv, e.WF, e.WFRun)
			}
			srv.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
			srv.GET("/healthz", func(c echo.Context) error {
				report := e.Health.Report()
				status := 200
				if report.Status != observability.Healthy {
					status = 503
				}
				return c.JSON(status, report)
			})
			go func() {
				if err := srv.Start(cfg.Workflows.HTTPAddr); err != nil {
					logger.Warn().Err(err).Msg("workflow http server stopped")
				}
			}()
			defer srv.Close()
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info().Str("vault", cfg.Vault.Path).Msg("vaultweaver starting")
		return e.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
