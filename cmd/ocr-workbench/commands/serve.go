package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/ocr-workbench/internal/api"
	"github.com/spherical/ocr-workbench/internal/credential"
	"github.com/spherical/ocr-workbench/pkg/workbench"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a single workbench session over a local JSON API",
	Long: `Start a loopback HTTP server holding one workbench session. A browser
front end drives the canvas, extraction, QAC and image actions through it.
Without OPENROUTER_API_KEY the key is supplied through POST /api/v1/credential.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := newLogger(cfg)
	keys := credential.NewStatic(cfg.LLM.APIKey)

	wb, err := workbench.New(cfg, workbench.WithCredentials(keys), workbench.WithLogger(logger))
	if err != nil {
		return err
	}
	defer wb.Close()

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("mode", cfg.LLM.ResponseMode).
		Str("cache", cfg.Cache.Driver).
		Bool("has_key", keys.HasCredential()).
		Msg("starting OCR workbench API")

	return api.NewServer(wb.Service, keys, cfg.Server, logger).ListenAndServe(ctx)
}
