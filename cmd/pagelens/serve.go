package pagelens

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pagelens/pagelens/api"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start the HTTP server exposing ingest, search, rendering and chat endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := buildServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		server := api.NewServer(cfg.Server, api.Services{
			Ingestor: svc.pipeline,
			Search:   svc.engine,
			Agent:    svc.agent,
			Content:  svc.content,
			Chat:     svc.chat,
			Files:    svc.files,
		})
		return server.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
}
