package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/internal/server"
	"github.com/mesh-intelligence/almsync/internal/sqlite"
)

const defaultServeAddr = "127.0.0.1:8080"

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference ALM server over a local database",
		Long: `Serve attaches the reference backend in the data directory, seeding it
with demo projects on first use, and serves it until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := a.dataDir()
			if err != nil {
				return fmt.Errorf("resolve data dir: %w", err)
			}

			backend := sqlite.NewBackend()
			if err := backend.Attach(dataDir); err != nil {
				return fmt.Errorf("attach backend: %w", err)
			}
			defer backend.Detach()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := zerolog.Ctx(ctx)
			log.Info().Str("addr", addr).Str("data_dir", dataDir).Msg("serving")
			return server.ListenAndServe(ctx, addr, server.New(backend, *log))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address")
	return cmd
}
