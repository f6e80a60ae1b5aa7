package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/pricing-sim/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if port == 0 {
				port = e.cfg.API.Port
			}
			if e.cfg.API.AdminKey == "" {
				slog.Warn("PRICESIM_ADMIN_KEY not set, admin endpoints will be disabled")
			}

			srv := &api.Server{
				DB:        e.db,
				Config:    e.cfg,
				Publisher: e.pub,
				Entropy:   e.seeds,
				Port:      port,
				AdminKey:  e.cfg.API.AdminKey,
			}
			srv.Start()
			fmt.Fprintf(e.out, "API: http://localhost:%d/api/v1/status (Ctrl+C to stop)\n", port)

			<-cmd.Context().Done()
			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "Listen port (0 uses api.port)")
	return cmd
}
