package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/richinsley/viewcomfy/metrics"
	"github.com/richinsley/viewcomfy/server"
)

const authCheckInterval = 15 * time.Second

func newWatchCommand(configFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow results over the realtime connection and serve them locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if !a.cfg.RealtimeEnabled() {
				a.log.Warn().Msg("no realtime endpoint configured; only the status server will run")
			} else {
				a.log.Info().Str("url", a.cfg.Realtime.URL).Msg("connecting")
			}
			metrics.MustRegister()

			if err := a.relay.Mount(ctx); err != nil {
				a.log.Warn().Err(err).Msg("socket not connected, retrying on the next auth check")
			}
			go a.relay.WatchAuth(ctx, authCheckInterval)

			srv := server.New(a.tracker, a.relay.IsConnected, a.archive, a.log)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "status server listen address (default from config)")
	return cmd
}
