package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tilekit/tilekit"
	"github.com/tilekit/tilekit/serve"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve <archive>...",
		Short: "Serve tiles from one or more containers over HTTP",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := serve.New(serve.WithLogger(a.logger))
			for _, arg := range args {
				r, err := tilekit.Open(arg, tilekit.WithLogger(a.logger))
				if err != nil {
					return err
				}
				defer r.Close()
				if err := server.Mount(mountName(arg), r); err != nil {
					return err
				}
			}

			addr := fmt.Sprintf("%s:%d", host, port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			a.logger.Info("listening", "addr", addr, "mounts", server.Mounts())
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen address")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}
