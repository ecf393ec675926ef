// Command backendd is a reference backend worker process. The editor-side
// supervisor launches it as `backendd <port>`; it binds 127.0.0.1:<port> and
// serves worker requests until killed.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ltfish/pyqode.core/middleware"
	"github.com/ltfish/pyqode.core/server"
)

func main() {
	var logLevel string
	var workerTimeout time.Duration

	root := &cobra.Command{
		Use:   "backendd <port>",
		Short: "reference backend worker process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}

			log := logrus.New()
			// The supervisor on the editor side forwards our output to its
			// own diagnostic log, one line per entry.
			log.SetOutput(os.Stdout)
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)

			srv := server.NewServer(log)
			srv.Use(middleware.Recover(log))
			srv.Use(middleware.Logging(log))
			if workerTimeout > 0 {
				srv.Use(middleware.Timeout(workerTimeout))
			}

			srv.Register("workers.echo", echo)

			return srv.ListenAndServe(port)
		},
	}
	root.Flags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")
	root.Flags().DurationVar(&workerTimeout, "worker-timeout", 0, "per-worker execution deadline, 0 disables")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// echo returns its input unchanged. It doubles as the liveness probe worker.
func echo(ctx context.Context, data any) (any, error) {
	return data, nil
}
