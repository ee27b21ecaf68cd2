package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"benchflow/api"
	"benchflow/ctxlog"
	"benchflow/events"
	"benchflow/runner"
	"benchflow/runner/storage"
)

func newServeCmd(outW, errW io.Writer) *cobra.Command {
	var port, logFormat string
	cmd := &cobra.Command{
		Use:   "serve OUTPUT_DIR",
		Short: "Serve the result database of a benchmark over HTTP",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(getEnvInt("BENCHFLOW_VERBOSITY", 2), logFormat, errW)
			if err != nil {
				return err
			}
			ctx := ctxlog.WithLogger(cmd.Context(), logger)
			return serve(ctx, runner.NewProject(args[0]), port)
		},
	}
	cmd.Flags().StringVar(&port, "port", getEnv("BENCHFLOW_PORT", "8080"), "Port to listen on.")
	cmd.Flags().StringVar(&logFormat, "log-format", getEnv("BENCHFLOW_LOG_FORMAT", "text"), "Log output format: 'text' or 'json'.")
	return cmd
}

// serve starts the HTTP server and blocks until ctx is done
func serve(ctx context.Context, project runner.Project, port string) error {
	logger := ctxlog.FromContext(ctx)

	dbPath := project.ResultPath()
	if _, err := os.Stat(dbPath); err != nil {
		return &ExitError{Code: 2, Message: fmt.Sprintf("no result database at %s, run the benchmark first", dbPath)}
	}
	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           api.NewRouter(store, events.GetBroker()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Starting benchflow server", "port", port, "database", dbPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}
