// Command dermai serves the DermAI skin lesion classifier over HTTP and
// provides one-shot maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/dermai-api/internal/config"
	"github.com/Brownie44l1/dermai-api/internal/handlers"
	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/model"
	"github.com/Brownie44l1/dermai-api/internal/ui"
	"github.com/Brownie44l1/dermai-api/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "dermai",
		Short:        "Skin lesion classification service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DERMAI_CONFIG"), "path to a JSON or YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newClassifyCmd(load),
		newFetchModelCmd(load),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	uh, err := ui.NewHandler(a.classifier)
	if err != nil {
		return err
	}
	router := handlers.NewRouter(handlers.RouterConfig{
		API:            handlers.NewHandler(a.classifier, a.predictions),
		UI:             uh,
		Books:          a.books,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Classifier.Timeout(),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.Classifier.Timeout() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logging.Logger.Info("dermai listening",
		"addr", ln.Addr().String(),
		"version", version.Short(),
		"model", cfg.Model.Path,
		"cache_capacity", cfg.Cache.Capacity,
	)
	if err := runServer(ctx, srv, ln); err != nil {
		return err
	}
	logging.Logger.Info("server stopped")
	return nil
}

// runServer serves on ln until ctx is done, then drains in-flight requests.
// It returns only after Shutdown finishes, so the model outlives every
// request that may still use it.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-drained
	return nil
}

func newClassifyCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <image>...",
		Short: "Classify image files and print one JSON result per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			var failed int
			for _, path := range args {
				raw, err := os.ReadFile(path) //nolint:gosec
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Classifier.Timeout())
				pred, err := a.classifier.Predict(ctx, raw)
				cancel()

				out := map[string]any{"file": path}
				if err != nil {
					failed++
					out["error"] = err.Error()
				} else {
					out["label"] = pred.Label
					out["confidence"] = pred.Confidence
					out["cached"] = pred.Cached
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(args))
			}
			return nil
		},
	}
}

func newFetchModelCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-model",
		Short: "Download the model artifact if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fetcher, err := artifactFetcher(cfg.Model)
			if err != nil {
				return err
			}
			if err := model.EnsureLocal(cmd.Context(), cfg.Model.Path, fetcher); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model artifact ready at %s\n", cfg.Model.Path)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Config is valid")
			fmt.Fprintf(out, "  Listen:      %s\n", cfg.Server.Addr())
			fmt.Fprintf(out, "  Model:       %s\n", cfg.Model.Path)
			fmt.Fprintf(out, "  Cache:       %d entries\n", cfg.Cache.Capacity)
			fmt.Fprintf(out, "  Books:       %s\n", cfg.Books.Driver)
			fmt.Fprintf(out, "  Predictions: %s\n", cfg.PredictionLog.Driver)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dermai %s\n", version.String())
		},
	}
}
