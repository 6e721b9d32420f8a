package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lpernett/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/config"
	"github.com/Perceptus-Labs/perceptus-agent/handlers"
	"github.com/Perceptus-Labs/perceptus-agent/logging"
)

const version = "Agent Core V1"

var cfgFile string

// Load environment variables from .env file
func init() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file loaded")
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "perceptus-agent",
		Short:         "Script automation agent core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./agent.yaml)")

	root.AddCommand(newServeCmd(), newOptimizeCmd(), newGenerateCmd())
	return root
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := logging.NewDefault(cfg.Logger)
	logger.Info("Server Version", zap.String("version", version))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start agent", zap.Error(err))
		return nil, err
	}
	return a, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the UI and device websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", &handlers.SessionServer{
		Agent:   a.agent,
		Voice:   a.voice(),
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	mux.Handle("/screen", a.hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if !a.agent.Ready() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{"ready": a.agent.Ready()})
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.registry.Models())
	})

	server := &http.Server{Addr: a.cfg.Server.Addr, Handler: mux}

	// Set up signal handling
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverExit := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", zap.String("addr", server.Addr))
		serverExit <- server.ListenAndServe()
	}()

	select {
	case <-stop:
		a.logger.Info("Shutting down server...")
	case err := <-serverExit:
		if !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Server exited unexpectedly", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Server shutdown incomplete", zap.Error(err))
	}

	a.logger.Info("Server shut down gracefully")
	return nil
}

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize [script-file|-]",
		Short: "Optimize one script and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.agent.OptimizeScript(cmd.Context(), script))
		},
	}
}

func newGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <request>",
		Short: "Generate a script from a natural language request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.agent.GenerateScript(cmd.Context(), args[0]))
		},
	}
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
