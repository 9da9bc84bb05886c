package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nimbus/pkg/clusterstate"
	"github.com/cuemby/nimbus/pkg/controlrpc"
	"github.com/cuemby/nimbus/pkg/httpapi"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/persistence"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nimbus-control",
	Short:   "Nimbus control service: authoritative desired state, HTTP API, and control RPC",
	Version: Version,
	RunE:    runControl,
}

func init() {
	rootCmd.Flags().String("data-path", "./nimbus-control-data", "Directory for durable control-service state")
	rootCmd.Flags().Int("port", 8080, "HTTP API listen port")
	rootCmd.Flags().Int("agent-port", 4524, "Control RPC listen port for agent connections")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runControl(cmd *cobra.Command, args []string) error {
	dataPath, _ := cmd.Flags().GetString("data-path")
	port, _ := cmd.Flags().GetInt("port")
	agentPort, _ := cmd.Flags().GetInt("agent-port")

	logger := log.WithComponent("nimbus-control")

	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("failed to create data path: %w", err)
	}

	store, err := persistence.Open(dataPath)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer store.Close()

	state := clusterstate.New()
	rpcServer := controlrpc.NewServer(store, state)
	store.RegisterListener(rpcServer.OnConfigurationChanged)

	apiServer, err := httpapi.NewServer(store, state, "1.16.0")
	if err != nil {
		return fmt.Errorf("failed to build HTTP API server: %w", err)
	}

	agentListener, err := net.Listen("tcp", fmt.Sprintf(":%d", agentPort))
	if err != nil {
		return fmt.Errorf("failed to listen on agent port: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := rpcServer.Serve(agentListener); err != nil {
			errCh <- fmt.Errorf("control RPC server error: %w", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiServer)
	mux.HandleFunc("/health", metrics.HealthHandler)
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP API server error: %w", err)
		}
	}()

	metrics.RegisterComponent("control_rpc", true, "")
	logger.Info().Int("http_port", port).Int("agent_port", agentPort).Str("data_path", dataPath).Msg("nimbus-control started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal server error")
		_ = agentListener.Close()
		_ = httpSrv.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = agentListener.Close()

	logger.Info().Msg("nimbus-control stopped")
	return nil
}
