package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nimbus/pkg/agent"
	"github.com/cuemby/nimbus/pkg/deployer"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
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
	Use:     "nimbus-agent",
	Short:   "Nimbus convergence agent: discovers local state and converges it against the control service",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.Flags().String("node-id", "", "This node's hostname, as reported to the control service (defaults to os.Hostname())")
	rootCmd.Flags().String("control-host", "127.0.0.1", "Control service host")
	rootCmd.Flags().Int("control-port", 4524, "Control service RPC port")
	rootCmd.Flags().String("health-port", "9091", "Local port serving /health and /metrics")
	rootCmd.Flags().String("data-path", "./nimbus-agent-data", "Directory for local volume storage")
	rootCmd.Flags().Bool("memory-deployer", false, "Use the in-memory Deployer instead of containerd (for environments without a containerd socket)")
	rootCmd.Flags().String("containerd-socket", deployer.DefaultSocketPath, "containerd socket path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runAgent(cmd *cobra.Command, args []string) error {
	hostname, _ := cmd.Flags().GetString("node-id")
	controlHost, _ := cmd.Flags().GetString("control-host")
	controlPort, _ := cmd.Flags().GetInt("control-port")
	controlAddr := fmt.Sprintf("%s:%d", controlHost, controlPort)
	healthPort, _ := cmd.Flags().GetString("health-port")
	dataPath, _ := cmd.Flags().GetString("data-path")
	useMemory, _ := cmd.Flags().GetBool("memory-deployer")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")

	logger := log.WithComponent("nimbus-agent")

	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to determine hostname: %w", err)
		}
		hostname = h
	}

	dep, closeDep, err := buildDeployer(useMemory, hostname, containerdSocket, dataPath)
	if err != nil {
		return fmt.Errorf("failed to build deployer: %w", err)
	}
	if closeDep != nil {
		defer closeDep()
	}

	svc := agent.NewService(hostname, controlAddr, dep)
	svc.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler)
	mux.Handle("/metrics", metrics.Handler())
	healthSrv := &http.Server{Addr: ":" + healthPort, Handler: mux}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	}()

	metrics.RegisterComponent("agent", true, "")
	logger.Info().Str("hostname", hostname).Str("control_addr", controlAddr).Bool("memory_deployer", useMemory).Msg("nimbus-agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("agent did not shut down cleanly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("nimbus-agent stopped")
	return nil
}

func buildDeployer(useMemory bool, hostname, containerdSocket, dataPath string) (deployer.Deployer, func(), error) {
	if useMemory {
		return deployer.NewMemoryDeployer(hostname), nil, nil
	}

	volumesPath := dataPath + "/volumes"
	cd, err := deployer.NewContainerdDeployer(hostname, containerdSocket, volumesPath)
	if err != nil {
		return nil, nil, err
	}
	return cd, func() { _ = cd.Close() }, nil
}
