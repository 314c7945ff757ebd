package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relayci/relay-agent/internal/agent"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	daemonServer     string
	daemonWorkDir    string
	daemonConfigFile string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run as a background daemon",
	Long: `Run the relay-agent as a background daemon that:
  - Registers this machine with the Relay CI server
  - Maintains a persistent connection, reconnecting with backoff
  - Executes assigned builds and streams console output back
  - Reports job status transitions to the server`,
	Run: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVarP(&daemonServer, "server", "s", "", "Server base URL (e.g. https://ci.example.com:8153)")
	daemonCmd.Flags().StringVarP(&daemonWorkDir, "workdir", "w", "", "Build working directory")
	daemonCmd.Flags().StringVarP(&daemonConfigFile, "config", "c", "/etc/relay-agent/config.yaml", "Path to config file")
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg, err := agent.LoadConfig(configPaths()...)
	if err != nil {
		cmd.PrintErrln(err)
		os.Exit(1)
	}
	if daemonServer != "" {
		cfg.ServerUrl = daemonServer
	}
	if daemonWorkDir != "" {
		cfg.WorkDir = daemonWorkDir
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if _, err := os.Stat(cfg.WorkDir); err != nil {
		logger.Fatal("working directory is not usable", zap.Error(err))
	}
	if err := ensureConfigDir(cfg.ConfigDir); err != nil {
		logger.Fatal("cannot create config directory", zap.Error(err))
	}
	identity, err := agent.LoadIdentity(cfg.AgentIdFile())
	if err != nil {
		logger.Fatal("cannot load agent identity", zap.Error(err))
	}

	logger.Info("relay-agent starting",
		zap.String("server", cfg.ServerUrl),
		zap.String("uuid", identity.Uuid),
		zap.String("workdir", cfg.WorkDir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 120 * time.Second}
	supervisor := agent.NewSupervisor(cfg, identity, agent.NewState(), client, logger)
	if err := supervisor.Run(ctx); err != nil {
		logger.Fatal("agent stopped", zap.Error(err))
	}
}

// ensureConfigDir creates the config directory world-traversable, so files
// under it (the agent id) stay readable by tooling running as other users.
func ensureConfigDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func configPaths() []string {
	return []string{
		daemonConfigFile,
		"/etc/relay-agent/config.yaml",
		"/etc/relay-agent/config.yml",
		filepath.Join(os.Getenv("HOME"), ".relay-agent/config.yaml"),
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
