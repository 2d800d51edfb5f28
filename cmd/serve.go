package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triad-node/config"
	"triad-node/core"
	"triad-node/logger"
	"triad-node/rpc"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node with its HTTP API",
	Long:  `Run the ledger as a long-lived node serving the HTTP API, with optional background checkpoint mining.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("rpcaddr", config.DefaultConfig.RPCAddr, "HTTP API listen address")
	serveCmd.Flags().Int("rpcport", config.DefaultConfig.RPCPort, "HTTP API port")
	serveCmd.Flags().Bool("mining", config.DefaultConfig.Mining, "Seal proof-of-work checkpoints in the background")
	serveCmd.Flags().Duration("checkpoint_interval", config.DefaultConfig.CheckpointInterval, "Delay between background checkpoints")
	serveCmd.Flags().Bool("enable_metrics", config.DefaultConfig.EnableMetrics, "Serve Prometheus metrics on /metrics")

	for _, name := range []string{"rpcaddr", "rpcport", "mining", "checkpoint_interval", "enable_metrics"} {
		viper.BindPFlag(name, serveCmd.Flags().Lookup(name))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	n, err := loadNode()
	if err != nil {
		return err
	}
	defer n.Close()
	cfg := n.cfg

	logger.Info("Starting triad node...")
	logger.Infof("Effective configuration: RPC=%s, Validators=%v, QuorumFraction=%v, PowDifficulty=%d, Mining=%t, PohJournal=%t",
		cfg.RPCListenAddr(), cfg.Validators, cfg.QuorumFraction, cfg.PowDifficulty, cfg.Mining, cfg.PohJournal)

	miner := core.NewMiner(n.ledger, cfg.PowDifficulty, cfg.CheckpointInterval)

	server := rpc.NewServer(&rpc.Config{
		Host:          cfg.RPCAddr,
		Port:          cfg.RPCPort,
		PowDifficulty: cfg.PowDifficulty,
		EnableMetrics: cfg.EnableMetrics,
	}, n.ledger, n.federated, miner)
	serverErr := server.Start()

	if cfg.Mining {
		miner.Start()
	} else {
		logger.Info("Mining is disabled.")
	}

	logger.Info("Triad node started. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case s := <-sigCh:
		logger.Infof("Received signal: %v, initiating shutdown...", s)
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("HTTP API error: %w", err)
			logger.Errorf("%v", runErr)
		}
	}

	if miner.IsRunning() {
		miner.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warningf("HTTP API shutdown: %v", err)
	}

	logger.Info("Triad node stopped.")
	return runErr
}
