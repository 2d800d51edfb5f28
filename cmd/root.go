package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"triad-node/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "triad",
	Short: "Triad ledger node",
	Long: `Triad is a small federated-consensus ledger: vote-finalized blocks,
proof-of-work checkpoints and a proof-of-history event log.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(statusCmd, txCmd, microCmd, powCmd, pohCmd, simulateForkCmd, serveCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.triad/config.yaml or ./config.yaml)")
	flags.String("datadir", config.DefaultConfig.DataDir, "Data directory for the proof-of-history journal")
	flags.StringSlice("validators", config.DefaultConfig.Validators, "Validator ids (comma separated)")
	flags.Float64("quorum_fraction", config.DefaultConfig.QuorumFraction, "Fraction of validators required for quorum, in (0, 1]")
	flags.Int("pow_difficulty", config.DefaultConfig.PowDifficulty, "Leading zero hex digits required for checkpoints")
	flags.Int("pow_max_attempts", config.DefaultConfig.PowMaxAttempts, "Proof-of-work attempts before giving up")
	flags.String("log_level", config.DefaultConfig.LogLevel, "Logging level (debug, info, warn, error, fatal)")
	flags.Bool("poh_journal", config.DefaultConfig.PohJournal, "Persist proof-of-history events under datadir")
	flags.Int("workers", config.DefaultConfig.Workers, "Worker limit for parallel tasks")

	for _, name := range []string{
		"datadir", "validators", "quorum_fraction", "pow_difficulty",
		"pow_max_attempts", "log_level", "poh_journal", "workers",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initConfig reads the config file and TRIAD_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".triad"))
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TRIAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		fmt.Fprintf(os.Stderr, "Error reading config file '%s': %s\n", viper.ConfigFileUsed(), err)
	}
}
