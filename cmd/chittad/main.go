// chittad is the long-lived daemon hosting one chitta database behind a
// local socket. Configuration layers, lowest to highest precedence:
// built-in defaults, optional YAML config file, environment variables
// (DB_PATH, SOCKET_PATH, MAINT_INTERVAL_S), then flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/genomewalker/chitta/pkg/daemon"
	"github.com/genomewalker/chitta/pkg/mind"
)

var (
	dbPath     string
	socketPath string
	configPath string
	intervalS  int
	verbose    bool
)

// fileConfig is the optional YAML configuration.
type fileConfig struct {
	DBPath        string  `yaml:"db_path"`
	SocketPath    string  `yaml:"socket_path"`
	MaintInterval int     `yaml:"maint_interval_s"`
	Dim           int     `yaml:"dim"`
	WALBudget     string  `yaml:"wal_budget"`
	HotCapacity   string  `yaml:"hot_capacity"`
	ColdAfterDays int     `yaml:"cold_after_days"`
	PruneThresh   float64 `yaml:"prune_threshold"`
	MaxNodes      uint64  `yaml:"max_nodes"`
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chitta"
	}
	return filepath.Join(home, ".chitta", "soul")
}

var rootCmd = &cobra.Command{
	Use:   "chittad",
	Short: "chitta memory daemon",
	Long:  `Long-lived daemon serving one chitta database over a local socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// .env is a convenience for development setups; absence is fine.
		_ = godotenv.Load()

		mindCfg := mind.DefaultConfig(defaultDBPath())
		daemonCfg := daemon.DefaultConfig(mindCfg.Path)

		if configPath != "" {
			if err := applyFileConfig(configPath, &mindCfg, &daemonCfg); err != nil {
				return err
			}
		}
		if env := os.Getenv("DB_PATH"); env != "" {
			mindCfg.Path = env
		}
		if env := os.Getenv("SOCKET_PATH"); env != "" {
			daemonCfg.SocketPath = env
		}
		if env := os.Getenv("MAINT_INTERVAL_S"); env != "" {
			if secs, err := strconv.Atoi(env); err == nil && secs > 0 {
				daemonCfg.MaintInterval = time.Duration(secs) * time.Second
			}
		}
		if cmd.Flags().Changed("db") {
			mindCfg.Path = dbPath
		}
		if cmd.Flags().Changed("socket") {
			daemonCfg.SocketPath = socketPath
		}
		if cmd.Flags().Changed("interval") {
			daemonCfg.MaintInterval = time.Duration(intervalS) * time.Second
		}
		daemonCfg.LockPath = mindCfg.Path + ".lock"

		level := mind.LevelInfo
		if verbose {
			level = mind.LevelDebug
		}
		logger := mind.NewStdLogger(level)
		daemonCfg.Logger = logger
		mindCfg.Logger = logger

		if err := os.MkdirAll(filepath.Dir(mindCfg.Path), 0o700); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}

		d, err := daemon.New(daemonCfg, mindCfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx)
	},
}

// applyFileConfig layers the YAML file over the defaults.
func applyFileConfig(path string, mindCfg *mind.Config, daemonCfg *daemon.Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if fc.DBPath != "" {
		mindCfg.Path = fc.DBPath
	}
	if fc.SocketPath != "" {
		daemonCfg.SocketPath = fc.SocketPath
	}
	if fc.MaintInterval > 0 {
		daemonCfg.MaintInterval = time.Duration(fc.MaintInterval) * time.Second
	}
	if fc.Dim > 0 {
		mindCfg.Dim = fc.Dim
	}
	if fc.WALBudget != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(fc.WALBudget)); err != nil {
			return fmt.Errorf("parse wal_budget: %w", err)
		}
		mindCfg.WALBudget = size
	}
	if fc.HotCapacity != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(fc.HotCapacity)); err != nil {
			return fmt.Errorf("parse hot_capacity: %w", err)
		}
		mindCfg.HotCapacityBytes = size
	}
	if fc.ColdAfterDays > 0 {
		mindCfg.ColdAfterDays = fc.ColdAfterDays
	}
	if fc.PruneThresh > 0 {
		mindCfg.PruneThreshold = fc.PruneThresh
	}
	if fc.MaxNodes > 0 {
		mindCfg.MaxNodes = fc.MaxNodes
	}
	return nil
}

func main() {
	rootCmd.Flags().StringVar(&dbPath, "db", defaultDBPath(), "database base path")
	rootCmd.Flags().StringVar(&socketPath, "socket", daemon.DefaultSocketPath(), "listening socket path")
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().IntVar(&intervalS, "interval", 60, "maintenance interval in seconds")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
