package main

// cmd/xlnd is the single daemon binary exposing the consensus core's
// tick scheduler as a long-running process: a cobra root command with
// a `start` subcommand driving a real time.Ticker against
// core.Env.Tick, the way core/consensus.go's subBlockLoop/blockLoop
// run off a ticker.

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core"
	"synnergy-network/pkg/config"
	"synnergy-network/pkg/utils"
)

func main() {
	rootCmd := &cobra.Command{Use: "xlnd"}
	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the consensus core's tick scheduler",
		RunE:  runStart,
	}
	cmd.Flags().Int("tick-ms", 0, "tick interval in milliseconds (overrides XLN_TICK_MS)")
	cmd.Flags().Uint64("snapshot-interval", 0, "heights between snapshots (overrides XLN_SNAPSHOT_INTERVAL)")
	cmd.Flags().String("storage-type", "", "memory|leveldb (overrides XLN_STORAGE_TYPE)")
	cmd.Flags().String("storage-path", "", "storage directory (overrides XLN_STORAGE_PATH)")
	cmd.Flags().String("log-level", "", "logrus level (overrides XLN_LOG_LEVEL)")
	cmd.Flags().Bool("enable-metrics", false, "serve Prometheus metrics (overrides XLN_ENABLE_METRICS)")
	return cmd
}

// applyFlagOverrides lets explicit flags take precedence over whatever
// was already loaded from the environment.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetInt("tick-ms"); v > 0 {
		cfg.TickMS = v
	}
	if v, _ := cmd.Flags().GetUint64("snapshot-interval"); v > 0 {
		cfg.SnapshotInterval = v
	}
	if v, _ := cmd.Flags().GetString("storage-type"); v != "" {
		cfg.StorageType = v
	}
	if v, _ := cmd.Flags().GetString("storage-path"); v != "" {
		cfg.StoragePath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("enable-metrics"); v {
		cfg.EnableMetrics = true
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return utils.Wrap(err, "load config")
	}
	applyFlagOverrides(cmd, cfg)

	log := logrus.New()
	if level, perr := logrus.ParseLevel(cfg.LogLevel); perr == nil {
		log.SetLevel(level)
	}

	store, walPath, err := openStorage(cfg)
	if err != nil {
		return utils.Wrap(err, "open storage")
	}
	defer store.Close()

	wal, err := core.OpenWAL(walPath)
	if err != nil {
		return utils.Wrap(err, "open wal")
	}
	defer wal.Close()

	router := core.Router{Paths: core.NewStaticRouter(nil), Fee: core.DefaultFeeSchedule}

	env, err := core.Recover(store, wal, router, ^uint64(0))
	if err != nil {
		return utils.Wrap(err, "recover environment")
	}
	env.SnapshotInterval = cfg.SnapshotInterval
	env.Log = log

	if cfg.EnableMetrics {
		env.Metrics = core.NewMetrics(prometheus.DefaultRegisterer)
		go serveMetrics(log)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithFields(logrus.Fields{
		"tick_ms":           cfg.TickMS,
		"snapshot_interval": cfg.SnapshotInterval,
		"storage_type":      cfg.StorageType,
		"height":            env.Height,
	}).Info("xlnd starting")

	return runTickLoop(ctx, env, time.Duration(cfg.TickMS)*time.Millisecond, log)
}

// runTickLoop drives Env.Tick off a ticker until ctx is cancelled,
// with no externally-sourced inputs in this standalone binary. A
// tick with zero inputs is legal and still advances height and honors
// the snapshot cadence, matching a single-node deployment with no
// peer transport wired in.
func runTickLoop(ctx context.Context, env *core.Env, interval time.Duration, log *logrus.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("xlnd shutting down")
			return nil
		case now := <-ticker.C:
			if _, err := env.Tick(nil, now.UnixMilli()); err != nil {
				log.WithError(err).Error("tick failed")
				return err
			}
		}
	}
}

func openStorage(cfg *config.Config) (core.StateStore, string, error) {
	switch cfg.StorageType {
	case "leveldb":
		if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
			return nil, "", err
		}
		store, err := core.NewLevelDBStateStore(cfg.StoragePath + "/state")
		if err != nil {
			return nil, "", err
		}
		return store, cfg.StoragePath + "/wal.log", nil
	case "memory", "":
		return core.NewMemoryStateStore(), fmt.Sprintf("%s/wal-%d.log", os.TempDir(), rand.Int63()), nil
	default:
		return nil, "", fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

func serveMetrics(log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":9102", mux); err != nil {
		log.WithError(err).Warn("metrics server stopped")
	}
}
