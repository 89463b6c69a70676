// =============================================================================
// 文件: cmd/netplay-host/main.go
// 描述: host 入口 - 权威模拟、会话管理、复制与 Prometheus 指标
// =============================================================================
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/netplay/internal/config"
	"github.com/mrcgq/netplay/internal/logging"
	"github.com/mrcgq/netplay/internal/metrics"
	"github.com/mrcgq/netplay/internal/session"
	"github.com/mrcgq/netplay/internal/transport"
	"github.com/mrcgq/netplay/internal/world"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

var (
	configPath string
	listenAddr string
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "netplay-host",
	Short: "Authoritative host for netplay sessions",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "starts the host and serves peers until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "writes an example configuration file",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := config.WriteExampleConfig(output); err != nil {
			return fmt.Errorf("生成配置失败: %w", err)
		}
		fmt.Println("已生成示例配置文件:", output)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("netplay-host %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时使用默认配置")
	runCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "覆盖配置中的监听地址")
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "config.example.yaml", "输出路径")

	rootCmd.AddCommand(runCmd, genConfigCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	interval := cfg.Session.TickInterval()
	sim := world.New(interval)
	sim.SetLogger(logger)

	var (
		metricsServer *metrics.MetricsServer
		observer      session.Observer
	)
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
			logger,
		)
		history := metrics.NewHistory()
		metricsServer.SetHistory(history)
		observer = metrics.Multi(metrics.NewNetplayMetrics(metricsServer.GetRegistry()), history)
	}

	var tr transport.StatsProvider
	listen := func() (transport.Transport, error) {
		opts := cfg.Transport.Options()
		switch cfg.Transport.Mode {
		case config.ModeWebSocket:
			l, err := transport.ListenWebSocket(cfg.Listen, cfg.Transport.WebSocketPath, opts, logger)
			if err != nil {
				return nil, err
			}
			tr = l
			return l, nil
		default:
			u, err := transport.ListenUDP(cfg.Listen, opts, logger)
			if err != nil {
				return nil, err
			}
			tr = u
			return u, nil
		}
	}

	host, err := session.NewHost(session.HostContext{
		Listen:     listen,
		Simulation: sim,
		Logger:     logger,
		Observer:   observer,
	}, cfg.Session.Capacity, cfg.Session.Durations())
	if err != nil {
		return err
	}
	sim.SetReplicator(host)

	if err := host.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if metricsServer != nil {
		metricsServer.MustRegisterCollector(metrics.NewHostCollector(host))
		metricsServer.MustRegisterCollector(metrics.NewTransportCollector(cfg.Transport.Mode, tr))
		metricsServer.SetHealthCheck(metrics.HostHealth(host, Version, startTime))
		g.Go(func() error {
			return metricsServer.Run(ctx)
		})
	}

	g.Go(func() error {
		err := session.Run(ctx, interval, func(dt time.Duration) {
			host.Tick(dt)
			sim.Step(dt)
		})
		if stopErr := host.Stop(); stopErr != nil {
			logger.Warn("停止 host 失败", zap.Error(stopErr))
		}
		return err
	})

	logger.Info("host 已启动",
		zap.String("version", Version),
		zap.Stringer("addr", host.LocalAddr()),
		zap.String("mode", cfg.Transport.Mode),
		zap.Int("capacity", cfg.Session.Capacity),
		zap.Duration("tick", interval))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("host 已退出", zap.Duration("uptime", time.Since(startTime)))
	return nil
}
