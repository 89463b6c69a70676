// =============================================================================
// 文件: cmd/netplay-peer/main.go
// 描述: peer 入口 - 连接 host，发送机器人输入并维护影子实体
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

const statusInterval = 5 * time.Second

var (
	configPath string
	serverAddr string
	peerName   string
	className  string
	seed       int64
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "netplay-peer",
	Short: "Bot-driven peer for netplay sessions",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "connects to a host and plays until interrupted or disconnected",
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
		fmt.Printf("netplay-peer %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时使用默认配置")
	runCmd.Flags().StringVarP(&serverAddr, "server", "s", "", "覆盖配置中的 host 地址")
	runCmd.Flags().StringVarP(&peerName, "name", "n", "", "覆盖配置中的名称")
	runCmd.Flags().StringVar(&className, "class", "", "覆盖配置中的职业")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "机器人输入种子，0 表示随机")
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
	if serverAddr != "" {
		cfg.Server = serverAddr
	}
	if peerName != "" {
		cfg.Name = peerName
	}
	if className != "" {
		cfg.Class = className
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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
	shadows := world.NewShadowTable(interval)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	bot := world.NewBot(seed)

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
	dial := func() (transport.Transport, error) {
		opts := cfg.Transport.Options()
		switch cfg.Transport.Mode {
		case config.ModeWebSocket:
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := transport.DialWebSocket(dialCtx, cfg.WebSocketURL(), opts, logger)
			if err != nil {
				return nil, err
			}
			tr = c
			return c, nil
		default:
			u, err := transport.DialUDP(cfg.Server, opts, logger)
			if err != nil {
				return nil, err
			}
			tr = u
			return u, nil
		}
	}

	peer, err := session.NewPeer(session.PeerContext{
		Dial:     dial,
		Replica:  shadows,
		Input:    bot,
		Logger:   logger,
		Observer: observer,
	}, cfg.Name, uint8(cfg.ParsedClass()), cfg.Session.Durations())
	if err != nil {
		return err
	}

	if err := peer.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if metricsServer != nil {
		metricsServer.MustRegisterCollector(metrics.NewPeerCollector(peer))
		metricsServer.MustRegisterCollector(metrics.NewTransportCollector(cfg.Transport.Mode, tr))
		metricsServer.SetHealthCheck(metrics.PeerHealth(peer, Version, startTime))
		g.Go(func() error {
			return metricsServer.Run(ctx)
		})
	}

	g.Go(func() error {
		loopCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var sinceStatus time.Duration
		err := session.Run(loopCtx, interval, func(dt time.Duration) {
			peer.Tick(dt)
			if peer.State() == session.Stopped {
				cancel()
				return
			}
			sinceStatus += dt
			if sinceStatus >= statusInterval {
				sinceStatus = 0
				stats := peer.GetStats()
				logger.Info("状态",
					zap.Stringer("state", stats.State),
					zap.Uint32("net_id", stats.NetID),
					zap.Int("shadows", shadows.Len()),
					zap.Int("pending_inputs", stats.PendingInputs),
					zap.Uint32("last_replication", stats.LastReplication))
			}
		})

		if peer.State() == session.Stopped {
			// 会话由远端或超时结束
			return fmt.Errorf("会话结束: %s", peer.StopReason())
		}
		peer.Disconnect()
		return err
	})

	logger.Info("peer 已启动",
		zap.String("version", Version),
		zap.String("server", cfg.Server),
		zap.String("mode", cfg.Transport.Mode),
		zap.String("name", cfg.Name),
		zap.Stringer("class", cfg.ParsedClass()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("peer 退出", zap.Error(err))
		return err
	}
	logger.Info("peer 已退出", zap.Duration("uptime", time.Since(startTime)))
	return nil
}
