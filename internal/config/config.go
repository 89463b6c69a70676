// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - host / peer 共用的 YAML 配置，加载、校验与示例生成
// =============================================================================
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/netplay/internal/input"
	"github.com/mrcgq/netplay/internal/session"
	"github.com/mrcgq/netplay/internal/transport"
	"github.com/mrcgq/netplay/internal/world"
)

// 传输模式
const (
	ModeUDP       = "udp"
	ModeWebSocket = "websocket"
)

// Config 配置
type Config struct {
	// host 监听地址
	Listen string `yaml:"listen"`
	// peer 连接的 host 地址 (udp: host:port, websocket: host:port 或 ws:// URL)
	Server   string `yaml:"server"`
	Name     string `yaml:"name"`
	Class    string `yaml:"class"`
	LogLevel string `yaml:"log_level"`

	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SessionConfig 会话参数
type SessionConfig struct {
	Capacity                 int `yaml:"capacity"`
	TickRate                 int `yaml:"tick_rate"`
	PingIntervalMs           int `yaml:"ping_interval_ms"`
	DisconnectTimeoutMs      int `yaml:"disconnect_timeout_ms"`
	HelloIntervalMs          int `yaml:"hello_interval_ms"`
	ReplicationIntervalMs    int `yaml:"replication_interval_ms"`
	InputIntervalMs          int `yaml:"input_interval_ms"`
	DeliveryTimeoutMs        int `yaml:"delivery_timeout_ms"`
	MaxOutstandingDeliveries int `yaml:"max_outstanding_deliveries"`
	InputBufferSize          int `yaml:"input_buffer_size"`
	MaxDelayedDestroys       int `yaml:"max_delayed_destroys"`
}

// TransportConfig 传输配置
type TransportConfig struct {
	Mode            string `yaml:"mode"`
	WebSocketPath   string `yaml:"websocket_path"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	QueueSize       int    `yaml:"queue_size"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	timing := session.DefaultTiming()
	opts := transport.DefaultOptions()

	return &Config{
		Listen:   ":27015",
		Server:   "127.0.0.1:27015",
		Name:     "player",
		Class:    world.Berserker.String(),
		LogLevel: "info",

		Session: SessionConfig{
			Capacity:                 16,
			TickRate:                 60,
			PingIntervalMs:           int(timing.PingInterval / time.Millisecond),
			DisconnectTimeoutMs:      int(timing.DisconnectTimeout / time.Millisecond),
			HelloIntervalMs:          int(timing.HelloInterval / time.Millisecond),
			ReplicationIntervalMs:    int(timing.ReplicationInterval / time.Millisecond),
			InputIntervalMs:          int(timing.InputInterval / time.Millisecond),
			DeliveryTimeoutMs:        int(timing.DeliveryTimeout / time.Millisecond),
			MaxOutstandingDeliveries: timing.MaxOutstandingDeliveries,
			InputBufferSize:          timing.InputBufferSize,
			MaxDelayedDestroys:       timing.MaxDelayedDestroys,
		},

		Transport: TransportConfig{
			Mode:            ModeUDP,
			WebSocketPath:   "/netplay",
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			QueueSize:       opts.QueueSize,
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 无效: %s (可选: debug, info, warn, error)", c.LogLevel)
	}

	if _, err := world.ParseClass(c.Class); err != nil {
		return fmt.Errorf("class 无效: %w", err)
	}

	if len(c.Name) > 255 {
		return fmt.Errorf("name 长度不能超过 255 字节")
	}

	// 验证主监听端口
	mainPort, err := parsePort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}

	// 端口冲突检测
	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if mainPort != 0 && metricsPort == mainPort {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 listen 冲突", metricsPort)
		}
	}

	if err := c.validateSessionConfig(); err != nil {
		return fmt.Errorf("session 配置错误: %w", err)
	}

	if err := c.validateTransportConfig(); err != nil {
		return fmt.Errorf("transport 配置错误: %w", err)
	}

	if c.Metrics.Enabled {
		if err := c.validateMetricsConfig(); err != nil {
			return fmt.Errorf("metrics 配置错误: %w", err)
		}
	}

	return nil
}

// validateSessionConfig 验证会话参数
func (c *Config) validateSessionConfig() error {
	s := c.Session

	if s.Capacity < 1 || s.Capacity > 1024 {
		return fmt.Errorf("capacity 需在 1-1024 之间")
	}
	if s.TickRate < 1 || s.TickRate > 1000 {
		return fmt.Errorf("tick_rate 需在 1-1000 之间")
	}

	intervals := []struct {
		name  string
		value int
	}{
		{"ping_interval_ms", s.PingIntervalMs},
		{"hello_interval_ms", s.HelloIntervalMs},
		{"replication_interval_ms", s.ReplicationIntervalMs},
		{"input_interval_ms", s.InputIntervalMs},
		{"delivery_timeout_ms", s.DeliveryTimeoutMs},
	}
	for _, iv := range intervals {
		if iv.value < 1 || iv.value > 60000 {
			return fmt.Errorf("%s 需在 1-60000 之间", iv.name)
		}
	}

	if s.DisconnectTimeoutMs <= s.PingIntervalMs {
		return fmt.Errorf("disconnect_timeout_ms 必须大于 ping_interval_ms")
	}

	if s.MaxOutstandingDeliveries < 1 || s.MaxOutstandingDeliveries > 4096 {
		return fmt.Errorf("max_outstanding_deliveries 需在 1-4096 之间")
	}

	// 一个输入数据报必须能容纳整个缓冲区
	if limit := input.MaxBatchSamples(); s.InputBufferSize < 1 || s.InputBufferSize > limit {
		return fmt.Errorf("input_buffer_size 需在 1-%d 之间", limit)
	}

	if s.MaxDelayedDestroys < 0 {
		return fmt.Errorf("max_delayed_destroys 不能为负数")
	}

	return nil
}

// validateTransportConfig 验证传输配置
func (c *Config) validateTransportConfig() error {
	t := &c.Transport

	t.Mode = strings.ToLower(t.Mode)
	switch t.Mode {
	case ModeUDP:
	case ModeWebSocket:
		if t.WebSocketPath == "" {
			t.WebSocketPath = "/netplay"
		}
		if !strings.HasPrefix(t.WebSocketPath, "/") {
			return fmt.Errorf("websocket_path 必须以 / 开头")
		}
	default:
		return fmt.Errorf("mode 无效: %s (可选: udp, websocket)", t.Mode)
	}

	if t.ReadBufferSize < 0 || t.WriteBufferSize < 0 {
		return fmt.Errorf("缓冲区大小不能为负数")
	}
	if t.QueueSize < 1 || t.QueueSize > 1<<20 {
		return fmt.Errorf("queue_size 需在 1-%d 之间", 1<<20)
	}

	return nil
}

// validateMetricsConfig 验证监控配置
func (c *Config) validateMetricsConfig() error {
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("path 必须以 / 开头")
	}
	if !strings.HasPrefix(c.Metrics.HealthPath, "/") {
		return fmt.Errorf("health_path 必须以 / 开头")
	}
	if c.Metrics.Path == c.Metrics.HealthPath {
		return fmt.Errorf("path 与 health_path 不能相同")
	}
	return nil
}

// Durations 转换为会话时间参数
func (s SessionConfig) Durations() session.Timing {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return session.Timing{
		PingInterval:             ms(s.PingIntervalMs),
		DisconnectTimeout:        ms(s.DisconnectTimeoutMs),
		HelloInterval:            ms(s.HelloIntervalMs),
		ReplicationInterval:      ms(s.ReplicationIntervalMs),
		InputInterval:            ms(s.InputIntervalMs),
		DeliveryTimeout:          ms(s.DeliveryTimeoutMs),
		MaxOutstandingDeliveries: s.MaxOutstandingDeliveries,
		InputBufferSize:          s.InputBufferSize,
		MaxDelayedDestroys:       s.MaxDelayedDestroys,
	}
}

// TickInterval 单个 tick 的时长
func (s SessionConfig) TickInterval() time.Duration {
	return session.TickInterval(s.TickRate)
}

// Options 转换为传输参数
func (t TransportConfig) Options() transport.Options {
	return transport.Options{
		ReadBufferSize:  t.ReadBufferSize,
		WriteBufferSize: t.WriteBufferSize,
		QueueSize:       t.QueueSize,
	}
}

// WebSocketURL 由 server 生成 WebSocket 地址，已是 URL 时原样返回
func (c *Config) WebSocketURL() string {
	if strings.HasPrefix(c.Server, "ws://") || strings.HasPrefix(c.Server, "wss://") {
		return c.Server
	}
	u := url.URL{Scheme: "ws", Host: c.Server, Path: c.Transport.WebSocketPath}
	return u.String()
}

// ParsedClass 解析后的职业，Validate 已保证合法
func (c *Config) ParsedClass() world.Class {
	class, _ := world.ParseClass(c.Class)
	return class
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# Netplay 配置文件示例
# =============================================================================

# 基础配置
listen: ":27015"                    # host 监听地址
server: "127.0.0.1:27015"           # peer 连接的 host 地址
name: "player"                      # peer 名称 (最长 255 字节)
class: "berserker"                  # 职业: berserker, wizard, hunter
log_level: "info"                   # 日志级别: debug, info, warn, error

# 会话参数
session:
  capacity: 16                      # host 最大连接数
  tick_rate: 60                     # 每秒 tick 数
  ping_interval_ms: 500             # 心跳间隔
  disconnect_timeout_ms: 5000       # 静默超时
  hello_interval_ms: 100            # 握手重发间隔
  replication_interval_ms: 100      # 复制刷新间隔
  input_interval_ms: 50             # 输入发送间隔
  delivery_timeout_ms: 1000         # 投递判定丢失的超时
  max_outstanding_deliveries: 64    # 每连接未确认数据报上限
  input_buffer_size: 32             # 未确认输入缓冲 (不超过 55)
  max_delayed_destroys: 256         # 延迟销毁队列上限

# 传输层
transport:
  mode: "udp"                       # udp, websocket
  websocket_path: "/netplay"        # websocket 模式的 HTTP 路径
  read_buffer_size: 4194304
  write_buffer_size: 4194304
  queue_size: 1024                  # 入站队列长度

# 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
