// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mrcgq/netplay/internal/session"
	"github.com/mrcgq/netplay/internal/world"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.Listen != ":27015" {
			t.Errorf("Listen 默认值错误: got %s, want :27015", cfg.Listen)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
		if cfg.Transport.Mode != ModeUDP {
			t.Errorf("Transport.Mode 默认值错误: got %s, want udp", cfg.Transport.Mode)
		}
	})

	t.Run("会话默认值与 session 包一致", func(t *testing.T) {
		got := cfg.Session.Durations()
		want := session.DefaultTiming()
		if got != want {
			t.Errorf("Durations() = %+v, want %+v", got, want)
		}
	})

	t.Run("默认配置可通过校验", func(t *testing.T) {
		if err := DefaultConfig().Validate(); err != nil {
			t.Errorf("默认配置校验失败: %v", err)
		}
	})
}

// =============================================================================
// 端口冲突测试
// =============================================================================

func TestPortConflictDetection(t *testing.T) {
	t.Run("监听与监控端口冲突", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Listen = ":27015"
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = "127.0.0.1:27015"

		err := cfg.Validate()
		if err == nil {
			t.Fatal("应该检测到端口冲突")
		}
		if !strings.Contains(err.Error(), "冲突") {
			t.Errorf("错误信息应包含'冲突': %v", err)
		}
	})

	t.Run("监控关闭时不检测", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Enabled = false
		cfg.Metrics.Listen = cfg.Listen
		if err := cfg.Validate(); err != nil {
			t.Errorf("不应报错: %v", err)
		}
	})

	t.Run("临时端口不冲突", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Listen = ":0"
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = ":0"
		if err := cfg.Validate(); err != nil {
			t.Errorf("端口 0 不应视为冲突: %v", err)
		}
	})
}

// =============================================================================
// 会话参数边界测试
// =============================================================================

func TestSessionBoundaryValues(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*SessionConfig)
		wantErr string
	}{
		{"容量为0", func(s *SessionConfig) { s.Capacity = 0 }, "capacity"},
		{"容量过大", func(s *SessionConfig) { s.Capacity = 1025 }, "capacity"},
		{"tick_rate为0", func(s *SessionConfig) { s.TickRate = 0 }, "tick_rate"},
		{"心跳间隔为0", func(s *SessionConfig) { s.PingIntervalMs = 0 }, "ping_interval_ms"},
		{"投递超时过大", func(s *SessionConfig) { s.DeliveryTimeoutMs = 60001 }, "delivery_timeout_ms"},
		{"超时不大于心跳", func(s *SessionConfig) { s.DisconnectTimeoutMs = s.PingIntervalMs }, "disconnect_timeout_ms"},
		{"未确认上限为0", func(s *SessionConfig) { s.MaxOutstandingDeliveries = 0 }, "max_outstanding_deliveries"},
		{"输入缓冲超出单包容量", func(s *SessionConfig) { s.InputBufferSize = 56 }, "input_buffer_size"},
		{"延迟销毁为负", func(s *SessionConfig) { s.MaxDelayedDestroys = -1 }, "max_delayed_destroys"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.Session)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("应该报错")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("错误信息应包含 %q: %v", tt.wantErr, err)
			}
		})
	}

	t.Run("输入缓冲上限可用", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Session.InputBufferSize = 55
		if err := cfg.Validate(); err != nil {
			t.Errorf("55 应合法: %v", err)
		}
	})
}

func TestDurations(t *testing.T) {
	s := DefaultConfig().Session
	s.PingIntervalMs = 250
	s.DisconnectTimeoutMs = 3000
	s.TickRate = 50

	timing := s.Durations()
	if timing.PingInterval != 250*time.Millisecond {
		t.Errorf("PingInterval = %v", timing.PingInterval)
	}
	if timing.DisconnectTimeout != 3*time.Second {
		t.Errorf("DisconnectTimeout = %v", timing.DisconnectTimeout)
	}
	if s.TickInterval() != 20*time.Millisecond {
		t.Errorf("TickInterval = %v", s.TickInterval())
	}
}

// =============================================================================
// 基础字段校验
// =============================================================================

func TestBasicValidation(t *testing.T) {
	t.Run("无效日志级别", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LogLevel = "verbose"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "log_level") {
			t.Errorf("应报 log_level 错误: %v", err)
		}
	})

	t.Run("日志级别大小写不敏感", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LogLevel = "DEBUG"
		if err := cfg.Validate(); err != nil {
			t.Errorf("不应报错: %v", err)
		}
	})

	t.Run("未知职业", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Class = "paladin"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "class") {
			t.Errorf("应报 class 错误: %v", err)
		}
	})

	t.Run("职业解析", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Class = "wizard"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("不应报错: %v", err)
		}
		if cfg.ParsedClass() != world.Wizard {
			t.Errorf("ParsedClass() = %v, want wizard", cfg.ParsedClass())
		}
	})

	t.Run("名称过长", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Name = strings.Repeat("x", 256)
		if err := cfg.Validate(); err == nil {
			t.Error("应该报错")
		}
	})
}

// =============================================================================
// 传输配置测试
// =============================================================================

func TestTransportValidation(t *testing.T) {
	t.Run("无效模式", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.Mode = "quic"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "mode") {
			t.Errorf("应报 mode 错误: %v", err)
		}
	})

	t.Run("模式归一化为小写", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.Mode = "WebSocket"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("不应报错: %v", err)
		}
		if cfg.Transport.Mode != ModeWebSocket {
			t.Errorf("Mode = %s, want websocket", cfg.Transport.Mode)
		}
	})

	t.Run("WebSocket路径必须以斜杠开头", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.Mode = ModeWebSocket
		cfg.Transport.WebSocketPath = "netplay"
		if err := cfg.Validate(); err == nil {
			t.Error("应该报错")
		}
	})

	t.Run("WebSocket路径默认值", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.Mode = ModeWebSocket
		cfg.Transport.WebSocketPath = ""
		if err := cfg.Validate(); err != nil {
			t.Fatalf("不应报错: %v", err)
		}
		if cfg.Transport.WebSocketPath != "/netplay" {
			t.Errorf("WebSocketPath = %s", cfg.Transport.WebSocketPath)
		}
	})

	t.Run("队列长度为0", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.QueueSize = 0
		if err := cfg.Validate(); err == nil {
			t.Error("应该报错")
		}
	})

	t.Run("Options 转换", func(t *testing.T) {
		tc := TransportConfig{ReadBufferSize: 1, WriteBufferSize: 2, QueueSize: 3}
		opts := tc.Options()
		if opts.ReadBufferSize != 1 || opts.WriteBufferSize != 2 || opts.QueueSize != 3 {
			t.Errorf("Options() = %+v", opts)
		}
	})
}

func TestWebSocketURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server = "example.com:8080"
	cfg.Transport.WebSocketPath = "/play"
	if got := cfg.WebSocketURL(); got != "ws://example.com:8080/play" {
		t.Errorf("WebSocketURL() = %s", got)
	}

	cfg.Server = "wss://example.com/custom"
	if got := cfg.WebSocketURL(); got != "wss://example.com/custom" {
		t.Errorf("WebSocketURL() = %s", got)
	}
}

func TestMetricsValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.HealthPath = cfg.Metrics.Path
	if err := cfg.Validate(); err == nil {
		t.Error("path 与 health_path 相同应报错")
	}

	cfg = DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "metrics"
	if err := cfg.Validate(); err == nil {
		t.Error("path 不以 / 开头应报错")
	}
}

// =============================================================================
// parsePort 测试
// =============================================================================

func TestParsePort(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    int
		wantErr bool
	}{
		{"冒号前缀", ":27015", 27015, false},
		{"完整地址", "0.0.0.0:8080", 8080, false},
		{"IPv6地址", "[::]:9000", 9000, false},
		{"仅端口号", "12345", 12345, false},
		{"无效格式", "invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePort(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("parsePort(%s) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parsePort(%s) = %d, want %d", tt.addr, got, tt.want)
			}
		})
	}
}

func TestGetListenPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:8080"
	if port := cfg.GetListenPort(); port != 8080 {
		t.Errorf("GetListenPort() = %d, want 8080", port)
	}
}

// =============================================================================
// 配置文件加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	t.Run("文件不存在", func(t *testing.T) {
		_, err := Load("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("加载不存在的文件应该报错")
		}
	})

	t.Run("部分字段覆盖默认值", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		content := `
listen: ":30000"
class: "hunter"
session:
  capacity: 4
  ping_interval_ms: 200
transport:
  mode: "websocket"
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("加载配置文件失败: %v", err)
		}
		if cfg.Listen != ":30000" {
			t.Errorf("Listen = %s", cfg.Listen)
		}
		if cfg.Session.Capacity != 4 || cfg.Session.PingIntervalMs != 200 {
			t.Errorf("Session = %+v", cfg.Session)
		}
		// 未出现的字段保留默认值
		if cfg.Session.DisconnectTimeoutMs != 5000 {
			t.Errorf("DisconnectTimeoutMs = %d, want 5000", cfg.Session.DisconnectTimeoutMs)
		}
		if cfg.Transport.WebSocketPath != "/netplay" {
			t.Errorf("WebSocketPath = %s", cfg.Transport.WebSocketPath)
		}
	})

	t.Run("无效YAML格式", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.yaml")
		invalid := `
listen: ":27015"
  invalid: indentation
`
		if err := os.WriteFile(configPath, []byte(invalid), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}
		if _, err := Load(configPath); err == nil {
			t.Error("解析无效YAML应该报错")
		}
	})

	t.Run("校验失败", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(configPath, []byte("session:\n  capacity: 0\n"), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}
		_, err := Load(configPath)
		if err == nil || !strings.Contains(err.Error(), "capacity") {
			t.Errorf("应报 capacity 错误: %v", err)
		}
	})
}

func TestExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置应可直接加载: %v", err)
	}
	if cfg.Session.Durations() != session.DefaultTiming() {
		t.Errorf("示例配置应与默认值一致: %+v", cfg.Session)
	}
}
