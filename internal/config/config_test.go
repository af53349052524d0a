package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("无配置文件应回落默认值: %v", err)
	}

	if cfg.App.Name != "fxwatcher" {
		t.Fatalf("默认应用名错误: %s", cfg.App.Name)
	}
	if len(cfg.Alerting.Currencies) == 0 {
		t.Fatal("默认应提供监控货币列表")
	}
	if cfg.Metrics.Confidence != 0.95 {
		t.Fatalf("默认置信度应为 0.95, 实际 %v", cfg.Metrics.Confidence)
	}
	if cfg.Alerting.Slack.Enabled {
		t.Fatal("Slack 默认应关闭")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
alerting:
  currencies: ["EUR", "SEK"]
  thresholds:
    volatility_multiple: 2.0
portfolio:
  - currency: EUR
    amount: 500000
    direction: long
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	if len(cfg.Alerting.Currencies) != 2 || cfg.Alerting.Currencies[1] != "SEK" {
		t.Fatalf("货币列表应被覆盖: %v", cfg.Alerting.Currencies)
	}
	if cfg.Alerting.Thresholds.VolatilityMultiple != 2.0 {
		t.Fatalf("阈值应被覆盖: %v", cfg.Alerting.Thresholds.VolatilityMultiple)
	}
	if len(cfg.Portfolio) != 1 || cfg.Portfolio[0].Direction != "long" {
		t.Fatalf("敞口种子解析错误: %#v", cfg.Portfolio)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("加载默认配置失败: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Alerting.Slack.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("启用 Slack 但未配置 webhook 应报错")
	}

	cfg = base()
	cfg.Metrics.Confidence = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("置信度越界应报错")
	}

	cfg = base()
	cfg.Portfolio = []ExposureSeed{{Currency: "EUR", Amount: 100, Direction: "sideways"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("非法敞口方向应报错")
	}
}
