package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# paperx configuration

[engine]
# Price move applied against the taker on market-style fills
slippage_factor = 0.0005
# Fee charged in the quote asset, as a fraction of notional
fee_rate = 0.001
# How often resting orders are re-evaluated
tick_interval_ms = 60000
# Fill price of a triggered stop_limit: "limit" or "market"
stop_limit_fill = "limit"
# Cancel the surviving OCO leg when its sibling fills
oco_cancel_sibling_on_fill = false
# Accounts evaluated in parallel per tick
tick_concurrency = 8

[risk]
# Default limits: conservative, moderate, aggressive
profile = "moderate"
# How often portfolio risk is assessed
monitor_interval = "5m"
# Daily volatility assumed for VaR
volatility = 0.02
# Alerts kept per account
alert_history = 100
# Largest single-asset share before a concentration alert
concentration_threshold = 0.8

[ledger]
base_asset = "USDT"
# Balance a reset account starts with
initial_balance = 10000.0

[market_data]
# Price source: "static" or "http"
provider = "static"
base_url = "https://api.binance.com"
cache_ttl = "5s"
timeout = "3s"
rate_per_second = 10.0
burst = 10
breaker_failures = 5
breaker_cooldown = "30s"

# Seed prices for the static provider
[market_data.prices]
"BTC/USDT" = 50000.0
"ETH/USDT" = 3000.0
"SOL/USDT" = 100.0

[store]
# Persistence: "sqlite" or "memory"
driver = "sqlite"
# Defaults to paperx.db in the config directory
# path = ""

[log]
level = "info"
console = true
file = true

[ui]
color_enabled = true
time_format = "15:04:05"

[notifications]
enabled = false
# Notification level: all, critical_only
level = "all"
# Print alerts to the terminal while serving
terminal = true

[notifications.webhook]
enabled = false
url = ""
timeout = "10s"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
