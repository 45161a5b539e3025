package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketflow/tvstream/config"
	"github.com/marketflow/tvstream/types"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tvstream.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestParseConfig_Valid(t *testing.T) {
	cfg, err := config.ParseConfig(writeConfig(t, `
[server]
listen_addr = "0.0.0.0:7171"
read_timeout = "25s"
write_timeout = "25s"
enable_cors = true
allowed_origins = ["https://example.com"]

[auth]
token = "tok"
session_id = "sid"
session_sign = "sig"

[engine]
reconnect_cap = "10s"
max_reconnect_attempts = 3
connect_timeout = "5s"

[[quotes]]
symbol = "THYAO"
exchange = "BIST"

[[charts]]
symbol = "THYAO"
exchange = "BIST"
interval = "1m"

[[studies]]
symbol = "THYAO"
interval = "1m"
indicator = "RSI"

[studies.inputs]
length = 7

[[alerts]]
name = "thyao_oversold"
symbol = "THYAO"
interval = "1m"
condition = "rsi < 30 and volume > 1M"
cooldown = "10m"

[slack]
token = "xoxb-test"
channel = "#alerts"

[telemetry]
service_name = "tvstream"
enabled = true
`))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7171", cfg.Server.ListenAddr)
	require.True(t, cfg.Server.EnableCORS)
	require.Equal(t, []string{"https://example.com"}, cfg.Server.AllowedOrigins)

	require.False(t, cfg.Auth.Credentials().IsZero())
	require.True(t, cfg.Auth.Credentials().HasCookie())

	require.Equal(t, "10s", cfg.Engine.ReconnectCap)
	require.Equal(t, 3, cfg.Engine.MaxReconnectAttempts)

	require.Len(t, cfg.Quotes, 1)
	require.Equal(t, "THYAO", cfg.Quotes[0].Symbol)

	require.Len(t, cfg.Charts, 1)
	require.Equal(t, types.Interval1m, cfg.Charts[0].Interval)

	require.Len(t, cfg.Studies, 1)
	require.EqualValues(t, 7, cfg.Studies[0].Inputs["length"])

	require.Len(t, cfg.Alerts, 1)
	require.Equal(t, "10m", cfg.Alerts[0].Cooldown)

	require.Equal(t, "xoxb-test", cfg.Slack.Token)
	require.True(t, cfg.Telemetry.Enabled)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := config.ParseConfig(writeConfig(t, `
[[charts]]
symbol = "THYAO"
exchange = "BIST"
interval = "1h"

[[alerts]]
name = "momentum"
symbol = "THYAO"
interval = "1h"
condition = "change > 2"
`))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:7171", cfg.Server.ListenAddr)
	require.Equal(t, "20s", cfg.Server.ReadTimeout)
	require.Equal(t, "20s", cfg.Server.WriteTimeout)
	require.Equal(t, "30s", cfg.Engine.ReconnectCap)
	require.Equal(t, 5, cfg.Engine.MaxReconnectAttempts)
	require.Equal(t, "15s", cfg.Engine.ConnectTimeout)
	require.Equal(t, "5m0s", cfg.Alerts[0].Cooldown)
}

func TestParseConfig_IntervalAliases(t *testing.T) {
	cfg, err := config.ParseConfig(writeConfig(t, `
[[charts]]
symbol = "THYAO"
interval = "1w"
`))
	require.NoError(t, err)
	require.Equal(t, types.Interval1wk, cfg.Charts[0].Interval)
}

func TestParseConfig_SampleFile(t *testing.T) {
	cfg, err := config.ParseConfig(filepath.Join("..", config.SampleConfigPath))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Quotes)
	require.NotEmpty(t, cfg.Charts)
	require.NotEmpty(t, cfg.Studies)
	require.NotEmpty(t, cfg.Alerts)
	require.True(t, cfg.Telemetry.Enabled)
}

func TestParseConfig_EmptyPath(t *testing.T) {
	_, err := config.ParseConfig("")
	require.ErrorIs(t, err, config.ErrEmptyConfigPath)
}

func TestParseConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
		errLike  string
	}{
		{
			name: "unknown_interval",
			contents: `
[[charts]]
symbol = "THYAO"
interval = "7m"
`,
			errLike: "unknown interval token",
		},
		{
			name: "study_without_chart",
			contents: `
[[studies]]
symbol = "THYAO"
interval = "1m"
indicator = "RSI"
`,
			errLike: "undeclared chart",
		},
		{
			name: "alert_without_chart",
			contents: `
[[alerts]]
name = "orphan"
symbol = "THYAO"
interval = "1m"
condition = "rsi < 30"
`,
			errLike: "undeclared chart",
		},
		{
			name: "alert_condition_unparseable",
			contents: `
[[charts]]
symbol = "THYAO"
interval = "1m"

[[alerts]]
name = "broken"
symbol = "THYAO"
interval = "1m"
condition = "rsi <"
`,
			errLike: "unparseable condition",
		},
		{
			name: "alert_bad_cooldown",
			contents: `
[[charts]]
symbol = "THYAO"
interval = "1m"

[[alerts]]
name = "impatient"
symbol = "THYAO"
interval = "1m"
condition = "rsi < 30"
cooldown = "soon"
`,
			errLike: "invalid cooldown",
		},
		{
			name: "bad_listen_addr",
			contents: `
[server]
listen_addr = "not-an-addr"
`,
			errLike: "invalid listen address",
		},
		{
			name: "slack_token_without_channel",
			contents: `
[slack]
token = "xoxb-test"
`,
			errLike: "incompleteSlackPair",
		},
		{
			name: "telemetry_without_service_name",
			contents: `
[telemetry]
enabled = true
`,
			errLike: "enabledNoServiceName",
		},
		{
			name: "alert_missing_name",
			contents: `
[[charts]]
symbol = "THYAO"
interval = "1m"

[[alerts]]
symbol = "THYAO"
interval = "1m"
condition = "rsi < 30"
`,
			errLike: "required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.ParseConfig(writeConfig(t, tc.contents))
			require.Error(t, err)
			require.ErrorContains(t, err, tc.errLike)
		})
	}
}

func TestChartFor(t *testing.T) {
	cfg, err := config.ParseConfig(writeConfig(t, `
[[charts]]
symbol = "THYAO"
exchange = "BIST"
interval = "1m"

[[charts]]
symbol = "GARAN"
exchange = "BIST"
interval = "1h"
`))
	require.NoError(t, err)

	chart, ok := cfg.ChartFor("thyao", types.Interval1m)
	require.True(t, ok)
	require.Equal(t, "BIST", chart.Exchange)

	chart, ok = cfg.ChartFor("BIST:GARAN", types.Interval1h)
	require.True(t, ok)
	require.Equal(t, "GARAN", chart.Symbol)

	_, ok = cfg.ChartFor("GARAN", types.Interval1m)
	require.False(t, ok)
}
