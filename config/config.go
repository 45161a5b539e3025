package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marketflow/tvstream/condition"
	"github.com/marketflow/tvstream/types"
)

const (
	defaultListenAddr      = "0.0.0.0:7171"
	defaultSrvWriteTimeout = 20 * time.Second
	defaultSrvReadTimeout  = 20 * time.Second

	defaultReconnectCap         = 30 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultConnectTimeout       = 15 * time.Second

	defaultAlertCooldown = 5 * time.Minute

	SampleConfigPath = "tvstream.example.toml"
)

var (
	validate = validator.New()

	// ErrEmptyConfigPath defines a sentinel error for an empty config path.
	ErrEmptyConfigPath = errors.New("empty configuration file path")
)

type (
	// Config defines all necessary tvstream daemon configuration parameters.
	Config struct {
		Server    Server      `mapstructure:"server"`
		Auth      Auth        `mapstructure:"auth"`
		Engine    Engine      `mapstructure:"engine"`
		Quotes    []Quote     `mapstructure:"quotes" validate:"dive"`
		Charts    []Chart     `mapstructure:"charts" validate:"dive"`
		Studies   []Study     `mapstructure:"studies" validate:"dive"`
		Alerts    []AlertRule `mapstructure:"alerts" validate:"dive"`
		Slack     Slack       `mapstructure:"slack"`
		Telemetry Telemetry   `mapstructure:"telemetry"`
	}

	// Server defines the API server configuration.
	Server struct {
		ListenAddr     string   `mapstructure:"listen_addr"`
		WriteTimeout   string   `mapstructure:"write_timeout"`
		ReadTimeout    string   `mapstructure:"read_timeout"`
		EnableCORS     bool     `mapstructure:"enable_cors"`
		VerboseCORS    bool     `mapstructure:"verbose_cors"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	}

	// Auth defines the optional upstream credentials. All fields empty means
	// the engine connects anonymously.
	Auth struct {
		Token       string `mapstructure:"token"`
		SessionID   string `mapstructure:"session_id"`
		SessionSign string `mapstructure:"session_sign"`
	}

	// Engine defines connection tuning for the streaming engine.
	Engine struct {
		Endpoint             string `mapstructure:"endpoint"`
		ReconnectCap         string `mapstructure:"reconnect_cap"`
		MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts" validate:"gte=0"`
		ConnectTimeout       string `mapstructure:"connect_timeout"`
	}

	// Quote defines one symbol subscribed for live quote updates.
	Quote struct {
		Symbol   string `mapstructure:"symbol" validate:"required"`
		Exchange string `mapstructure:"exchange"`
	}

	// Chart defines one candle stream subscription.
	Chart struct {
		Symbol   string         `mapstructure:"symbol" validate:"required"`
		Exchange string         `mapstructure:"exchange"`
		Interval types.Interval `mapstructure:"interval" validate:"required"`
	}

	// Study defines one indicator attached to a declared chart.
	Study struct {
		Symbol    string                 `mapstructure:"symbol" validate:"required"`
		Interval  types.Interval         `mapstructure:"interval" validate:"required"`
		Indicator string                 `mapstructure:"indicator" validate:"required"`
		Inputs    map[string]interface{} `mapstructure:"inputs"`
	}

	// AlertRule defines one condition watched against a declared chart.
	AlertRule struct {
		Name      string         `mapstructure:"name" validate:"required"`
		Symbol    string         `mapstructure:"symbol" validate:"required"`
		Interval  types.Interval `mapstructure:"interval" validate:"required"`
		Condition string         `mapstructure:"condition" validate:"required"`
		Cooldown  string         `mapstructure:"cooldown"`
	}

	// Slack defines the optional Slack notifier target. Token and channel
	// come as a pair.
	Slack struct {
		Token   string `mapstructure:"token"`
		Channel string `mapstructure:"channel"`
	}

	// Telemetry defines the in-memory metrics sink configuration.
	Telemetry struct {
		ServiceName string `mapstructure:"service_name"`
		Enabled     bool   `mapstructure:"enabled"`
	}
)

// telemetryValidation is custom validation for the Telemetry struct.
func telemetryValidation(sl validator.StructLevel) {
	tel := sl.Current().Interface().(Telemetry)

	if tel.Enabled && len(tel.ServiceName) == 0 {
		sl.ReportError(tel.Enabled, "enabled", "Enabled", "enabledNoServiceName", "")
	}
}

// slackValidation is custom validation for the Slack struct.
func slackValidation(sl validator.StructLevel) {
	slk := sl.Current().Interface().(Slack)

	if (slk.Token == "") != (slk.Channel == "") {
		sl.ReportError(slk, "slack", "Slack", "incompleteSlackPair", "")
	}
}

// Credentials converts the auth section into engine credentials.
func (a Auth) Credentials() types.Credentials {
	return types.Credentials{
		Token:       a.Token,
		SessionID:   a.SessionID,
		SessionSign: a.SessionSign,
	}
}

// Validate returns an error if the Config object is invalid.
func (c Config) Validate() (err error) {
	if err = c.validateServer(); err != nil {
		return err
	}

	if err = c.validateEngine(); err != nil {
		return err
	}

	if err = c.validateSubscriptions(); err != nil {
		return err
	}

	if err = c.validateAlerts(); err != nil {
		return err
	}

	validate.RegisterStructValidation(telemetryValidation, Telemetry{})
	validate.RegisterStructValidation(slackValidation, Slack{})
	return validate.Struct(c)
}

func (c Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Server.ListenAddr, err)
	}
	if _, err := time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("invalid server write timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("invalid server read timeout: %w", err)
	}
	return nil
}

func (c Config) validateEngine() error {
	if _, err := time.ParseDuration(c.Engine.ReconnectCap); err != nil {
		return fmt.Errorf("invalid reconnect cap: %w", err)
	}
	if _, err := time.ParseDuration(c.Engine.ConnectTimeout); err != nil {
		return fmt.Errorf("invalid connect timeout: %w", err)
	}
	return nil
}

// validateSubscriptions checks interval tokens and requires every study to
// reference a declared chart.
func (c Config) validateSubscriptions() error {
	charts, err := c.chartSet()
	if err != nil {
		return err
	}

	for _, study := range c.Studies {
		iv, err := types.ParseInterval(string(study.Interval))
		if err != nil {
			return fmt.Errorf("study %s on %s: %w", study.Indicator, study.Symbol, err)
		}
		if _, ok := charts[chartKey(study.Symbol, iv)]; !ok {
			return fmt.Errorf("study %s references undeclared chart %s/%s",
				study.Indicator, study.Symbol, iv)
		}
	}
	return nil
}

// validateAlerts checks that every alert condition parses, its cooldown is a
// valid duration, and its chart is declared.
func (c Config) validateAlerts() error {
	charts, err := c.chartSet()
	if err != nil {
		return err
	}

	for _, alert := range c.Alerts {
		iv, err := types.ParseInterval(string(alert.Interval))
		if err != nil {
			return fmt.Errorf("alert %s: %w", alert.Name, err)
		}
		if _, ok := charts[chartKey(alert.Symbol, iv)]; !ok {
			return fmt.Errorf("alert %s references undeclared chart %s/%s",
				alert.Name, alert.Symbol, iv)
		}
		if _, err := condition.Parse(alert.Condition); err != nil {
			return fmt.Errorf("alert %s: %w", alert.Name, err)
		}
		if alert.Cooldown != "" {
			if _, err := time.ParseDuration(alert.Cooldown); err != nil {
				return fmt.Errorf("alert %s: invalid cooldown: %w", alert.Name, err)
			}
		}
	}
	return nil
}

func (c Config) chartSet() (map[string]struct{}, error) {
	charts := make(map[string]struct{}, len(c.Charts))
	for _, chart := range c.Charts {
		iv, err := types.ParseInterval(string(chart.Interval))
		if err != nil {
			return nil, fmt.Errorf("chart %s: %w", chart.Symbol, err)
		}
		charts[chartKey(chart.Symbol, iv)] = struct{}{}
	}
	return charts, nil
}

func chartKey(symbol string, interval types.Interval) string {
	return types.BareSymbol(symbol) + "/" + string(interval)
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = defaultSrvWriteTimeout.String()
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = defaultSrvReadTimeout.String()
	}
	if c.Engine.ReconnectCap == "" {
		c.Engine.ReconnectCap = defaultReconnectCap.String()
	}
	if c.Engine.MaxReconnectAttempts == 0 {
		c.Engine.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.Engine.ConnectTimeout == "" {
		c.Engine.ConnectTimeout = defaultConnectTimeout.String()
	}
	for i := range c.Alerts {
		if c.Alerts[i].Cooldown == "" {
			c.Alerts[i].Cooldown = defaultAlertCooldown.String()
		}
	}
}

// ChartFor returns the declared chart entry matching (symbol, interval).
// Symbol matching ignores the exchange qualifier and case.
func (c Config) ChartFor(symbol string, interval types.Interval) (Chart, bool) {
	want := chartKey(symbol, interval)
	for _, chart := range c.Charts {
		iv, err := types.ParseInterval(string(chart.Interval))
		if err != nil {
			continue
		}
		if chartKey(chart.Symbol, iv) == want {
			return chart, true
		}
	}
	return Chart{}, false
}
