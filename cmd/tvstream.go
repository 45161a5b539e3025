package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marketflow/tvstream/alert"
	"github.com/marketflow/tvstream/config"
	"github.com/marketflow/tvstream/pine"
	v1 "github.com/marketflow/tvstream/router/v1"
	"github.com/marketflow/tvstream/stream"
	"github.com/marketflow/tvstream/types"
)

const (
	logLevelJSON = "json"
	logLevelText = "text"

	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

var rootCmd = &cobra.Command{
	Use:   "tvstream [config-file]",
	Args:  cobra.ExactArgs(1),
	Short: "tvstream is a daemon that watches streamed market data and fires condition alerts",
	Long: `tvstream connects to the upstream chart websocket, subscribes the quotes,
charts and indicator studies declared in the config file, evaluates the
configured alert conditions on every push, and exposes the tracked state
over a small REST facade.`,
	RunE: tvstreamCmdHandler,
}

func init() {
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.InfoLevel.String(), "logging level")
	rootCmd.PersistentFlags().String(flagLogFormat, logLevelText, "logging format; must be either json or text")

	rootCmd.AddCommand(getSearchCmd())
	rootCmd.AddCommand(getVersionCmd())
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tvstreamCmdHandler(cmd *cobra.Command, args []string) error {
	logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return err
	}

	logLvl, err := zerolog.ParseLevel(logLvlStr)
	if err != nil {
		return err
	}

	logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
	if err != nil {
		return err
	}

	var logWriter io.Writer
	switch strings.ToLower(logFormatStr) {
	case logLevelJSON:
		logWriter = os.Stderr

	case logLevelText:
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}

	default:
		return fmt.Errorf("invalid logging format: %s", logFormatStr)
	}

	logger := zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger()

	cfg, err := config.ParseConfig(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())

	// listen for and trap any OS signal to gracefully shutdown and exit
	trapSignal(cancel, logger)

	telemetrySink, err := initTelemetry(cfg)
	if err != nil {
		return err
	}

	engine, err := buildEngine(logger, cfg)
	if err != nil {
		return err
	}

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer engine.Disconnect()

	if err := subscribeAll(ctx, logger, cfg, engine); err != nil {
		return err
	}

	monitor, err := buildMonitor(logger, cfg, engine)
	if err != nil {
		return err
	}
	if monitor != nil {
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// serve the REST facade until the signal handler cancels the context
		return startServer(ctx, logger, cfg, engine, telemetrySink)
	})

	// Block main process until all spawned goroutines have gracefully exited
	// and signal has been captured in the main process or if an error occurs.
	return g.Wait()
}

// buildEngine assembles the streaming client from the engine and auth config
// sections.
func buildEngine(logger zerolog.Logger, cfg config.Config) (*stream.Client, error) {
	reconnectCap, err := time.ParseDuration(cfg.Engine.ReconnectCap)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reconnect cap: %w", err)
	}

	connectTimeout, err := time.ParseDuration(cfg.Engine.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connect timeout: %w", err)
	}

	engineOpts := []stream.Option{
		stream.WithMaxReconnectAttempts(cfg.Engine.MaxReconnectAttempts),
		stream.WithReconnectCap(reconnectCap),
		stream.WithConnectTimeout(connectTimeout),
		stream.WithDescriptorProvider(pine.New(logger, "")),
	}
	if cfg.Engine.Endpoint != "" {
		engineOpts = append(engineOpts, stream.WithEndpoint(cfg.Engine.Endpoint))
	}
	if creds := cfg.Auth.Credentials(); !creds.IsZero() {
		engineOpts = append(engineOpts, stream.WithCredentials(stream.StaticCredentials(creds)))
	}

	return stream.New(logger, engineOpts...), nil
}

// subscribeAll replays the config's quote, chart and study declarations onto
// the engine.
func subscribeAll(ctx context.Context, logger zerolog.Logger, cfg config.Config, engine *stream.Client) error {
	for _, q := range cfg.Quotes {
		if err := engine.SubscribeQuote(q.Symbol, q.Exchange); err != nil {
			return fmt.Errorf("failed to subscribe quote %s: %w", q.Symbol, err)
		}
	}

	for _, ch := range cfg.Charts {
		if err := engine.SubscribeChart(ch.Symbol, string(ch.Interval), ch.Exchange); err != nil {
			return fmt.Errorf("failed to subscribe chart %s: %w", ch.Symbol, err)
		}
	}

	for _, st := range cfg.Studies {
		if _, err := engine.AddStudy(ctx, st.Symbol, string(st.Interval), st.Indicator, st.Inputs); err != nil {
			return fmt.Errorf("failed to add study %s on %s: %w", st.Indicator, st.Symbol, err)
		}
	}

	logger.Info().
		Int("quotes", len(cfg.Quotes)).
		Int("charts", len(cfg.Charts)).
		Int("studies", len(cfg.Studies)).
		Msg("subscriptions replayed")

	return nil
}

// buildMonitor compiles the config's alert rules into a monitor; nil when no
// alerts are configured.
func buildMonitor(logger zerolog.Logger, cfg config.Config, engine *stream.Client) (*alert.Monitor, error) {
	if len(cfg.Alerts) == 0 {
		return nil, nil
	}

	rules := make([]alert.Rule, 0, len(cfg.Alerts))
	for _, a := range cfg.Alerts {
		cooldown, err := time.ParseDuration(a.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cooldown of alert %s: %w", a.Name, err)
		}

		// the declared chart carries the exchange qualifier
		symbol := a.Symbol
		if chart, ok := cfg.ChartFor(a.Symbol, a.Interval); ok {
			symbol = types.FullSymbol(chart.Exchange, chart.Symbol)
		}

		rules = append(rules, alert.Rule{
			Name:      a.Name,
			Symbol:    symbol,
			Interval:  a.Interval,
			Condition: a.Condition,
			Cooldown:  cooldown,
		})
	}

	notifiers := []alert.Notifier{alert.NewLogNotifier(logger)}
	if cfg.Slack.Token != "" {
		notifiers = append(notifiers, alert.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel))
	}

	return alert.New(logger, engine, rules, notifiers...)
}

// initTelemetry installs the process-wide in-memory metrics sink; a nil sink
// is returned when telemetry is disabled.
func initTelemetry(cfg config.Config) (v1.Metrics, error) {
	if !cfg.Telemetry.Enabled {
		return nil, nil
	}

	sink := metrics.NewInmemSink(10*time.Second, 10*time.Minute)
	conf := metrics.DefaultConfig(cfg.Telemetry.ServiceName)
	if _, err := metrics.NewGlobal(conf, sink); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return sink, nil
}

// startServer runs the REST facade until ctx is canceled, then shuts it down
// gracefully.
func startServer(ctx context.Context, logger zerolog.Logger, cfg config.Config, engine v1.Engine, telemetrySink v1.Metrics) error {
	rtr := mux.NewRouter()
	v1Router := v1.New(logger, cfg, engine, telemetrySink)
	v1Router.RegisterRoutes(rtr, v1.APIPathPrefix)

	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		return fmt.Errorf("failed to parse server write timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		return fmt.Errorf("failed to parse server read timeout: %w", err)
	}

	srv := &http.Server{
		Handler:      rtr,
		Addr:         cfg.Server.ListenAddr,
		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,
	}

	srvErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("starting tvstream server...")
		srvErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("shutting down tvstream server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to gracefully shutdown tvstream server")
			return err
		}

		return nil

	case err := <-srvErrCh:
		logger.Error().Err(err).Msg("failed to start tvstream server")
		return err
	}
}

// trapSignal will listen for any OS signal and cancel the root context
// allowing the main process to gracefully exit.
func trapSignal(cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh, syscall.SIGTERM)
	signal.Notify(sigCh, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("caught signal; shutting down...")
		cancel()
	}()
}
