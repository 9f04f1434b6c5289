package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luhtfiimanal/serialhub"
	"github.com/luhtfiimanal/serialhub/internal/config"
	"github.com/luhtfiimanal/serialhub/internal/logger"
	"github.com/luhtfiimanal/serialhub/metrics"
	"github.com/luhtfiimanal/serialhub/payload"
	"github.com/luhtfiimanal/serialhub/serial"
)

var flags struct {
	configPath   string
	device       string
	baudRate     int
	jsonLogs     bool
	logLevel     string
	metricsAddr  string
	healthWindow time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "serialhub",
	Short: "Read gesture and car telemetry from a serial port",
	Long: `serialhub reads newline-delimited JSON records from a serial-attached
monitor, classifies each record as a gesture sample or a car status report,
and logs every decoded payload.

Examples:
  serialhub --device /dev/ttyUSB0
  serialhub --config ./configs/serialhub.yml --metrics-addr :9090
  serialhub --device /dev/ttyACM0 --baud 230400 --json`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "path to YAML config file")
	f.StringVarP(&flags.device, "device", "d", "", "serial device (overrides config)")
	f.IntVarP(&flags.baudRate, "baud", "b", 0, "baud rate (overrides config)")
	f.BoolVar(&flags.jsonLogs, "json", false, "emit JSON logs")
	f.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.DurationVar(&flags.healthWindow, "health-window", 5*time.Second, "warn when no payload arrived within this window")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Options{JSON: cfg.Log.JSON, Level: cfg.Log.Level})
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	m := metrics.New()
	reader := serial.New(cfg.SerialReader(), serial.WithLogger(logger.Component(log, "serial")))
	hub := serialhub.New(reader,
		serialhub.WithLogger(log),
		serialhub.WithMetrics(m),
		serialhub.WithTickInterval(cfg.TickInterval),
		serialhub.WithReopenInterval(cfg.ReopenInterval),
	)

	if err := subscribeConsole(hub, logger.Component(log, "events")); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, log, cfg.Metrics, m)
	}
	go watchHealth(ctx, log, hub, flags.healthWindow)

	log.Info("serialhub started",
		zap.String(logger.FieldDevice, cfg.Serial.Device),
		zap.Int("baud", cfg.Serial.BaudRate),
		zap.Duration("tick", cfg.TickInterval))

	if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("serialhub stopped")
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Serial.Device = flags.device
	}
	if f.Changed("baud") {
		cfg.Serial.BaudRate = flags.baudRate
	}
	if f.Changed("json") {
		cfg.Log.JSON = flags.jsonLogs
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = flags.metricsAddr
	}
}

func subscribeConsole(hub *serialhub.Hub, log *zap.Logger) error {
	if _, err := hub.OnGesture(func(g payload.GestureSample) error {
		log.Info("gesture",
			zap.Float64s("acc", g.Acc[:]),
			zap.Float64s("gyro", g.Gyro[:]))
		return nil
	}); err != nil {
		return err
	}
	_, err := hub.OnCarStatus(func(s payload.CarStatus) error {
		log.Info("car status",
			zap.String("source", s.Source),
			zap.Int("left_speed", s.LeftSpeed),
			zap.Int("right_speed", s.RightSpeed),
			zap.Bool("is_moving", s.IsMoving),
			zap.Int64("timestamp", s.Timestamp))
		return nil
	})
	return err
}

func serveMetrics(ctx context.Context, log *zap.Logger, cfg config.MetricsConfig, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func watchHealth(ctx context.Context, log *zap.Logger, hub *serialhub.Hub, window time.Duration) {
	if window <= 0 {
		return
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	last := serialhub.ConditionOK
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h := hub.Health()
			cond := h.Condition(now, window)
			if cond != last {
				log.Warn("pipeline condition changed",
					zap.Stringer("condition", cond),
					zap.Stringer(logger.FieldState, h.State),
					zap.Uint64("lines", h.Lines),
					zap.Uint64("decode_errors", h.DecodeErrors),
					zap.Uint64("unclassified", h.Unclassified))
				last = cond
			}
		}
	}
}
