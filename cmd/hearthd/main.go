package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/adapters/mqtt"
	"github.com/hearthaudio/hearth/internal/hearthd"
	"github.com/hearthaudio/hearth/internal/modules/embeddedmqtt"
	"github.com/hearthaudio/hearth/internal/modules/mqttapi"
	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/internal/sources/bluetooth"
	"github.com/hearthaudio/hearth/internal/sources/librespot"
	"github.com/hearthaudio/hearth/internal/sources/mpd"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		logLevel    string
		logFormat   string
		logOutput   string
		printConfig bool
		dryRun      bool
	)

	defaultConfig, err := hearthd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "server identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := hearthd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, broker, identity, topicBase, logLevel, logFormat, logOutput)

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		return
	}

	logger := hearthd.NewLogger(hearthd.LogConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cfg.Server.LogOutput,
	})
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embeddedURL := embeddedBrokerURL(cfg)
	skipEmbedded := false
	if cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedURL {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			logger.Error("embedded mqtt failed", zap.Error(err))
			os.Exit(1)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" {
		logger.Error("broker is required")
		os.Exit(1)
	}

	logger.Info("hearthd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.Strings("sources", enabledSources(cfg)),
	)

	engine := buildEngine(cfg, logger)
	if !engine.Initialize() {
		logger.Error("engine initialization failed")
		os.Exit(1)
	}
	defer engine.Shutdown()

	if cfg.Engine.PowerOnStart {
		engine.PowerOn(hearth.SourceNone)
	}

	conn, err := mqtt.NewConn(mqtt.ConnOptions{
		Options: mqtt.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("hearthd-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
		},
		Logger: logger.With(zap.String("adapter", "mqtt")),
		Debug:  cfg.Modules.MQTTAPI.Debug,
	})
	if err != nil {
		logger.Error("mqtt connection failed", zap.Error(err))
		os.Exit(1)
	}
	defer conn.Disconnect()

	modules, err := buildModules(cfg, conn, engine, logger, skipEmbedded)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := hearthd.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *hearthd.Config, broker, identity, topicBase, logLevel, logFormat, logOutput string) {
	if broker != "" {
		cfg.Server.Broker = broker
	}
	if identity != "" {
		cfg.Server.Identity = identity
	}
	if topicBase != "" {
		cfg.Server.TopicBase = topicBase
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Server.LogOutput = logOutput
	}
	if cfg.Server.Identity == "" {
		cfg.Server.Identity = "hearthd"
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = hearth.BaseTopic
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

// buildEngine constructs the arbitration engine over the enabled backends.
func buildEngine(cfg hearthd.Config, logger *zap.Logger) *radio.Engine {
	backends := map[hearth.SourceType]radio.Backend{}

	if cfg.Sources.MPD.Enabled {
		backends[hearth.SourceMPD] = mpd.New(logger.With(zap.String("source", "mpd")), mpd.Config{
			Address:      cfg.Sources.MPD.Address,
			Password:     cfg.Sources.MPD.Password,
			PollInterval: time.Duration(cfg.Sources.MPD.PollIntervalMS) * time.Millisecond,
		})
	}
	if cfg.Sources.Librespot.Enabled {
		backends[hearth.SourceLibrespot] = librespot.New(logger.With(zap.String("source", "librespot")), librespot.Config{
			BaseURL: cfg.Sources.Librespot.BaseURL,
			Timeout: time.Duration(cfg.Sources.Librespot.TimeoutMS) * time.Millisecond,
		})
	}
	if cfg.Sources.Bluetooth.Enabled {
		backends[hearth.SourceBluetooth] = bluetooth.New(logger.With(zap.String("source", "bluetooth")), bluetooth.Config{
			Adapter:               cfg.Sources.Bluetooth.Adapter,
			PairingTimeoutSeconds: cfg.Engine.PairingTimeoutSeconds,
		})
	}

	bus := radio.NewBus(logger.With(zap.String("component", "bus")))
	return radio.NewEngine(logger.With(zap.String("component", "engine")), bus, backends, radio.Config{
		SettleDelay:          time.Duration(cfg.Engine.SettleDelayMS) * time.Millisecond,
		VolumeStep:           cfg.Engine.VolumeStep,
		PairingWindowSeconds: cfg.Engine.PairingTimeoutSeconds,
	})
}

func buildModules(cfg hearthd.Config, conn *mqtt.Conn, engine *radio.Engine, logger *zap.Logger, skipEmbedded bool) ([]hearthd.ModuleRunner, error) {
	modules := []hearthd.ModuleRunner{}

	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded {
		mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
			Listen:         cfg.Modules.EmbeddedMQTT.Listen,
			TopicBase:      cfg.Server.TopicBase,
			AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
			Username:       cfg.Modules.EmbeddedMQTT.Username,
			Password:       cfg.Modules.EmbeddedMQTT.Password,
			TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
			TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
			TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, hearthd.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
	}

	if cfg.Modules.MQTTAPI.Enabled {
		mod, err := mqttapi.NewModule(logger.With(zap.String("module", "mqtt_api")), conn, engine, mqttapi.Config{
			TopicBase: cfg.Server.TopicBase,
			Identity:  cfg.Server.Identity,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, hearthd.ModuleRunner{Name: "mqtt_api", Run: mod.Run})
	}

	return modules, nil
}

func enabledSources(cfg hearthd.Config) []string {
	out := []string{}
	if cfg.Sources.MPD.Enabled {
		out = append(out, "mpd")
	}
	if cfg.Sources.Librespot.Enabled {
		out = append(out, "librespot")
	}
	if cfg.Sources.Bluetooth.Enabled {
		out = append(out, "bluetooth")
	}
	return out
}

func printResolvedConfig(cfg hearthd.Config) {
	fmt.Fprintf(os.Stdout,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s sources=%v\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		enabledSources(cfg),
	)
}

func embeddedBrokerURL(cfg hearthd.Config) string {
	listen := cfg.Modules.EmbeddedMQTT.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	tlsEnabled := cfg.Modules.EmbeddedMQTT.TLSCert != "" || cfg.Modules.EmbeddedMQTT.TLSKey != "" || cfg.Modules.EmbeddedMQTT.TLSCA != ""
	return embeddedmqtt.BrokerURL(listen, tlsEnabled)
}

func startEmbeddedBroker(ctx context.Context, cfg hearthd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		TopicBase:      cfg.Server.TopicBase,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
		TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
		TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
		TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
	})
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()

	listen := cfg.Modules.EmbeddedMQTT.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	return waitForListen(listen, 3*time.Second)
}

func waitForListen(listen string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("embedded mqtt not ready at %s", addr)
}
