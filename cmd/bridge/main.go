package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "shelly2mqtt/internal/adapter/actor"
	"shelly2mqtt/internal/config"
	"shelly2mqtt/internal/core/actor"
	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/dispatch"
	"shelly2mqtt/internal/registry"
	"shelly2mqtt/internal/server"
	"shelly2mqtt/internal/transport/cloud"
	"shelly2mqtt/internal/transport/gen2"
	"shelly2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	slog.Info("shelly2mqtt", "version", versioninfo.Short())
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// device store seeded from config
	var profiles []domain.DeviceProfile
	for _, entry := range cfg.Devices {
		profiles = append(profiles, entry.Profile())
	}
	store := registry.NewMemoryStore(profiles)
	reg := registry.New(store, logger)
	hub := dispatch.NewHub()

	// resolve the cloud account server from the token
	cloudServer := ""
	var cloudRest actor.CloudStatusFetcher
	if cfg.Cloud.Token != "" {
		cloudServer, err = cloud.ServerFromToken(cfg.Cloud.Token)
		if err != nil {
			logger.Fatal("could not resolve cloud server from token", zap.Error(err))
		}
		cloudRest = cloud.NewRESTClient(cloudServer, cfg.Cloud.Token)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewBridgeMasterActor(*cfg, store, reg, hub,
			mqttActorProvider(cfg, logger), socketDialFunc(), cloudDialFunc(logger),
			cloudRest, cloudServer, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	if err := startJobs(cfg, ctx, pid); err != nil {
		logger.Fatal("could not start scheduler jobs", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

// startJobs wires the periodic maintenance passes: registry rebuild and, when
// a cloud account is configured, the REST reconciliation.
func startJobs(cfg *config.Config, rootCtx *pactor.RootContext, master *pactor.PID) error {
	sched, err := quartz.NewStdScheduler()
	if err != nil {
		return err
	}
	sched.Start(context.Background())

	rebuild := job.NewFunctionJob(func(_ context.Context) (int, error) {
		rootCtx.Send(master, domain.RebuildRegistryRequest{})
		return 0, nil
	})
	err = sched.ScheduleJob(
		quartz.NewJobDetail(rebuild, quartz.NewJobKey("registry_rebuild")),
		quartz.NewSimpleTrigger(time.Duration(cfg.Local.RegistryRebuildIntervalMillis)*time.Millisecond))
	if err != nil {
		return err
	}

	if cfg.Cloud.Token != "" {
		reconcile := job.NewFunctionJob(func(_ context.Context) (int, error) {
			rootCtx.Send(master, domain.CloudRefreshRequest{})
			return 0, nil
		})
		err = sched.ScheduleJob(
			quartz.NewJobDetail(reconcile, quartz.NewJobKey("cloud_reconcile")),
			quartz.NewSimpleTrigger(time.Duration(cfg.Cloud.ReconcileIntervalMillis)*time.Millisecond))
		if err != nil {
			return err
		}
	}
	return nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => SHELLY2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SHELLY2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("shelly2mqtt")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.Local.PollIntervalMillis < 1000 {
		return nil, errors.New("config param local.poll_interval_millis should be >= 1000")
	}
	if cfg.Local.BatteryPollIntervalMillis < cfg.Local.PollIntervalMillis {
		return nil, errors.New("config param local.battery_poll_interval_millis should be >= local.poll_interval_millis")
	}
	if cfg.Local.RegistryRebuildIntervalMillis < 10000 {
		return nil, errors.New("config param local.registry_rebuild_interval_millis should be >= 10000")
	}
	if cfg.Cloud.Token != "" && cfg.Cloud.ReconcileIntervalMillis < 60000 {
		return nil, errors.New("config param cloud.reconcile_interval_millis should be >= 60000")
	}
	if cfg.CoIoT.Port <= 0 || cfg.CoIoT.Port > 65535 {
		return nil, errors.New("config param coiot.port is out of range")
	}

	// validate paired devices early so a typo fails at startup
	for _, entry := range cfg.Devices {
		if _, err := domain.ParseCommMode(entry.Mode); err != nil {
			return nil, fmt.Errorf("device %s: %w", entry.ID, err)
		}
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func socketDialFunc() actor.SocketDialFunc {
	return func(ctx context.Context, address string) (actor.RPCClient, error) {
		return gen2.Dial(ctx, address)
	}
}

func cloudDialFunc(logger *zap.Logger) actor.CloudDialFunc {
	return func(ctx context.Context, server, token string) (actor.CloudSocket, error) {
		return cloud.DialSocket(ctx, server, token, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "shelly2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("local.poll_interval_millis", 5000)
	viper.SetDefault("local.battery_poll_interval_millis", 60000)
	viper.SetDefault("local.registry_rebuild_interval_millis", 60000)
	viper.SetDefault("cloud.reconcile_interval_millis", 300000)
	viper.SetDefault("coiot.enable", true)
	viper.SetDefault("coiot.port", 5683)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Cloud.Token = "*redacted*"
	for i := range cfg.Devices {
		cfg.Devices[i].Password = "*redacted*"
	}
	slog.Info("Using", "config", cfg)
}
