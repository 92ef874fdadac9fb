package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firewatch/internal/alert"
	"firewatch/internal/api"
	"firewatch/internal/config"
	"firewatch/internal/dispatch"
	"firewatch/internal/events"
	"firewatch/internal/fusion"
	"firewatch/internal/history"
	"firewatch/internal/ingest"
	"firewatch/internal/logging"
	"firewatch/internal/model"
	"firewatch/internal/pipeline"
	"firewatch/internal/storage"
	"firewatch/internal/transport"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to config file (json or yaml); defaults apply when empty")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("firewatchd", version)
		return
	}

	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(nil)
	}
	cfg := mgr.Get()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("firewatchd starting", "version", version, "config", mgr.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init error", "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.Init(initCtx); err != nil {
			cancel()
			logger.Error("storage schema error", "err", err)
			os.Exit(1)
		}
		cancel()
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	var classifier fusion.Classifier
	if cfg.Fusion.Classifier.Enabled {
		rc, err := fusion.NewRemoteClassifier(cfg.Fusion.Classifier)
		if err != nil {
			logger.Error("classifier init error", "err", err)
			os.Exit(1)
		}
		classifier = rc
		logger.Info("remote classifier enabled", "url", cfg.Fusion.Classifier.URL)
	}

	notifiers := []dispatch.Notifier{&dispatch.LogNotifier{Logger: logger}}
	if cfg.Notify.WebhookEnabled {
		notifiers = append(notifiers, dispatch.NewWebhookNotifier(cfg.Notify))
		logger.Info("webhook notifier enabled", "url", cfg.Notify.WebhookURL)
	}

	machine := alert.NewMachine(model.LevelNormal, cfg.Detection.ConfirmThreshold, cfg.Detection.CaptureTimeout)
	scorer := fusion.NewScorer(classifier, cfg.Fusion, logger)
	dispatcher := dispatch.NewDispatcher(store, notifiers, cfg.Notify.Cooldown, logger)
	eventLog := events.NewStore(cfg.Events.StoreLimit)
	hist := history.NewStore(cfg.History.StoreLimit)
	readings := make(chan model.SensorReading, cfg.Ingest.ChannelBuffer)

	var hub *transport.Hub
	if cfg.Transport.Enabled {
		hub = transport.NewHub(logger)
	}

	ctrl := pipeline.NewController(mgr, machine, scorer, dispatcher, store, hist, eventLog, hub, readings, logger)
	ctrl.Restore(ctx)

	if hub != nil {
		transport.Start(ctx, mgr, hub, logger)
	}

	parser := ingest.NewParser(cfg.Ingest.Parser, cfg.Detection.MaxFutureSkew)
	ingest.StartREST(ctx, mgr, parser, readings, func() model.AlertLevel { return machine.Level() }, logger)
	ingest.StartKafka(ctx, mgr, parser, readings, logger)
	ingest.StartMQTT(ctx, mgr, parser, readings, logger)
	ingest.StartTCPStream(ctx, mgr, parser, readings, logger)

	api.Start(ctx, mgr, ctrl, eventLog, store, logger, version)

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second,
			func(next *config.Config) {
				logger.Info("config reloaded", "path", mgr.Path())
				ctrl.ApplyConfig(next)
			},
			func(err error) {
				logger.Warn("config reload error", "err", err)
			},
			ctx.Done(),
		)
	}

	go ctrl.Run(ctx)

	<-ctx.Done()
	logger.Info("firewatchd shutting down")
}
