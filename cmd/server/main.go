package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/config"
	"charging-kiosk/internal/directory"
	dirs3 "charging-kiosk/internal/directory/s3"
	dirsqlite "charging-kiosk/internal/directory/sqlite"
	"charging-kiosk/internal/events"
	"charging-kiosk/internal/hardware"
	apphttp "charging-kiosk/internal/http"
	"charging-kiosk/internal/ledger"
	"charging-kiosk/internal/monitor"
	"charging-kiosk/internal/rfid"
	"charging-kiosk/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup directory store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	relay, reader, hardwareOK := buildHardware(cfg, logger)

	bal := ledger.New(store, ledger.Config{
		TTL:    cfg.Cache.TTL,
		Logger: logger,
	})
	coordinator := session.New(bal, relay, session.Config{
		Rate:   cfg.Charging.Rate,
		Logger: logger,
	})
	bus := events.NewBus(cfg.Events.Capacity, logger)
	source := rfid.New(reader, bal, coordinator, bus, rfid.Config{
		Debounce:      cfg.RFID.Debounce,
		Permissive:    cfg.RFID.ResolveMode == "permissive",
		AutoProvision: cfg.RFID.AutoProvision,
		Logger:        logger,
	})

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	loops.Add(3)
	go func() {
		defer loops.Done()
		source.Run(loopCtx)
	}()
	go func() {
		defer loops.Done()
		monitor.Decay(loopCtx, cfg.Monitor.TickInterval, coordinator, bus, logger)
	}()
	go func() {
		defer loops.Done()
		monitor.CacheSweep(loopCtx, cfg.Cache.SweepInterval, bal, logger)
	}()

	auth := apphttp.NewAuth(
		cfg.Auth.JWTSecret,
		cfg.Auth.AdminPasswordHash,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(bal, coordinator, source, bus, auth, apphttp.Options{
		Keepalive:  cfg.Stream.Keepalive,
		Permissive: cfg.RFID.ResolveMode == "permissive",
		HardwareOK: hardwareOK,
		Logger:     logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	cancelLoops()
	loops.Wait()
	bus.Close()
	coordinator.Shutdown(shutdownCtx)

	logger.Info("bye")
}

func buildStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (directory.Store, func() error, error) {
	switch cfg.Directory.Backend {
	case "sqlite":
		store, err := dirsqlite.Open(cfg.Directory.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, nil, err
		}
		if cfg.Directory.SeedDemo {
			if err := store.SeedDemo(ctx); err != nil {
				logger.Warnf("seed demo users: %v", err)
			}
		}
		logger.Infof("using sqlite directory at %s", cfg.Directory.Path)
		return store, store.Close, nil

	case "s3":
		loadOpts := []func(*awscfg.LoadOptions) error{
			awscfg.WithRegion(cfg.Storage.Region),
		}
		if cfg.AWS.Profile != "" {
			loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
		}

		awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}

		client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
				o.UsePathStyle = true
			}
		})
		store, err := dirs3.NewStore(client, cfg.Storage.Bucket, cfg.Storage.Key)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("using roster sheet s3://%s/%s (region %s)", cfg.Storage.Bucket, cfg.Storage.Key, cfg.Storage.Region)
		return store, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown directory backend %q", cfg.Directory.Backend)
	}
}

// buildHardware opens the real relay and reader, degrading to simulated
// implementations when either is unavailable. Missing hardware must never
// prevent the kiosk from starting.
func buildHardware(cfg config.Config, logger *logrus.Logger) (hardware.Relay, hardware.Reader, bool) {
	ok := true

	var relay hardware.Relay
	gpio, err := hardware.OpenGPIORelay(cfg.Hardware.RelayPin)
	if err != nil {
		logger.Warnf("relay unavailable, using simulated relay: %v", err)
		relay = hardware.NewSimulatedRelay(logger)
		ok = false
	} else {
		logger.Infof("relay ready on GPIO %d", cfg.Hardware.RelayPin)
		relay = gpio
	}

	var reader hardware.Reader
	if cfg.Hardware.ReaderDevice == "" {
		logger.Warn("no reader device configured, using simulated reader")
		reader = hardware.NewSimulatedReader(time.Second)
		ok = false
	} else if line, err := hardware.OpenLineReader(cfg.Hardware.ReaderDevice, time.Second, logger); err != nil {
		logger.Warnf("reader unavailable, using simulated reader: %v", err)
		reader = hardware.NewSimulatedReader(time.Second)
		ok = false
	} else {
		logger.Infof("card reader ready on %s", cfg.Hardware.ReaderDevice)
		reader = line
	}

	return relay, reader, ok
}
