package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/gate"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/notify"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/service"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
	"github.com/BrandonDHaskell/Citadel/gate/internal/grpcapi"
	"github.com/BrandonDHaskell/Citadel/gate/internal/httpapi"
)

// NewServeCommand creates the serve command that runs the gate daemon.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gate: session controller, fingerprint loop, replication and APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, logger, dev := opts.Config, opts.Logger, opts.Devices

	policy, err := service.ParsePolicy(cfg.LedgerPolicy)
	if err != nil {
		return err
	}
	key, err := biometric.ParseKey(cfg.TemplateKey)
	if err != nil {
		return fmt.Errorf("template key: %w", err)
	}
	sealer, err := biometric.NewSealer(key)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	s, err := openStores(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer s.Close()

	// A remote that is down now is migrated by the first replication cycle
	// that reaches it.
	if _, err := s.migrateRemote(ctx); err != nil {
		return err
	}

	health := grpcapi.NewHealthServer(logger)
	health.SetServing(true)

	// Debounce state is shared across gates when Redis is configured.
	var recent service.RecentLog = service.NewMemoryRecentLog()
	rdb, err := service.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable; debouncing per process", "error", err)
	} else if rdb != nil {
		defer rdb.Close()
		recent = service.NewRedisRecentLog(rdb, "citadel:recent", cfg.DebounceWindow)
	}

	ledger := service.NewLedger(s.broker, recent,
		service.LedgerConfig{Policy: policy, Debounce: cfg.DebounceWindow},
		service.WithLedgerLogger(logger),
		service.WithLedgerMetrics(m),
	)

	var senders []notify.Sender
	if cfg.SMTP.Host != "" {
		senders = append(senders, notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer pub.Close()
		senders = append(senders, pub)
	}
	dispatcher := notify.NewDispatcher(senders, notify.DispatcherConfig{}, logger, m)

	gallery := biometric.NewGalleryCache(s.broker, sealer, logger, m)
	if _, err := gallery.Load(ctx, true); err != nil {
		logger.Warn("initial gallery load failed", "error", err)
	}
	faces := biometric.NewFaceMatcher(dev.Detector, dev.Embedder, biometric.FaceConfig{
		DetectThreshold: cfg.FaceDetectThreshold,
		MatchThreshold:  cfg.FaceMatchThreshold,
	}, logger, m)
	fingerprints := biometric.NewFingerprintMatcher(sealer, cfg.FingerprintMinScore, logger, m)

	loop := gate.NewFingerprintLoop(dev.Fingerprint, gallery, fingerprints, nil, gate.LoopTiming{}, logger)
	ctrl := gate.NewController(gate.Config{
		Direction:      types.Direction(cfg.Direction),
		ConfirmTimeout: cfg.ConfirmTimeout,
		Hold:           cfg.DisplayHold,
	}, gate.Dependencies{
		Identities:  s.broker,
		Ledger:      ledger,
		Notifier:    dispatcher,
		Gallery:     gallery,
		Faces:       faces,
		Camera:      dev.Camera,
		Fingerprint: loop,
	}, logger)
	loop.SetSink(ctrl.SubmitFingerprint)

	enroller := biometric.NewEnroller(s.broker, sealer, gallery, logger)
	enrollments := gate.NewEnrollments(
		&gate.FingerprintEnrollment{Reader: dev.Fingerprint, Loop: loop, Enroller: enroller, Logger: logger},
		&gate.FaceEnrollment{Camera: dev.Camera, Detector: dev.Detector, Embedder: dev.Embedder, Enroller: enroller, Logger: logger},
		cfg.EnrollTimeout, logger,
	)
	enrollments.SessionActive = func() bool { return ctrl.Snapshot().Active() }
	defer enrollments.Close()

	replicator := service.NewReplicator(s.broker, service.ReplicationConfig{
		Interval:  cfg.ReplicationInterval,
		BatchSize: cfg.ReplicationBatch,
	}, logger, m)
	replicator.OnRemoteStatus = func(up bool) {
		if up {
			if _, err := s.migrateRemote(ctx); err != nil {
				logger.Warn("remote migration failed", "err", err)
			}
		}
		health.SetRemote(up)
	}

	pruner := service.NewSyncQueuePruner(s.broker, service.PrunerConfig{
		RetentionDays: cfg.SyncRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger, m)

	localHealthy := func(ctx context.Context) error {
		_, err := s.broker.LocalStores(ctx)
		return err
	}
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		Gate:        ctrl,
		Gallery:     gallery,
		Enrollments: enrollments,
		Health:      localHealthy,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	logger.Info("gate starting",
		"gate_id", cfg.GateID, "direction", cfg.Direction, "policy", string(policy),
		"http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return replicator.Run(gctx) })
	g.Go(func() error {
		if err := pruner.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		pruner.Stop()
		return nil
	})
	g.Go(func() error { return health.ListenAndServe(gctx, cfg.GRPCAddr) })
	g.Go(func() error {
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("gate stopped")
	return err
}
