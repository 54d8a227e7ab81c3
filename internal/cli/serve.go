package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"marketplace/internal/app/order"
	"marketplace/internal/config"
	"marketplace/internal/metrics"
	"marketplace/internal/mw"
	"marketplace/internal/service"
	"marketplace/internal/tools/logger"
	"marketplace/internal/worker"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health server, saga executors and reconciler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metrics.Init()

	ctx := cmd.Context()
	in, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	lim, err := mw.NewLimiter(cfg.RateLimit, in.redisClient())
	if err != nil {
		return err
	}

	executor := service.NewExecutor(service.ExecutorDeps{
		Storage:   in.storage,
		Publisher: in.log,
		Gateway:   in.gateway,
		Codec:     in.codec,
		Cache:     in.cache,
		Alerter:   in.alerter,
	}, service.ExecutorConfig{
		MaxRetries: cfg.Saga.MaxRetries,
		RetryDelay: cfg.Saga.RetryDelay,
		Retry:      service.DefaultRetryPolicy,
	})
	orders := service.NewOrderService(in.storage, in.log, in.codec, in.cache)
	reconciler := service.NewReconciler(in.storage, in.alerter, cfg.Reconcile.StaleAfter)

	consumers := worker.NewManager(in.log, executor.Handle)
	consumers.Start(ctx)

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	sweep := func(ctx context.Context) error {
		_, err := reconciler.Sweep(ctx)
		return err
	}
	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		worker.Periodic{
			Name:     "payment-reconciliation",
			Interval: cfg.Reconcile.Interval,
			Fn:       sweep,
			Drain:    sweep,
		}.Run(bgCtx)
	}()

	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: order.NewRouter(order.New(orders), order.RouterOptions{
			JWTSecret: []byte(cfg.Auth.JWTSecret),
			Limiter:   lim,
			Ready:     in.Ready,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		mw.LoggingInterceptor,
		mw.RateLimiterInterceptor(lim),
	))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer) //чтобы постман все видел
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 2)
	go func() {
		logger.Logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := serveGRPC(grpcServer, cfg.GRPC); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Logger.Info("shutting down")
	case err = <-errCh:
		logger.Logger.Error("server failed, shutting down", "error", err)
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Logger.Warn("http shutdown", "error", shutdownErr)
	}
	grpcServer.GracefulStop()
	if in.memLog != nil {
		in.memLog.CloseIntake()
	}
	stopBackground()
	<-reconcileDone
	if stopErr := consumers.Stop(shutdownCtx); stopErr != nil {
		logger.Logger.Warn("saga consumers did not stop in time", "error", stopErr)
	}
	if in.memLog != nil && in.memLog.Pending() > 0 {
		logger.Logger.Warn("in-memory envelopes dropped on shutdown", "pending", in.memLog.Pending())
	}
	return err
}

func serveGRPC(s *grpc.Server, cfg config.GRPC) error {
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	logger.Logger.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}
