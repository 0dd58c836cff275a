package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"realty-network/config"
	"realty-network/internal/services/compensation"
	"realty-network/internal/services/compensation/jobs"
)

const serviceName = "realty.compensation"

func main() {
	cfg := config.LoadConfig()
	logger := config.NewLogger(cfg.Log)

	svc, err := compensation.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start compensation service: %v", err)
	}
	defer svc.Close()

	scheduler, err := jobs.NewScheduler(cfg.Compensation.RankSweepCron, cfg.Compensation.RankSweepTZ, svc.Handler, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule rank sweep: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	s := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	reflection.Register(s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := svc.Ping(ctx); err != nil {
		logger.Warnf("Dependencies not reachable yet: %v", err)
		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
	cancel()

	go watchDependencies(svc, healthServer)

	scheduler.Start()
	logger.WithField("next_sweep", scheduler.Next()).Info("Rank sweep scheduled")

	go func() {
		logger.Infof("Compensation service listening on %s", cfg.Server.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			logger.Fatalf("Failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down compensation service...")

	healthServer.Shutdown()
	scheduler.Stop()
	s.GracefulStop()
}

// watchDependencies flips the health status as postgres and redis come and go.
func watchDependencies(svc *compensation.Service, hs *health.Server) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		st := healthpb.HealthCheckResponse_SERVING
		if err := svc.Ping(ctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		hs.SetServingStatus(serviceName, st)
		hs.SetServingStatus("", st)
	}
}
