package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"marketplace/internal/mw"
	"marketplace/internal/tools/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func main() {
	var (
		httpAddr  = flag.String("http", "http://localhost:7001", "order API base URL")
		grpcAddr  = flag.String("grpc", "localhost:50051", "gRPC health address")
		secret    = flag.String("jwt-secret", os.Getenv("MARKET_AUTH_JWT_SECRET"), "HS256 secret shared with the server")
		orders    = flag.Int("orders", 20, "number of orders to place")
		firstID   = flag.Int64("first-id", time.Now().Unix(), "id of the first order")
		workers   = flag.Int("workers", 4, "concurrent requests")
		declineEv = flag.Int("decline-every", 5, "every n-th order uses a sandbox card that is declined (0 disables)")
	)
	flag.Parse()
	logger.InitLogger("info")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := checkHealth(ctx, *grpcAddr); err != nil {
		logger.Logger.Error("server is not healthy", "error", err)
		os.Exit(1)
	}

	const buyerID, sellerID = 1001, 2002
	token, err := mw.IssueToken([]byte(*secret), buyerID, "load@example.com", time.Hour)
	if err != nil {
		logger.Logger.Error("failed to sign token", "error", err)
		os.Exit(1)
	}

	c := newAPIClient(*httpAddr, token)
	jobs := make([]placeJob, 0, *orders)
	for i := 0; i < *orders; i++ {
		card := "4111111111111111"
		if *declineEv > 0 && (i+1)%*declineEv == 0 {
			card = "4111111111110002"
		}
		jobs = append(jobs, placeJob{
			orderID:   *firstID + int64(i),
			buyerID:   buyerID,
			sellerID:  sellerID,
			card:      card,
			warehouse: i%2 == 0,
		})
	}

	if err := placeOrdersAsync(ctx, c, jobs, *workers); err != nil {
		logger.Logger.Error("load run finished with errors", "error", err)
		os.Exit(1)
	}

	statuses := c.waitSettled(ctx, jobs)
	logger.Logger.Info("load run finished", slog.Any("statuses", statuses))
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Logger.Warn("failed to close gRPC client", "error", err)
		}
	}()

	ctx = metadata.AppendToOutgoingContext(ctx, "sender", "load-client", "client-version", "1.0")
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	logger.Logger.Info("server health", "status", resp.GetStatus().String())
	return nil
}
