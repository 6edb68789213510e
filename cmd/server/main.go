package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stepup-challenge/internal/app"
	"stepup-challenge/internal/config"
	"stepup-challenge/internal/server"
	"stepup-challenge/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s := server.NewGRPCServer(a.Emitter, cfg.OTLPEndpoint != "")
	deps := server.Deps{Sessions: a.Manager}
	if a.DB != nil {
		deps.HealthPinger = a.DB
	}
	server.RegisterServices(s, deps)

	go func() {
		log.Printf("gRPC server listening on %s (store %s)", cfg.GRPCAddr, cfg.StoreDriver)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	s.GracefulStop()
	log.Println("gRPC server stopped")

	// Let async telemetry emits finish before the providers shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
