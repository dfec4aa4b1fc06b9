package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	commonlog "chat_server/server/common/log"
	gatewayapp "chat_server/server/gateway/app"
)

func main() {
	cfg := gatewayapp.LoadConfig()

	gatewayServer, err := gatewayapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize gateway server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start gateway http server on :%s", cfg.Port)
		if err := gatewayServer.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run gateway http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown gateway server gracefully: %v", err)
	}
}
