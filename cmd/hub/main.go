package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/romana/rlog"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/email"
	"preorder_hub/custom/message_queue"
	"preorder_hub/custom/order"
	"preorder_hub/custom/preorder"
	"preorder_hub/custom/processor"
	"preorder_hub/custom/purchase"
	"preorder_hub/custom/server"
	"preorder_hub/custom/store"
	"preorder_hub/custom/user"
	"preorder_hub/custom/util"
	"preorder_hub/custom/webhook"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to the yaml config file")
	flag.Parse()

	serverConfig := util.ServerConfig{}
	serverConfig.GetConf(*configPath)
	if err := serverConfig.Validate(); err != nil {
		log.Fatal(err)
	}
	os.Setenv("RLOG_LOG_LEVEL", serverConfig.LogLevel)
	rlog.UpdateEnv()

	db, err := store.Open(serverConfig.Database)
	if err != nil {
		panic("failed to connect database" + err.Error())
	}
	defer db.Close()

	// Auto migrate table schemas
	if err = db.Migrate(); err != nil {
		panic("failed to migrate database" + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var queue message_queue.Queue
	switch serverConfig.Queue.Driver {
	case "sqs":
		sqsQueue, err := message_queue.NewSQSQueue(ctx, serverConfig.Queue.SQS)
		if err != nil {
			log.Fatal(err)
		}
		queue = sqsQueue
		rlog.Info("Payment events go to SQS, run the worker to confirm them")
	default:
		memoryQueue := message_queue.NewMessageQueue(serverConfig.Queue.BufferSize)
		queue = memoryQueue
		consumer := webhook.NewConsumer(db)
		go func() {
			if err := memoryQueue.Consume(ctx, consumer.Handle); err != nil && ctx.Err() == nil {
				rlog.Error("Payment event consumer stopped:", err.Error())
			}
		}()
	}
	defer queue.Close()

	// Initialize handler contexts
	stripeProcessor := processor.NewStripe(serverConfig.Stripe)
	orderService := order.NewService(db)
	authenticator := auth.NewAuthenticator(serverConfig.Auth)
	handlers := server.Handlers{
		Authenticator: authenticator,
		Auth:          &auth.HandlerContext{},
		User:          &user.HandlerContext{},
		Purchase:      &purchase.HandlerContext{},
		Order:         &order.HandlerContext{},
		Webhook:       &webhook.HandlerContext{},
		Preorder:      &preorder.HandlerContext{},
		Email:         &email.HandlerContext{},
	}
	handlers.Auth.InitialHandlerContext(db, authenticator)
	handlers.User.InitialHandlerContext(db, serverConfig.Auth)
	handlers.Purchase.InitialHandlerContext(purchase.NewService(stripeProcessor), serverConfig.Stripe.PublishableKey)
	handlers.Order.InitialHandlerContext(orderService)
	handlers.Webhook.InitialHandlerContext(stripeProcessor.ParseEvent, queue)
	handlers.Preorder.InitialHandlerContext(db, serverConfig.Preorder)
	handlers.Email.InitialHandlerContext(db)

	if serverConfig.Orders.PendingTTL > 0 {
		go orderService.RunPendingSweeper(ctx, serverConfig.Orders.PendingTTL, serverConfig.Orders.SweepInterval)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", serverConfig.HttpPort),
		Handler:      server.NewRouter(handlers),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		rlog.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	rlog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rlog.Error("Graceful shutdown failed:", err.Error())
	}
}
