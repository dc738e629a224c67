package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/romana/rlog"
	"preorder_hub/custom/message_queue"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
	"preorder_hub/custom/webhook"
)

// The worker confirms payment events from SQS so that several hub instances share one consumer pool.
func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to the yaml config file")
	flag.Parse()

	serverConfig := util.ServerConfig{}
	serverConfig.GetConf(*configPath)
	if serverConfig.Queue.SQS.QueueURL == "" {
		log.Fatal("missing required config: queue.sqs.queue_url")
	}
	if serverConfig.Database.DSN == "" {
		log.Fatal("missing required config: database.dsn")
	}
	os.Setenv("RLOG_LOG_LEVEL", serverConfig.LogLevel)
	rlog.UpdateEnv()

	db, err := store.Open(serverConfig.Database)
	if err != nil {
		panic("failed to connect database" + err.Error())
	}
	defer db.Close()
	if err = db.Migrate(); err != nil {
		panic("failed to migrate database" + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := message_queue.NewSQSQueue(ctx, serverConfig.Queue.SQS)
	if err != nil {
		log.Fatal(err)
	}
	defer queue.Close()

	rlog.Info("Worker consuming payment events from", serverConfig.Queue.SQS.QueueURL)
	if err = queue.Consume(ctx, webhook.NewConsumer(db).Handle); err != nil && ctx.Err() == nil {
		rlog.Error("Worker stopped:", err.Error())
	}
}
