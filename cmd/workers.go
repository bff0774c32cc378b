/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/blnkfinance/docflow"
	"github.com/blnkfinance/docflow/config"
	redis_db "github.com/blnkfinance/docflow/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.DocumentQueue: 3,
		cfg.Queue.WebhookQueue:  1,
	}
}

func initializeWorkerServer(conf *config.Configuration, redisOption asynq.RedisClientOpt, queues map[string]int) *asynq.Server {
	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: conf.Queue.WorkerCount,
			Queues:      queues,
			Logger:      logrus.StandardLogger(),
		},
	)
}

func initializeTaskHandlers(d *docflowInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(docflow.TaskProcessDocument, d.docflow.ProcessTask)
	mux.HandleFunc(docflow.TaskSimulateExtraction, d.docflow.ProcessTask)
	mux.HandleFunc(docflow.TaskSendWebhook, d.docflow.ProcessTask)
}

// workerCommands defines the "workers" command. Workers consume document and webhook tasks
// from Redis and publish lifecycle events back through the relay channel.
func workerCommands(d *docflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start docflow workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := d.cnf

			if conf.Redis.Dns == "" {
				log.Fatal("workers require a redis dns; without one tasks run inside the server process")
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			redisOption, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("error parsing Redis URL: %v", err)
			}

			srv := initializeWorkerServer(conf, redisOption, initializeQueues(conf))

			mux := asynq.NewServeMux()
			initializeTaskHandlers(d, mux)

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOption,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
