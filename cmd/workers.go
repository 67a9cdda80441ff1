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

	"github.com/blnkfinance/payrelay"
	"github.com/blnkfinance/payrelay/config"
	"github.com/blnkfinance/payrelay/internal/hooks"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func initializeWorkerServer(conf *config.Configuration, redisOption asynq.RedisClientOpt) *asynq.Server {
	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: conf.Queue.Concurrency,
			Queues: map[string]int{
				conf.Queue.HookQueue: 1,
			},
		},
	)
}

func initializeTaskHandlers(app *payrelayInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(hooks.TaskDeliverHook, app.hooks.ProcessHookTask)
}

// serveMonitoring exposes asynqmon under /monitoring on the configured port.
func serveMonitoring(conf *config.Configuration, redisOption asynq.RedisClientOpt) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
	log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
	if err := http.ListenAndServe(monitoringAddr, h); err != nil {
		log.Fatalf("could not start asynqmon server: %v", err)
	}
}

// workerCommands starts the workers that deliver ORDER_PAID hooks.
func workerCommands(app *payrelayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payrelay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			redisOption, err := payrelay.RedisClientOpt(conf)
			if err != nil {
				log.Fatal(err)
			}

			if backlog, err := app.queue.PendingHookDeliveries(conf.Queue.HookQueue); err == nil {
				logrus.WithField("backlog", backlog).Info("hook deliveries waiting")
			}

			srv := initializeWorkerServer(conf, redisOption)
			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			go serveMonitoring(conf, redisOption)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
