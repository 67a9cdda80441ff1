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
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/payrelay"
	"github.com/blnkfinance/payrelay/config"
	"github.com/blnkfinance/payrelay/database"
	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/internal/cache"
	"github.com/blnkfinance/payrelay/internal/hooks"
	"github.com/blnkfinance/payrelay/internal/notification"
	redis_db "github.com/blnkfinance/payrelay/internal/redis-db"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Payrelay is the CLI application.
type Payrelay struct {
	cmd *cobra.Command
}

// payrelayInstance holds everything the commands share once the configuration is loaded.
type payrelayInstance struct {
	relay *payrelay.Relay
	cnf   *config.Configuration
	redis *redis_db.Redis
	queue *payrelay.Queue
	hooks hooks.HookManager
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *payrelayInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := app.setup(cnf); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		return nil
	}
}

// setup connects Redis, Postgres and the hook queue, then builds the relay on top of them.
func (app *payrelayInstance) setup(cfg *config.Configuration) error {
	rdb, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return errors.Wrap(err, "error connecting to redis")
	}

	db, err := database.NewDataSource(cfg, cache.NewCache(rdb.Client()))
	if err != nil {
		return errors.Wrap(err, "error getting datasource")
	}

	queue, err := payrelay.NewQueue(cfg)
	if err != nil {
		return errors.Wrap(err, "error creating hook queue")
	}

	notifier := notification.NewSlackNotifier(cfg.Notification.Slack.WebhookUrl)
	hookManager := hooks.NewHookManager(rdb.Client(), queue, hooks.QueueOptions{
		Queue:    cfg.Queue.HookQueue,
		MaxRetry: cfg.Queue.MaxRetry,
	}, notifier)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:         cfg.Gateway.BaseUrl,
		CallbackBaseURL: cfg.Gateway.CallbackBaseUrl,
		ArticleName:     cfg.Gateway.ArticleName,
		Timeout:         cfg.Gateway.GatewayTimeout(),
	})

	app.relay = payrelay.NewRelay(db, gw, rdb.Client(),
		payrelay.WithPolicy(payrelay.PolicyFromConfig(cfg)),
		payrelay.WithOrderHooks(hookManager),
		payrelay.WithNotifier(notifier),
	)
	app.cnf = cfg
	app.redis = rdb
	app.queue = queue
	app.hooks = hookManager
	return nil
}

func (app *payrelayInstance) close() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			logrus.WithError(err).Warn("error closing hook queue")
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logrus.WithError(err).Warn("error closing redis")
		}
	}
}

func NewCLI() *Payrelay {
	var configFile string
	app := &payrelayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "payrelay",
		Short: "Mobile-money payment relay",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payrelay.json", "Configuration file for payrelay")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) { app.close() }

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(replayCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Payrelay{cmd: rootCmd}
}

func (p Payrelay) executeCLI() {
	if err := p.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
