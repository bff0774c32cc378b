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
	"os"
	"time"

	"github.com/blnkfinance/docflow"
	"github.com/blnkfinance/docflow/config"
	"github.com/blnkfinance/docflow/database"
	"github.com/blnkfinance/docflow/internal/cache"
	redlock "github.com/blnkfinance/docflow/internal/lock"
	"github.com/blnkfinance/docflow/internal/notification"
	redis_db "github.com/blnkfinance/docflow/internal/redis-db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Docflow represents the CLI application, encapsulating the root Cobra command.
type Docflow struct {
	cmd *cobra.Command
}

// docflowInstance holds everything a command needs at runtime.
type docflowInstance struct {
	docflow     *docflow.Docflow
	cnf         *config.Configuration
	broadcaster *notification.Broadcaster
	relay       *notification.RedisRelay
	redis       *redis_db.Redis
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the docflow instance before any command runs.
func preRun(app *docflowInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := setupDocflow(cmd.Context(), app, cnf); err != nil {
			notification.NewErrorNotifier(cnf.ProjectName, cnf.Notification.Slack.WebhookUrl).NotifyError(err)
			log.Fatal(err)
		}
		app.cnf = cnf

		return nil
	}
}

// setupDocflow connects the configured backends. Without Redis, events stay in process and
// tasks run on the local worker pool.
func setupDocflow(ctx context.Context, app *docflowInstance, cnf *config.Configuration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app.broadcaster = notification.NewBroadcaster(notification.DefaultObserverBuffer)
	var publisher notification.Publisher = app.broadcaster
	var opts []docflow.Option

	var documentCache cache.Cache
	if cnf.Redis.Dns != "" {
		r, err := redis_db.NewRedisClient(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
		if err != nil {
			return fmt.Errorf("error connecting to redis: %v", err)
		}
		app.redis = r
		documentCache = cache.NewCache(r.Client())

		app.relay = notification.NewRedisRelay(r.Client(), cnf.Redis.EventsChannel, app.broadcaster)
		publisher = app.relay

		queue, err := docflow.NewAsynqQueue(cnf)
		if err != nil {
			return fmt.Errorf("error creating task queue: %v", err)
		}
		lockTTL := time.Duration(cnf.Queue.TaskTimeoutSec) * time.Second
		opts = append(opts, docflow.WithQueue(queue), docflow.WithLocker(redlock.NewDocumentLocker(r.Client(), lockTTL)))
	}

	ds, err := database.NewDataSource(ctx, cnf, documentCache)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	opts = append(opts, docflow.WithPublisher(publisher))
	app.docflow = docflow.NewDocflow(cnf, ds, opts...)
	return nil
}

// NewCLI creates the root command and its subcommands.
func NewCLI() *Docflow {
	var configFile string
	d := &docflowInstance{}

	var rootCmd = &cobra.Command{
		Use:   "docflow",
		Short: "Document extraction lifecycle service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./docflow.json", "Configuration file for docflow")
	rootCmd.PersistentPreRunE = preRun(d, &configFile)

	rootCmd.AddCommand(serverCommands(d))
	rootCmd.AddCommand(workerCommands(d))
	rootCmd.AddCommand(migrateCommands(d))

	return &Docflow{cmd: rootCmd}
}

func (w Docflow) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
