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

package docflow

import (
	"context"
	"embed"
	"math/rand"
	"net/http"
	"time"

	"github.com/blnkfinance/docflow/config"
	"github.com/blnkfinance/docflow/database"
	"github.com/blnkfinance/docflow/idp"
	"github.com/blnkfinance/docflow/internal/notification"
	"github.com/blnkfinance/docflow/internal/worker"
	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("docflow")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Docflow drives documents through extraction: it owns the record store, the extraction
// provider, the task queue and the event publisher. One instance is built at startup and
// shared by every handler and worker.
type Docflow struct {
	cnf        *config.Configuration
	datasource database.IDataSource
	extractor  idp.Extractor
	publisher  notification.Publisher
	queue      TaskQueue
	notifier   *notification.ErrorNotifier
	simulator  *Simulator
	locker     DocumentLocker
	httpClient *http.Client
	now        func() time.Time
}

// DocumentLocker serializes processing of a single document across workers.
type DocumentLocker interface {
	Acquire(ctx context.Context, documentID string) (func(context.Context) error, error)
}

type Option func(*Docflow)

// WithLocker guards ProcessDocument with a per-document lock.
func WithLocker(l DocumentLocker) Option {
	return func(d *Docflow) {
		d.locker = l
	}
}

func WithExtractor(e idp.Extractor) Option {
	return func(d *Docflow) {
		d.extractor = e
	}
}

func WithPublisher(p notification.Publisher) Option {
	return func(d *Docflow) {
		d.publisher = p
	}
}

// WithQueue replaces the in-process queue, e.g. with an AsynqQueue.
func WithQueue(q TaskQueue) Option {
	return func(d *Docflow) {
		d.queue = q
	}
}

func WithNotifier(n *notification.ErrorNotifier) Option {
	return func(d *Docflow) {
		d.notifier = n
	}
}

// WithRand seeds the simulator's choice of canned result.
func WithRand(r *rand.Rand) Option {
	return func(d *Docflow) {
		d.simulator = NewSimulator(r)
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Docflow) {
		d.now = now
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Docflow) {
		d.httpClient = c
	}
}

// NewDocflow wires a Docflow from configuration. Unset collaborators get defaults: the mock
// provider in mock mode, a local broadcaster, and an in-process worker pool as the queue.
func NewDocflow(cnf *config.Configuration, datasource database.IDataSource, opts ...Option) *Docflow {
	d := &Docflow{
		cnf:        cnf,
		datasource: datasource,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.notifier == nil {
		d.notifier = notification.NewErrorNotifier(cnf.ProjectName, cnf.Notification.Slack.WebhookUrl)
	}
	if d.extractor == nil {
		if cnf.MockMode() {
			d.extractor = idp.NewMockClient()
		} else {
			d.extractor = idp.NewClient(cnf)
		}
	}
	if d.publisher == nil {
		d.publisher = notification.NewBroadcaster(notification.DefaultObserverBuffer)
	}
	if d.simulator == nil {
		d.simulator = NewSimulator(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	if d.queue == nil {
		pool := worker.NewPool(
			worker.WithWorkers(cnf.Queue.WorkerCount),
			worker.WithQueueSize(cnf.Queue.Size),
			worker.WithJobTimeout(time.Duration(cnf.Queue.TaskTimeoutSec)*time.Second),
			worker.WithErrorHandler(func(job worker.Job, err error) {
				d.notifier.NotifyError(err)
			}),
		)
		d.queue = NewLocalQueue(pool, d.HandleTask)
	}
	return d
}

// Config returns the configuration the instance was built with.
func (d *Docflow) Config() *config.Configuration {
	return d.cnf
}

// Wait blocks until in-process background work has drained. It returns at once when tasks
// run on an external queue.
func (d *Docflow) Wait() {
	if q, ok := d.queue.(*LocalQueue); ok {
		q.Wait()
	}
}

// Shutdown stops the in-process queue, dropping delayed tasks that have not fired yet.
func (d *Docflow) Shutdown(ctx context.Context) error {
	switch q := d.queue.(type) {
	case *LocalQueue:
		return q.Shutdown(ctx)
	case *AsynqQueue:
		return q.Close()
	}
	return nil
}

// emit publishes event to observers and forwards it to the outbound webhook.
func (d *Docflow) emit(ctx context.Context, event model.Event) {
	logger := logrus.WithFields(logrus.Fields{"document_id": event.DocumentID, "event": event.Type, "status": event.Status})
	if err := d.publisher.Publish(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to publish event")
	}
	if err := d.SendWebhook(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to queue outbound webhook")
	}
	logger.Debug("event emitted")
}
