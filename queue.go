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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/docflow/config"
	redis_db "github.com/blnkfinance/docflow/internal/redis-db"
	"github.com/blnkfinance/docflow/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Task types handled by the workers.
const (
	TaskProcessDocument    = "document:process"
	TaskSimulateExtraction = "document:simulate"
	TaskSendWebhook        = "webhook:send"
)

// Task is a unit of background work. ID, when set, deduplicates tasks of the same type.
type Task struct {
	Type    string
	ID      string
	Payload []byte
	Delay   time.Duration
}

// TaskHandler runs a dequeued task.
type TaskHandler func(ctx context.Context, task Task) error

// TaskQueue hands tasks to whichever workers consume them.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

type documentTaskPayload struct {
	DocumentID string `json:"documentId"`
}

func newDocumentTask(taskType, documentID string, delay time.Duration) (Task, error) {
	payload, err := json.Marshal(documentTaskPayload{DocumentID: documentID})
	if err != nil {
		return Task{}, err
	}
	return Task{Type: taskType, ID: documentID, Payload: payload, Delay: delay}, nil
}

func decodeDocumentTask(task Task) (string, error) {
	var payload documentTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", task.Type, err)
	}
	if payload.DocumentID == "" {
		return "", fmt.Errorf("%s payload has no document id", task.Type)
	}
	return payload.DocumentID, nil
}

// AsynqQueue enqueues tasks on Redis so they can be consumed by `docflow workers`.
type AsynqQueue struct {
	Client        *asynq.Client
	documentQueue string
	webhookQueue  string
}

func NewAsynqQueue(conf *config.Configuration) (*AsynqQueue, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &AsynqQueue{
		Client:        asynq.NewClient(opt),
		documentQueue: conf.Queue.DocumentQueue,
		webhookQueue:  conf.Queue.WebhookQueue,
	}, nil
}

// QueueName returns the asynq queue a task type is routed to.
func (q *AsynqQueue) QueueName(taskType string) string {
	if taskType == TaskSendWebhook {
		return q.webhookQueue
	}
	return q.documentQueue
}

// Enqueue submits task to Redis. Provider calls are not retried, so document tasks carry
// MaxRetry(0). A task whose ID is already queued is treated as enqueued.
func (q *AsynqQueue) Enqueue(ctx context.Context, task Task) error {
	ctx, span := tracer.Start(ctx, "Adding Task To Redis Queue")
	defer span.End()

	taskOptions := []asynq.Option{asynq.Queue(q.QueueName(task.Type))}
	if task.Type == TaskSendWebhook {
		taskOptions = append(taskOptions, asynq.MaxRetry(5))
	} else {
		taskOptions = append(taskOptions, asynq.MaxRetry(0))
	}
	if task.ID != "" {
		taskOptions = append(taskOptions, asynq.TaskID(task.Type+":"+task.ID))
	}
	if task.Delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(task.Delay))
	}

	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(task.Type, task.Payload), taskOptions...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logrus.WithFields(logrus.Fields{"task_type": task.Type, "task_id": task.ID}).Info("task already queued")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	logrus.WithFields(logrus.Fields{"task_type": task.Type, "task_id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.Client.Close()
}

// LocalQueue runs tasks on an in-process worker pool. Used when no Redis is configured.
type LocalQueue struct {
	pool    *worker.Pool
	handler TaskHandler
}

func NewLocalQueue(pool *worker.Pool, handler TaskHandler) *LocalQueue {
	return &LocalQueue{pool: pool, handler: handler}
}

func (q *LocalQueue) Enqueue(_ context.Context, task Task) error {
	job := worker.Job{
		Name: task.Type + ":" + task.ID,
		Run: func(ctx context.Context) error {
			return q.handler(ctx, task)
		},
	}
	return q.pool.SubmitAfter(task.Delay, job)
}

// Wait blocks until every queued and delayed task has run.
func (q *LocalQueue) Wait() {
	q.pool.Wait()
}

func (q *LocalQueue) Shutdown(ctx context.Context) error {
	return q.pool.Shutdown(ctx)
}

// HandleTask dispatches a dequeued task to the operation it stands for.
func (d *Docflow) HandleTask(ctx context.Context, task Task) error {
	logger := logrus.WithField("task_type", task.Type)

	switch task.Type {
	case TaskProcessDocument:
		id, err := decodeDocumentTask(task)
		if err != nil {
			return err
		}
		return d.ProcessDocument(ctx, id)
	case TaskSimulateExtraction:
		id, err := decodeDocumentTask(task)
		if err != nil {
			return err
		}
		return d.SimulateExtraction(ctx, id)
	case TaskSendWebhook:
		return d.ProcessWebhook(ctx, task.Payload)
	default:
		logger.Warn("unknown task type")
		return fmt.Errorf("unknown task type %q", task.Type)
	}
}

// ProcessTask adapts HandleTask to an asynq handler.
func (d *Docflow) ProcessTask(ctx context.Context, t *asynq.Task) error {
	err := d.HandleTask(ctx, Task{Type: t.Type(), Payload: t.Payload()})
	if err != nil {
		d.notifier.NotifyError(fmt.Errorf("task %s: %w", t.Type(), err))
	}
	return err
}
