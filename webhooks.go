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
	"net/http"

	"github.com/blnkfinance/docflow/internal/request"
	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
)

// NewWebhook is the body posted to the configured notification webhook.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// getEventFromType maps a lifecycle event onto its outbound webhook name.
func getEventFromType(event model.Event) string {
	switch event.Type {
	case model.EventCompleted:
		return "document.completed"
	case model.EventFailed:
		return "document.failed"
	case model.EventStatusUpdate:
		return "document." + string(event.Status)
	default:
		return "document.unknown"
	}
}

// SendWebhook queues event for delivery to the notification webhook, if one is configured.
func (d *Docflow) SendWebhook(ctx context.Context, event model.Event) error {
	if d.cnf.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(NewWebhook{Event: getEventFromType(event), Payload: event})
	if err != nil {
		return err
	}
	return d.queue.Enqueue(ctx, Task{Type: TaskSendWebhook, Payload: payload})
}

// ProcessWebhook posts a queued webhook body to the configured URL.
func (d *Docflow) ProcessWebhook(ctx context.Context, payload []byte) error {
	conf := d.cnf.Notification.Webhook
	if conf.Url == "" {
		return nil
	}

	var hook NewWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		logrus.WithError(err).Error("error unmarshaling webhook payload")
		return err
	}

	body, err := request.ToJsonReq(hook)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Headers {
		req.Header.Set(key, value)
	}

	if _, err := request.Call(d.httpClient, req, nil); err != nil {
		logrus.WithError(err).WithField("event", hook.Event).Error("webhook delivery failed")
		return err
	}
	logrus.WithField("event", hook.Event).Info("webhook notification sent")
	return nil
}
