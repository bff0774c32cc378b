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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/docflow/internal/request"
	"github.com/sirupsen/logrus"
)

// ErrorNotifier reports background failures that no HTTP caller will ever see.
type ErrorNotifier struct {
	projectName     string
	slackWebhookURL string
	httpClient      *http.Client
}

func NewErrorNotifier(projectName, slackWebhookURL string) *ErrorNotifier {
	return &ErrorNotifier{
		projectName:     projectName,
		slackWebhookURL: slackWebhookURL,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

func slackMessage(projectName string, err error, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"blocks": []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("Error From %s 🐞", projectName), Emoji: true}},
			{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
			{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + at.Format(time.RFC822)}}},
		},
	}
}

// SlackNotification posts err to the Slack webhook.
func (n *ErrorNotifier) SlackNotification(ctx context.Context, err error) error {
	payload, jsonErr := request.ToJsonReq(slackMessage(n.projectName, err, time.Now()))
	if jsonErr != nil {
		return jsonErr
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, n.slackWebhookURL, payload)
	if reqErr != nil {
		return reqErr
	}

	_, callErr := request.Call(n.httpClient, req, nil)
	return callErr
}

// NotifyError logs err and, when Slack is configured, forwards it there without blocking the caller.
func (n *ErrorNotifier) NotifyError(err error) {
	logrus.Error(err)
	if n == nil || n.slackWebhookURL == "" {
		return
	}

	go func(systemError error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.SlackNotification(ctx, systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(err)
}
