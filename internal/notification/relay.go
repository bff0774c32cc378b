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
	"encoding/json"
	"time"

	"github.com/blnkfinance/docflow/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRelay publishes events on a Redis channel and feeds events received on that channel
// into a local Broadcaster. It lets a worker process reach observers connected to the API
// process.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	local   *Broadcaster
}

func NewRedisRelay(client redis.UniversalClient, channel string, local *Broadcaster) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local}
}

func (r *RedisRelay) Publish(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run forwards relayed events to the local broadcaster until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	var sub *redis.PubSub
	err := backoff.RetryNotify(func() error {
		sub = r.client.Subscribe(ctx, r.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return err
		}
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), func(err error, next time.Duration) {
		logrus.WithError(err).Warnf("event relay subscription failed, retrying in %s", next)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer sub.Close()

	logrus.WithField("channel", r.channel).Info("event relay subscribed")
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logrus.WithError(err).Warn("dropping malformed relayed event")
				continue
			}
			_ = r.local.Publish(ctx, event)
		}
	}
}
