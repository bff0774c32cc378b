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

package api

import (
	"io"
	"net/http"
	"time"

	"github.com/blnkfinance/docflow/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const keepAliveInterval = 25 * time.Second

// StreamEvents pushes lifecycle events to the caller as Server-Sent Events until it
// disconnects. Events published before the connection was opened are not replayed.
func (a Api) StreamEvents(c *gin.Context) {
	observer := a.broadcaster.Subscribe()
	defer a.broadcaster.Unsubscribe(observer)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	logger := logrus.WithField("remote_addr", c.ClientIP())
	logger.Info("event stream opened")
	defer func() {
		logger.WithField("dropped", observer.Dropped()).Info("event stream closed")
	}()

	c.SSEvent(string(model.EventConnected), model.NewConnectedEvent(time.Now()))
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-observer.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().UTC()})
			return true
		}
	})
}
