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
	"sync"
	"sync/atomic"

	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
)

// DefaultObserverBuffer is the number of events an observer may fall behind before events
// are dropped for it.
const DefaultObserverBuffer = 64

// Publisher delivers lifecycle events to whoever is watching.
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// Observer is one live subscriber. Events arrive in publish order.
type Observer struct {
	ch      chan model.Event
	dropped atomic.Int64
}

// Events is closed once the observer is unsubscribed.
func (o *Observer) Events() <-chan model.Event {
	return o.ch
}

// Dropped counts events discarded because the observer's buffer was full.
func (o *Observer) Dropped() int64 {
	return o.dropped.Load()
}

// Broadcaster fans events out to every subscribed observer. Publishing never blocks on a slow
// observer, and events published before an observer subscribed are not replayed.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}
	buffer    int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultObserverBuffer
	}
	return &Broadcaster{
		observers: make(map[*Observer]struct{}),
		buffer:    buffer,
	}
}

func (b *Broadcaster) Subscribe() *Observer {
	o := &Observer{ch: make(chan model.Event, b.buffer)}
	b.mu.Lock()
	b.observers[o] = struct{}{}
	b.mu.Unlock()
	return o
}

func (b *Broadcaster) Unsubscribe(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[o]; !ok {
		return
	}
	delete(b.observers, o)
	close(o.ch)
}

// Publish hands event to every observer that has room for it.
func (b *Broadcaster) Publish(_ context.Context, event model.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for o := range b.observers {
		select {
		case o.ch <- event:
		default:
			o.dropped.Add(1)
			logrus.WithFields(logrus.Fields{"document_id": event.DocumentID, "event": event.Type}).Warn("observer buffer full, dropping event")
		}
	}
	return nil
}

// ObserverCount is the number of live observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
