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
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blnkfinance/docflow/config"
	"github.com/blnkfinance/docflow/database"
	"github.com/blnkfinance/docflow/internal/notification"
	"github.com/blnkfinance/docflow/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) forDocument(id string) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, e := range p.events {
		if e.DocumentID == id {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) count(id string, eventType model.EventType) int {
	n := 0
	for _, e := range p.forDocument(id) {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeExtractor struct {
	externalID string
	submitErr  error
	triggerErr error
	submits    atomic.Int32
	triggers   atomic.Int32
}

func (f *fakeExtractor) Submit(_ context.Context, _ []byte, _ string) (string, error) {
	f.submits.Add(1)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.externalID, nil
}

func (f *fakeExtractor) RequestExtraction(_ context.Context, _ string) error {
	f.triggers.Add(1)
	return f.triggerErr
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, Task) error { return q.err }

func testConfig(mock bool) *config.Configuration {
	return &config.Configuration{
		ProjectName: "Docflow Test",
		BackendURL:  "https://docflow.test",
		Mock:        config.MockConfigSettings{Enabled: mock, ProcessingTimeMs: 20},
		Queue: config.QueueConfig{
			DocumentQueue:  config.DEFAULT_DOCUMENT_QUEUE,
			WebhookQueue:   config.DEFAULT_WEBHOOK_QUEUE,
			WorkerCount:    4,
			Size:           64,
			TaskTimeoutSec: 5,
		},
	}
}

func newTestDocflow(t *testing.T, cnf *config.Configuration, opts ...Option) (*Docflow, *database.MemoryDataSource, *recordingPublisher) {
	t.Helper()
	ds := database.NewMemoryDataSource()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub), WithRand(rand.New(rand.NewSource(7)))}, opts...)
	d := NewDocflow(cnf, ds, opts...)
	t.Cleanup(func() {
		_ = d.Shutdown(context.Background())
	})
	return d, ds, pub
}

// seedProcessing stores a document that the provider already accepted.
func seedProcessing(t *testing.T, ds *database.MemoryDataSource, externalID string) *model.Document {
	t.Helper()
	ctx := context.Background()
	doc := model.NewDocument(gofakeit.Word()+".jpg", []byte(gofakeit.Sentence(4)), time.Now())
	require.NoError(t, ds.CreateDocument(ctx, doc))
	processing, err := ds.MarkDocumentProcessing(ctx, doc.DocumentID, externalID, time.Now())
	require.NoError(t, err)
	return processing
}

func statuses(events []model.Event) []model.DocumentStatus {
	out := make([]model.DocumentStatus, 0, len(events))
	for _, e := range events {
		out = append(out, e.Status)
	}
	return out
}

var errProviderDown = errors.New("provider down")

var _ notification.Publisher = (*recordingPublisher)(nil)
