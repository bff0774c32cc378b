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

package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/model"
)

// MemoryDataSource keeps documents in process memory. It is used when no data source DNS is
// configured and in tests. Every returned document is a copy.
type MemoryDataSource struct {
	mu         sync.RWMutex
	documents  map[string]*model.Document
	byExternal map[string]string
	seq        map[string]uint64
	next       uint64
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		documents:  make(map[string]*model.Document),
		byExternal: make(map[string]string),
		seq:        make(map[string]uint64),
	}
}

func copyDocument(doc *model.Document) *model.Document {
	c := *doc
	if doc.Confidence != nil {
		v := *doc.Confidence
		c.Confidence = &v
	}
	return &c
}

func notFound() error {
	return apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil)
}

func conflict(status model.DocumentStatus, action string) error {
	return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document is %s and cannot be %s", status, action), nil)
}

func (m *MemoryDataSource) CreateDocument(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.documents[doc.DocumentID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Document with this ID already exists", nil)
	}
	m.documents[doc.DocumentID] = copyDocument(doc)
	m.next++
	m.seq[doc.DocumentID] = m.next
	return nil
}

func (m *MemoryDataSource) GetDocument(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, notFound()
	}
	return copyDocument(doc), nil
}

func (m *MemoryDataSource) GetDocumentByExternalID(_ context.Context, externalID string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, notFound()
	}
	doc, ok := m.documents[id]
	if !ok {
		return nil, notFound()
	}
	return copyDocument(doc), nil
}

func (m *MemoryDataSource) GetAllDocuments(_ context.Context, limit, offset int) ([]model.DocumentSummary, error) {
	m.mu.RLock()
	docs := make([]*model.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		docs = append(docs, doc)
	}
	seq := make(map[string]uint64, len(m.seq))
	for k, v := range m.seq {
		seq[k] = v
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return seq[docs[i].DocumentID] > seq[docs[j].DocumentID]
	})

	summaries := []model.DocumentSummary{}
	if offset >= len(docs) {
		return summaries, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	for _, doc := range docs[offset:end] {
		summaries = append(summaries, copyDocument(doc).Summary())
	}
	return summaries, nil
}

// transition applies mutate to the document if its status is one of from.
func (m *MemoryDataSource) transition(id string, to model.DocumentStatus, from []model.DocumentStatus, mutate func(*model.Document) error) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, notFound()
	}

	allowed := false
	for _, s := range from {
		if doc.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, conflict(doc.Status, fmt.Sprintf("moved to %s", to))
	}

	updated := copyDocument(doc)
	updated.Status = to
	if err := mutate(updated); err != nil {
		return nil, err
	}
	m.documents[id] = updated
	return copyDocument(updated), nil
}

func (m *MemoryDataSource) MarkDocumentProcessing(_ context.Context, id, externalID string, at time.Time) (*model.Document, error) {
	return m.transition(id, model.StatusProcessing, []model.DocumentStatus{model.StatusUploading}, func(doc *model.Document) error {
		if owner, ok := m.byExternal[externalID]; ok && owner != id {
			return apierror.NewAPIError(apierror.ErrConflict, "External document ID already assigned", nil)
		}
		m.byExternal[externalID] = id
		doc.ExternalDocID = externalID
		doc.UploadedAt = &at
		doc.ProcessingStartedAt = &at
		return nil
	})
}

func (m *MemoryDataSource) CompleteDocument(_ context.Context, id string, result *model.ExtractionResult, at time.Time) (*model.Document, error) {
	return m.transition(id, model.StatusCompleted, []model.DocumentStatus{model.StatusProcessing}, func(doc *model.Document) error {
		confidence := result.DocumentConfidence()
		doc.DocumentType = result.DocumentType
		doc.Confidence = &confidence
		doc.ExtractedData = result
		doc.CompletedAt = &at
		return nil
	})
}

func (m *MemoryDataSource) FailDocument(_ context.Context, id, message string, at time.Time) (*model.Document, error) {
	return m.transition(id, model.StatusFailed, []model.DocumentStatus{model.StatusUploading, model.StatusProcessing}, func(doc *model.Document) error {
		doc.ErrorMessage = message
		doc.CompletedAt = &at
		return nil
	})
}

func (m *MemoryDataSource) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return notFound()
	}
	if !doc.Status.IsTerminal() {
		return conflict(doc.Status, "deleted")
	}

	delete(m.documents, id)
	delete(m.seq, id)
	if doc.ExternalDocID != "" {
		delete(m.byExternal, doc.ExternalDocID)
	}
	return nil
}
