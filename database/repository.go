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
	"time"

	"github.com/blnkfinance/docflow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	document
}

// document holds the record store operations. Status changes are conditional on the current
// status so that concurrent writers cannot both move a document: the loser receives a
// CONFLICT APIError and the record is left untouched.
type document interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocumentByExternalID(ctx context.Context, externalID string) (*model.Document, error)
	GetAllDocuments(ctx context.Context, limit, offset int) ([]model.DocumentSummary, error)
	// MarkDocumentProcessing moves an uploading document to processing.
	MarkDocumentProcessing(ctx context.Context, id, externalID string, at time.Time) (*model.Document, error)
	// CompleteDocument moves a processing document to completed.
	CompleteDocument(ctx context.Context, id string, result *model.ExtractionResult, at time.Time) (*model.Document, error)
	// FailDocument moves an uploading or processing document to failed.
	FailDocument(ctx context.Context, id, message string, at time.Time) (*model.Document, error)
	// DeleteDocument removes a document that reached a terminal status.
	DeleteDocument(ctx context.Context, id string) error
}
