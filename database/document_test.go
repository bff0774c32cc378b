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
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/internal/cache"
	"github.com/blnkfinance/docflow/model"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var documentRowColumns = []string{
	"document_id", "status", "file_name", "image_data", "external_doc_id", "document_type",
	"confidence", "extracted_data", "error_message", "created_at", "uploaded_at", "processing_started_at", "completed_at",
}

func newMockDatasource(t *testing.T) (*Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Datasource{Conn: db}, mock
}

func assertAPIErrorCode(t *testing.T, err error, code apierror.ErrorCode) {
	t.Helper()
	var apiErr apierror.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

func TestCreateDocument_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	doc := model.NewDocument("invoice.jpg", []byte("img"), time.Now())

	mock.ExpectExec("INSERT INTO docflow.documents").
		WithArgs(doc.DocumentID, model.StatusUploading, "invoice.jpg", []byte("img"), doc.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.CreateDocument(context.Background(), doc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDocument_UniqueViolation(t *testing.T) {
	ds, mock := newMockDatasource(t)
	doc := model.NewDocument("invoice.jpg", []byte("img"), time.Now())

	mock.ExpectExec("INSERT INTO docflow.documents").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	err := ds.CreateDocument(context.Background(), doc)
	assertAPIErrorCode(t, err, apierror.ErrConflict)
}

func TestGetDocument_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	created := time.Now().Add(-time.Minute)
	done := time.Now()
	result := model.ExtractionResult{DocumentType: "Receipt", OverallConfidence: 85.5, Fields: []model.ExtractedField{{Name: "Total", Value: "$47.82", Confidence: 96}}}
	extracted, _ := json.Marshal(result)

	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc_1", "completed", "receipt.jpg", nil, "ext-1", "Receipt", 86, extracted, nil, created, created, created, done)
	mock.ExpectQuery("SELECT (.+) FROM docflow.documents WHERE document_id = \\$1").
		WithArgs("doc_1").
		WillReturnRows(rows)

	doc, err := ds.GetDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.Status)
	assert.Equal(t, "ext-1", doc.ExternalDocID)
	require.NotNil(t, doc.Confidence)
	assert.Equal(t, 86, *doc.Confidence)
	require.NotNil(t, doc.ExtractedData)
	assert.Equal(t, "Receipt", doc.ExtractedData.DocumentType)
	assert.Equal(t, "$47.82", doc.ExtractedData.Fields[0].Value)
	assert.Empty(t, doc.ErrorMessage)
	require.NotNil(t, doc.CompletedAt)
}

func TestGetDocument_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)
	mock.ExpectQuery("SELECT (.+) FROM docflow.documents WHERE document_id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := ds.GetDocument(context.Background(), "missing")
	assertAPIErrorCode(t, err, apierror.ErrNotFound)
}

func TestGetDocumentByExternalID(t *testing.T) {
	ds, mock := newMockDatasource(t)
	created := time.Now()
	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc_2", "processing", "a.jpg", []byte("img"), "ext-2", nil, nil, nil, nil, created, created, created, nil)
	mock.ExpectQuery("SELECT (.+) FROM docflow.documents WHERE external_doc_id = \\$1").
		WithArgs("ext-2").
		WillReturnRows(rows)

	doc, err := ds.GetDocumentByExternalID(context.Background(), "ext-2")
	require.NoError(t, err)
	assert.Equal(t, "doc_2", doc.DocumentID)
	assert.Equal(t, model.StatusProcessing, doc.Status)
	assert.Nil(t, doc.Confidence)
	assert.Nil(t, doc.CompletedAt)
	assert.Equal(t, []byte("img"), doc.ImageData)
}

func TestGetAllDocuments(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"document_id", "status", "file_name", "document_type", "confidence", "error_message", "created_at", "completed_at"}).
		AddRow("doc_2", "failed", "b.jpg", nil, nil, "Extraction status: Failed", now, now).
		AddRow("doc_1", "completed", "a.jpg", "Invoice", 93, nil, now.Add(-time.Minute), now)

	mock.ExpectQuery("SELECT (.+) FROM docflow.documents ORDER BY created_at DESC LIMIT 50 OFFSET 0").
		WillReturnRows(rows)

	docs, err := ds.GetAllDocuments(context.Background(), 50, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Extraction status: Failed", docs[0].ErrorMessage)
	assert.Nil(t, docs[0].Confidence)
	assert.Equal(t, 93, *docs[1].Confidence)
}

func TestMarkDocumentProcessing_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	at := time.Now()
	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc_1", "processing", "a.jpg", []byte("img"), "ext-1", nil, nil, nil, nil, at, at, at, nil)

	mock.ExpectQuery("UPDATE docflow.documents SET status = 'processing'").
		WithArgs("doc_1", "ext-1", at).
		WillReturnRows(rows)

	doc, err := ds.MarkDocumentProcessing(context.Background(), "doc_1", "ext-1", at)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, doc.Status)
	assert.Equal(t, "ext-1", doc.ExternalDocID)
	require.NotNil(t, doc.UploadedAt)
	require.NotNil(t, doc.ProcessingStartedAt)
}

func TestMarkDocumentProcessing_Conflict(t *testing.T) {
	ds, mock := newMockDatasource(t)
	at := time.Now()

	mock.ExpectQuery("UPDATE docflow.documents SET status = 'processing'").
		WithArgs("doc_1", "ext-1", at).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM docflow.documents WHERE document_id = \\$1").
		WithArgs("doc_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

	_, err := ds.MarkDocumentProcessing(context.Background(), "doc_1", "ext-1", at)
	assertAPIErrorCode(t, err, apierror.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDocument_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)
	at := time.Now()
	result := &model.ExtractionResult{DocumentType: "Invoice", OverallConfidence: 92.5, Fields: []model.ExtractedField{}}

	mock.ExpectQuery("UPDATE docflow.documents SET status = 'completed'").
		WithArgs("doc_x", "Invoice", 93, sqlmock.AnyArg(), at).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM docflow.documents WHERE document_id = \\$1").
		WithArgs("doc_x").
		WillReturnError(sql.ErrNoRows)

	_, err := ds.CompleteDocument(context.Background(), "doc_x", result, at)
	assertAPIErrorCode(t, err, apierror.ErrNotFound)
}

func TestCompleteDocument_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	at := time.Now()
	result := &model.ExtractionResult{DocumentType: "Invoice", OverallConfidence: 92.5, Fields: []model.ExtractedField{}}
	extracted, _ := json.Marshal(result)

	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc_1", "completed", "a.jpg", nil, "ext-1", "Invoice", 93, extracted, nil, at, at, at, at)
	mock.ExpectQuery("UPDATE docflow.documents SET status = 'completed'").
		WithArgs("doc_1", "Invoice", 93, extracted, at).
		WillReturnRows(rows)

	doc, err := ds.CompleteDocument(context.Background(), "doc_1", result, at)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.Status)
	assert.Equal(t, 93, *doc.Confidence)
	assert.NotNil(t, doc.ExtractedData.Fields)
}

func TestFailDocument_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	at := time.Now()
	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc_1", "failed", "a.jpg", nil, nil, nil, nil, nil, "document upload failed", at, nil, nil, at)

	mock.ExpectQuery("UPDATE docflow.documents SET status = 'failed'").
		WithArgs("doc_1", "document upload failed", at).
		WillReturnRows(rows)

	doc, err := ds.FailDocument(context.Background(), "doc_1", "document upload failed", at)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	assert.Equal(t, "document upload failed", doc.ErrorMessage)
	assert.Nil(t, doc.Confidence)
	assert.Nil(t, doc.ExtractedData)
}

func TestDeleteDocument(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		status   string
		missing  bool
		code     apierror.ErrorCode
	}{
		{name: "terminal document", affected: 1},
		{name: "still processing", affected: 0, status: "processing", code: apierror.ErrConflict},
		{name: "unknown document", affected: 0, missing: true, code: apierror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, mock := newMockDatasource(t)
			mock.ExpectExec("DELETE FROM docflow.documents").
				WithArgs("doc_1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				q := mock.ExpectQuery("SELECT status FROM docflow.documents WHERE document_id = \\$1").WithArgs("doc_1")
				if tt.missing {
					q.WillReturnError(sql.ErrNoRows)
				} else {
					q.WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(tt.status))
				}
			}

			err := ds.DeleteDocument(context.Background(), "doc_1")
			if tt.code == "" {
				assert.NoError(t, err)
			} else {
				assertAPIErrorCode(t, err, tt.code)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetDocument_ServesTerminalFromCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ds, mock := newMockDatasource(t)
	ds.Cache = cache.NewCache(client)

	at := time.Now().UTC()
	rows := sqlmock.NewRows(documentRowColumns).
		AddRow("doc_1", "failed", "a.jpg", []byte("img"), nil, nil, nil, nil, "Extraction status: Failed", at, nil, nil, at)
	mock.ExpectQuery("SELECT (.+) FROM docflow.documents WHERE document_id = \\$1").
		WithArgs("doc_1").
		WillReturnRows(rows)

	first, err := ds.GetDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("document:doc_1"))

	// no second query is expected
	second, err := ds.GetDocument(context.Background(), "doc_1")
	require.NoError(t, err)
	assert.Equal(t, first.ErrorMessage, second.ErrorMessage)
	assert.Equal(t, model.StatusFailed, second.Status)
	assert.Nil(t, second.ImageData)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("DELETE FROM docflow.documents").WithArgs("doc_1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, ds.DeleteDocument(context.Background(), "doc_1"))
	assert.False(t, mr.Exists("document:doc_1"))
}
