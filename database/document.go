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
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/internal/cache"
	"github.com/blnkfinance/docflow/model"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const documentColumns = `document_id, status, file_name, image_data, external_doc_id, document_type,
	confidence, extracted_data, error_message, created_at, uploaded_at, processing_started_at, completed_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// terminalCacheTTL is how long finished documents stay cached.
const terminalCacheTTL = time.Hour

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		doc                               model.Document
		externalID, docType, errorMessage sql.NullString
		confidence                        sql.NullInt64
		extracted                         []byte
		uploadedAt, startedAt, doneAt     sql.NullTime
	)

	err := row.Scan(&doc.DocumentID, &doc.Status, &doc.FileName, &doc.ImageData, &externalID, &docType,
		&confidence, &extracted, &errorMessage, &doc.CreatedAt, &uploadedAt, &startedAt, &doneAt)
	if err != nil {
		return nil, err
	}

	doc.ExternalDocID = externalID.String
	doc.DocumentType = docType.String
	doc.ErrorMessage = errorMessage.String
	if confidence.Valid {
		c := int(confidence.Int64)
		doc.Confidence = &c
	}
	if len(extracted) > 0 {
		var result model.ExtractionResult
		if err := json.Unmarshal(extracted, &result); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
		doc.ExtractedData = &result
	}
	doc.UploadedAt = nullTime(uploadedAt)
	doc.ProcessingStartedAt = nullTime(startedAt)
	doc.CompletedAt = nullTime(doneAt)

	return &doc, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func cacheKey(id string) string {
	return "document:" + id
}

func (d *Datasource) CreateDocument(ctx context.Context, doc *model.Document) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO docflow.documents (document_id, status, file_name, image_data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, doc.DocumentID, doc.Status, doc.FileName, doc.ImageData, doc.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Document with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create document", err)
	}
	return nil
}

func (d *Datasource) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if d.Cache != nil {
		var cached model.Document
		err := d.Cache.Get(ctx, cacheKey(id), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			logrus.WithError(err).WithField("document_id", id).Warn("document cache read failed")
		}
	}

	row := d.Conn.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM docflow.documents WHERE document_id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document", err)
	}

	d.cacheIfTerminal(ctx, doc)
	return doc, nil
}

func (d *Datasource) GetDocumentByExternalID(ctx context.Context, externalID string) (*model.Document, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM docflow.documents WHERE external_doc_id = $1`, externalID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document", err)
	}
	return doc, nil
}

func (d *Datasource) GetAllDocuments(ctx context.Context, limit, offset int) ([]model.DocumentSummary, error) {
	query, args, err := psql.
		Select("document_id", "status", "file_name", "document_type", "confidence", "error_message", "created_at", "completed_at").
		From("docflow.documents").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build documents query", err)
	}

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve documents", err)
	}
	defer rows.Close()

	summaries := []model.DocumentSummary{}
	for rows.Next() {
		var (
			s                     model.DocumentSummary
			docType, errorMessage sql.NullString
			confidence            sql.NullInt64
			completedAt           sql.NullTime
		)
		if err := rows.Scan(&s.DocumentID, &s.Status, &s.FileName, &docType, &confidence, &errorMessage, &s.CreatedAt, &completedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan document data", err)
		}
		s.DocumentType = docType.String
		s.ErrorMessage = errorMessage.String
		if confidence.Valid {
			c := int(confidence.Int64)
			s.Confidence = &c
		}
		s.CompletedAt = nullTime(completedAt)
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over documents", err)
	}
	return summaries, nil
}

func (d *Datasource) MarkDocumentProcessing(ctx context.Context, id, externalID string, at time.Time) (*model.Document, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE docflow.documents
		SET status = 'processing', external_doc_id = $2, uploaded_at = $3, processing_started_at = $3
		WHERE document_id = $1 AND status = 'uploading'
		RETURNING `+documentColumns, id, externalID, at)
	return d.transitioned(ctx, id, model.StatusProcessing, row)
}

func (d *Datasource) CompleteDocument(ctx context.Context, id string, result *model.ExtractionResult, at time.Time) (*model.Document, error) {
	extracted, err := json.Marshal(result)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode extracted data", err)
	}

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE docflow.documents
		SET status = 'completed', document_type = $2, confidence = $3, extracted_data = $4, completed_at = $5
		WHERE document_id = $1 AND status = 'processing'
		RETURNING `+documentColumns, id, result.DocumentType, result.DocumentConfidence(), extracted, at)
	return d.transitioned(ctx, id, model.StatusCompleted, row)
}

func (d *Datasource) FailDocument(ctx context.Context, id, message string, at time.Time) (*model.Document, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE docflow.documents
		SET status = 'failed', error_message = $2, completed_at = $3
		WHERE document_id = $1 AND status IN ('uploading', 'processing')
		RETURNING `+documentColumns, id, message, at)
	return d.transitioned(ctx, id, model.StatusFailed, row)
}

func (d *Datasource) DeleteDocument(ctx context.Context, id string) error {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM docflow.documents
		WHERE document_id = $1 AND status IN ('completed', 'failed')
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete document", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete document", err)
	}
	if affected == 0 {
		return d.explainMiss(ctx, id, "deleted")
	}

	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, cacheKey(id)); err != nil {
			logrus.WithError(err).WithField("document_id", id).Warn("document cache delete failed")
		}
	}
	return nil
}

// transitioned reads the row returned by a conditional UPDATE. No row means the condition did
// not hold, which is reported as NOT_FOUND or CONFLICT depending on whether the document exists.
func (d *Datasource) transitioned(ctx context.Context, id string, to model.DocumentStatus, row *sql.Row) (*model.Document, error) {
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, d.explainMiss(ctx, id, fmt.Sprintf("moved to %s", to))
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "External document ID already assigned", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update document", err)
	}

	d.cacheIfTerminal(ctx, doc)
	return doc, nil
}

func (d *Datasource) explainMiss(ctx context.Context, id, action string) error {
	var status model.DocumentStatus
	err := d.Conn.QueryRowContext(ctx, `SELECT status FROM docflow.documents WHERE document_id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document", err)
	}
	return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document is %s and cannot be %s", status, action), nil)
}

func (d *Datasource) cacheIfTerminal(ctx context.Context, doc *model.Document) {
	if d.Cache == nil || !doc.Status.IsTerminal() {
		return
	}
	cached := *doc
	cached.ImageData = nil
	if err := d.Cache.Set(ctx, cacheKey(doc.DocumentID), &cached, terminalCacheTTL); err != nil {
		logrus.WithError(err).WithField("document_id", doc.DocumentID).Warn("document cache write failed")
	}
}
