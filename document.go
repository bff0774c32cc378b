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

	"github.com/blnkfinance/docflow/internal/apierror"
	redlock "github.com/blnkfinance/docflow/internal/lock"
	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// SubmitDocument records a new upload and queues it for processing. It returns as soon as the
// record exists; the provider is contacted in the background.
func (d *Docflow) SubmitDocument(ctx context.Context, data []byte, fileName string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "SubmitDocument")
	defer span.End()

	if len(data) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "No image data provided", nil)
	}

	doc := model.NewDocument(fileName, data, d.now())
	span.SetAttributes(attribute.String("document.id", doc.DocumentID))

	if err := d.datasource.CreateDocument(ctx, doc); err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger := logrus.WithFields(logrus.Fields{"document_id": doc.DocumentID, "file_name": doc.FileName, "bytes": len(data)})
	logger.Info("document received")

	d.emit(ctx, model.NewStatusUpdateEvent(doc.DocumentID, model.StatusUploading, d.now()))

	task, err := newDocumentTask(TaskProcessDocument, doc.DocumentID, 0)
	if err == nil {
		err = d.queue.Enqueue(ctx, task)
	}
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Error("failed to queue document for processing")
		if _, failErr := d.FailDocument(ctx, doc.DocumentID, "Could not queue document for processing: "+err.Error()); failErr != nil {
			logger.WithError(failErr).Error("failed to mark unqueued document as failed")
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to queue document for processing", err)
	}

	return doc, nil
}

// ProcessDocument uploads a document to the provider and asks for extraction. A failed upload
// fails the document. A failed extraction request is only logged and the document stays in
// processing until a callback arrives.
func (d *Docflow) ProcessDocument(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "ProcessDocument", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	logger := logrus.WithField("document_id", id)

	if d.locker != nil {
		release, err := d.locker.Acquire(ctx, id)
		if err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				logger.Info("document is being processed by another worker, skipping")
				return nil
			}
			span.RecordError(err)
			return err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				logger.WithError(err).Warn("failed to release document lock")
			}
		}()
	}

	doc, err := d.datasource.GetDocument(ctx, id)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logger.Warn("document removed before processing, skipping")
			return nil
		}
		span.RecordError(err)
		return err
	}
	if doc.Status != model.StatusUploading {
		logger.WithField("status", doc.Status).Info("document already picked up, skipping")
		return nil
	}

	externalID, err := d.extractor.Submit(ctx, doc.ImageData, doc.FileName)
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Error("provider upload failed")
		if _, failErr := d.FailDocument(ctx, id, err.Error()); failErr != nil {
			return failErr
		}
		return nil
	}
	logger = logger.WithField("external_doc_id", externalID)

	processing, err := d.datasource.MarkDocumentProcessing(ctx, id, externalID, d.now())
	if err != nil {
		span.RecordError(err)
		if apierror.HasCode(err, apierror.ErrConflict) || apierror.HasCode(err, apierror.ErrNotFound) {
			logger.WithError(err).Warn("document changed while uploading, dropping result")
			return nil
		}
		logger.WithError(err).Error("failed to record provider upload")
		if _, failErr := d.FailDocument(ctx, id, "Could not record provider upload: "+err.Error()); failErr != nil {
			return failErr
		}
		return err
	}
	logger.Info("document uploaded to provider")
	d.emit(ctx, model.NewStatusUpdateEvent(processing.DocumentID, model.StatusProcessing, d.now()))

	if err := d.extractor.RequestExtraction(ctx, externalID); err != nil {
		logger.WithError(err).Error("extraction request failed, document stays in processing")
	}

	if d.cnf.MockMode() {
		if err := d.ScheduleSimulation(ctx, id); err != nil {
			logger.WithError(err).Error("failed to schedule simulated extraction")
			return err
		}
	}
	return nil
}

// GetDocument returns the full record, including extracted data.
func (d *Docflow) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "GetDocument")
	defer span.End()
	return d.datasource.GetDocument(ctx, id)
}

// GetAllDocuments lists document summaries, newest first.
func (d *Docflow) GetAllDocuments(ctx context.Context, limit, offset int) ([]model.DocumentSummary, error) {
	ctx, span := tracer.Start(ctx, "GetAllDocuments")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return d.datasource.GetAllDocuments(ctx, limit, offset)
}

// DeleteDocument removes a document. Documents still uploading or processing are refused
// with a CONFLICT error so background work never loses its record.
func (d *Docflow) DeleteDocument(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "DeleteDocument")
	defer span.End()

	if err := d.datasource.DeleteDocument(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	logrus.WithField("document_id", id).Info("document deleted")
	return nil
}
