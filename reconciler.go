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

	"github.com/blnkfinance/docflow/idp"
	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ReconcileOutcome describes what an accepted extraction callback did.
type ReconcileOutcome struct {
	DocumentID string
	Status     model.DocumentStatus
	// Applied is false when the callback was a repeat for a document that had already finished.
	Applied bool
}

// HandleExtractionWebhook applies a provider callback to the document it refers to.
// Malformed payloads are BAD_REQUEST and unknown documents NOT_FOUND; in both cases nothing is
// written. Callbacks for a completed or failed document are accepted without changing it.
func (d *Docflow) HandleExtractionWebhook(ctx context.Context, raw []byte) (*ReconcileOutcome, error) {
	ctx, span := tracer.Start(ctx, "HandleExtractionWebhook")
	defer span.End()

	payload, err := idp.ParseExtractionWebhook(raw)
	if err != nil {
		logrus.WithError(err).Warn("rejecting extraction webhook")
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil)
	}

	externalID := payload.ExternalDocID()
	span.SetAttributes(attribute.String("document.external_id", externalID))
	logger := logrus.WithFields(logrus.Fields{"external_doc_id": externalID, "extraction_status": payload.ExtractionStatus})

	doc, err := d.datasource.GetDocumentByExternalID(ctx, externalID)
	if err != nil {
		if !apierror.HasCode(err, apierror.ErrNotFound) {
			span.RecordError(err)
		}
		logger.WithError(err).Warn("no document for extraction webhook")
		return nil, err
	}
	logger = logger.WithField("document_id", doc.DocumentID)

	if doc.Status.IsTerminal() {
		logger.WithField("status", doc.Status).Info("document already finished, webhook ignored")
		return &ReconcileOutcome{DocumentID: doc.DocumentID, Status: doc.Status}, nil
	}

	var applied bool
	status := model.StatusCompleted
	if payload.Succeeded() {
		applied, err = d.CompleteDocument(ctx, doc.DocumentID, payload.ToExtractionResult())
	} else {
		status = model.StatusFailed
		applied, err = d.FailDocument(ctx, doc.DocumentID, payload.FailureMessage())
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !applied {
		current, err := d.datasource.GetDocument(ctx, doc.DocumentID)
		if err == nil {
			status = current.Status
		}
	}
	logger.WithField("applied", applied).Info("extraction webhook processed")
	return &ReconcileOutcome{DocumentID: doc.DocumentID, Status: status, Applied: applied}, nil
}
