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

	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CompleteDocument stores result on a processing document and announces it. applied is false
// when the document had already left processing, in which case nothing is written or emitted.
func (d *Docflow) CompleteDocument(ctx context.Context, id string, result *model.ExtractionResult) (bool, error) {
	ctx, span := tracer.Start(ctx, "CompleteDocument", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	result.Normalize()
	doc, err := d.datasource.CompleteDocument(ctx, id, result, d.now())
	if apierror.HasCode(err, apierror.ErrConflict) {
		logrus.WithField("document_id", id).WithError(err).Info("document already finished, ignoring result")
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	logrus.WithFields(logrus.Fields{
		"document_id":   id,
		"document_type": doc.DocumentType,
		"fields":        len(result.Fields),
	}).Info("document completed")
	d.emit(ctx, model.NewCompletedEvent(id, doc.ExtractedData, d.now()))
	return true, nil
}

// FailDocument records message on a document that has not finished yet and announces the
// failure. applied is false when the document was already terminal.
func (d *Docflow) FailDocument(ctx context.Context, id, message string) (bool, error) {
	ctx, span := tracer.Start(ctx, "FailDocument", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	doc, err := d.datasource.FailDocument(ctx, id, message, d.now())
	if apierror.HasCode(err, apierror.ErrConflict) {
		logrus.WithField("document_id", id).WithError(err).Info("document already finished, ignoring failure")
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	logrus.WithFields(logrus.Fields{"document_id": id, "error_message": doc.ErrorMessage}).Warn("document failed")
	d.emit(ctx, model.NewFailedEvent(id, doc.ErrorMessage, d.now()))
	return true, nil
}
