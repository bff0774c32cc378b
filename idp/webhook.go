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

package idp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blnkfinance/docflow/model"
)

// ExtractionWebhook is the callback body the provider posts once extraction ends.
type ExtractionWebhook struct {
	ExtractionStatus      string                 `json:"extractionStatus"`
	Documents             []WebhookDocument      `json:"documents"`
	ContentFileReferences []ContentFileReference `json:"contentFileReferences"`
}

type ContentFileReference struct {
	SysID string `json:"sys_id"`
}

type WebhookDocument struct {
	ClassName                string         `json:"className"`
	ClassificationConfidence float64        `json:"classificationConfidence"`
	Fields                   []WebhookField `json:"fields"`
	Tables                   []WebhookTable `json:"tables"`
}

type WebhookField struct {
	Name                 string      `json:"name"`
	Value                interface{} `json:"value"`
	ExtractionConfidence float64     `json:"extractionConfidence"`
}

type WebhookTable struct {
	Name    string          `json:"name"`
	Records []WebhookRecord `json:"records"`
}

type WebhookRecord struct {
	Records []WebhookCell `json:"records"`
}

type WebhookCell struct {
	RecordName string      `json:"recordName"`
	Value      interface{} `json:"value"`
}

// ParseExtractionWebhook decodes and validates a callback body. It checks, in order, that the
// body is JSON, that it has at least one document and that the first content reference names
// the provider's document id.
func ParseExtractionWebhook(raw []byte) (*ExtractionWebhook, error) {
	var payload ExtractionWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, newProviderError(ErrInvalidPayload, "malformed JSON", err)
	}
	if len(payload.Documents) == 0 {
		return nil, newProviderError(ErrInvalidPayload, "no documents", nil)
	}
	if payload.ExternalDocID() == "" {
		return nil, newProviderError(ErrInvalidPayload, "missing document ID", nil)
	}
	return &payload, nil
}

// ExternalDocID is the provider's id for the document the callback is about.
func (w *ExtractionWebhook) ExternalDocID() string {
	if len(w.ContentFileReferences) == 0 {
		return ""
	}
	return strings.TrimSpace(w.ContentFileReferences[0].SysID)
}

// Succeeded reports whether the extraction produced usable data. Documents that need a
// human review still count as extracted.
func (w *ExtractionWebhook) Succeeded() bool {
	return strings.EqualFold(w.ExtractionStatus, "Extracted") || strings.EqualFold(w.ExtractionStatus, "ReviewRequired")
}

// FailureMessage is recorded on documents whose extraction did not succeed.
func (w *ExtractionWebhook) FailureMessage() string {
	return fmt.Sprintf("Extraction status: %s", w.ExtractionStatus)
}

// ToExtractionResult maps the first document onto the canonical result. Confidences arrive
// as fractions and are turned into percentages.
func (w *ExtractionWebhook) ToExtractionResult() *model.ExtractionResult {
	doc := w.Documents[0]

	result := &model.ExtractionResult{
		DocumentType:      doc.ClassName,
		OverallConfidence: doc.ClassificationConfidence * 100,
		Fields:            make([]model.ExtractedField, 0, len(doc.Fields)),
	}

	for _, f := range doc.Fields {
		value := f.Value
		if value == nil {
			value = ""
		}
		result.Fields = append(result.Fields, model.ExtractedField{
			Name:       f.Name,
			Value:      value,
			Confidence: f.ExtractionConfidence * 100,
		})
	}

	for _, t := range doc.Tables {
		rows := make([]map[string]interface{}, 0, len(t.Records))
		for _, record := range t.Records {
			row := make(map[string]interface{}, len(record.Records))
			for _, cell := range record.Records {
				row[cell.RecordName] = cell.Value
			}
			rows = append(rows, row)
		}
		result.Tables = append(result.Tables, model.ExtractedTable{Name: t.Name, Rows: rows})
	}

	result.Normalize()
	return result
}
