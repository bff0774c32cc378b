package model

import (
	"math"
	"time"
)

type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is a submitted image and its extraction lifecycle.
// DocumentType, Confidence and ExtractedData are only set once the document is completed,
// ErrorMessage only once it failed.
type Document struct {
	DocumentID          string            `json:"id"`
	Status              DocumentStatus    `json:"status"`
	FileName            string            `json:"fileName"`
	ImageData           []byte            `json:"-"`
	ExternalDocID       string            `json:"externalDocId,omitempty"`
	DocumentType        string            `json:"documentType,omitempty"`
	Confidence          *int              `json:"confidence,omitempty"`
	ExtractedData       *ExtractionResult `json:"extractedData,omitempty"`
	ErrorMessage        string            `json:"errorMessage,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UploadedAt          *time.Time        `json:"uploadedAt,omitempty"`
	ProcessingStartedAt *time.Time        `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
}

// Summary is the list projection of the document.
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		DocumentID:   d.DocumentID,
		Status:       d.Status,
		FileName:     d.FileName,
		DocumentType: d.DocumentType,
		Confidence:   d.Confidence,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		CompletedAt:  d.CompletedAt,
	}
}

type DocumentSummary struct {
	DocumentID   string         `json:"id"`
	Status       DocumentStatus `json:"status"`
	FileName     string         `json:"fileName"`
	DocumentType string         `json:"documentType,omitempty"`
	Confidence   *int           `json:"confidence,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

type ExtractedField struct {
	Name       string      `json:"name"`
	Value      interface{} `json:"value"`
	Confidence float64     `json:"confidence"`
	Category   string      `json:"category,omitempty"`
}

type ExtractedTable struct {
	Name string                   `json:"name"`
	Rows []map[string]interface{} `json:"rows"`
}

// ExtractionResult is the canonical extraction payload shared by the provider webhook and the simulator.
// OverallConfidence is a percentage.
type ExtractionResult struct {
	DocumentType      string           `json:"documentType"`
	OverallConfidence float64          `json:"overallConfidence"`
	Fields            []ExtractedField `json:"fields"`
	Tables            []ExtractedTable `json:"tables,omitempty"`
}

// DocumentConfidence rounds the overall confidence to an integer percentage in [0, 100].
func (r *ExtractionResult) DocumentConfidence() int {
	c := int(math.Round(r.OverallConfidence))
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Normalize makes sure a completed document always carries a fields list.
func (r *ExtractionResult) Normalize() {
	if r.Fields == nil {
		r.Fields = []ExtractedField{}
	}
	if r.DocumentType == "" {
		r.DocumentType = "Unknown"
	}
}
