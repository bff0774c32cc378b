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
	"math/rand"
	"sync"

	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/model"
	"github.com/sirupsen/logrus"
)

// Simulator produces canned extraction results in mock mode. The results have exactly the
// shape the provider webhook is mapped to.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(rng *rand.Rand) *Simulator {
	return &Simulator{rng: rng}
}

var cannedResults = []func() *model.ExtractionResult{
	invoiceResult,
	resumeResult,
	receiptResult,
}

// Result picks one of the canned results uniformly at random.
func (s *Simulator) Result() *model.ExtractionResult {
	s.mu.Lock()
	i := s.rng.Intn(len(cannedResults))
	s.mu.Unlock()
	return cannedResults[i]()
}

func invoiceResult() *model.ExtractionResult {
	return &model.ExtractionResult{
		DocumentType:      "invoice",
		OverallConfidence: 92.5,
		Fields: []model.ExtractedField{
			{Name: "Invoice Number", Value: "INV-2026-001", Confidence: 98, Category: "identification"},
			{Name: "Invoice Date", Value: "2026-01-15", Confidence: 95, Category: "identification"},
			{Name: "Vendor Name", Value: "Acme Corporation", Confidence: 97, Category: "vendor"},
			{Name: "Vendor Address", Value: "123 Business St, City, State 12345", Confidence: 89, Category: "vendor"},
			{Name: "Total Amount", Value: 1250.00, Confidence: 99, Category: "financial"},
			{Name: "Tax Amount", Value: 125.00, Confidence: 96, Category: "financial"},
			{Name: "Subtotal", Value: 1125.00, Confidence: 98, Category: "financial"},
			{Name: "Payment Terms", Value: "Net 30", Confidence: 85, Category: "terms"},
			{Name: "Due Date", Value: "2026-02-14", Confidence: 92, Category: "terms"},
		},
		Tables: []model.ExtractedTable{
			{
				Name: "Line Items",
				Rows: []map[string]interface{}{
					{"description": "Professional Services", "quantity": 40, "rate": 25.00, "amount": 1000.00},
					{"description": "Software License", "quantity": 1, "rate": 125.00, "amount": 125.00},
				},
			},
		},
	}
}

func resumeResult() *model.ExtractionResult {
	return &model.ExtractionResult{
		DocumentType:      "resume",
		OverallConfidence: 88.0,
		Fields: []model.ExtractedField{
			{Name: "Full Name", Value: "John Doe", Confidence: 99, Category: "personal"},
			{Name: "Email", Value: "john.doe@email.com", Confidence: 97, Category: "contact"},
			{Name: "Phone", Value: "+1 555-0123", Confidence: 94, Category: "contact"},
			{Name: "Location", Value: "San Francisco, CA", Confidence: 91, Category: "contact"},
			{Name: "Job Title", Value: "Senior Software Engineer", Confidence: 95, Category: "professional"},
			{Name: "Years of Experience", Value: 8, Confidence: 87, Category: "professional"},
			{Name: "Education", Value: "B.S. Computer Science", Confidence: 92, Category: "education"},
			{Name: "Skills", Value: "React, TypeScript, Node.js, AWS", Confidence: 89, Category: "skills"},
		},
	}
}

func receiptResult() *model.ExtractionResult {
	return &model.ExtractionResult{
		DocumentType:      "receipt",
		OverallConfidence: 85.5,
		Fields: []model.ExtractedField{
			{Name: "Merchant", Value: "Coffee Shop", Confidence: 96, Category: "merchant"},
			{Name: "Date", Value: "2026-01-15", Confidence: 92, Category: "transaction"},
			{Name: "Time", Value: "14:35", Confidence: 88, Category: "transaction"},
			{Name: "Total", Value: 15.75, Confidence: 99, Category: "financial"},
			{Name: "Payment Method", Value: "Credit Card", Confidence: 94, Category: "payment"},
			{Name: "Card Last 4", Value: "1234", Confidence: 97, Category: "payment"},
		},
	}
}

// ScheduleSimulation queues a simulated extraction for id after the configured mock delay.
func (d *Docflow) ScheduleSimulation(ctx context.Context, id string) error {
	delay := d.cnf.MockProcessingDelay()
	task, err := newDocumentTask(TaskSimulateExtraction, id, delay)
	if err != nil {
		return err
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"document_id": id, "delay": delay}).Info("simulated extraction scheduled")
	return nil
}

// SimulateExtraction completes id with a canned result. Documents that were deleted or have
// already finished are left alone.
func (d *Docflow) SimulateExtraction(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "SimulateExtraction")
	defer span.End()

	logger := logrus.WithField("document_id", id)
	doc, err := d.datasource.GetDocument(ctx, id)
	if apierror.HasCode(err, apierror.ErrNotFound) {
		logger.Info("document removed before simulated extraction")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if doc.Status.IsTerminal() {
		logger.WithField("status", doc.Status).Info("document already finished, skipping simulated extraction")
		return nil
	}

	_, err = d.CompleteDocument(ctx, id, d.simulator.Result())
	return err
}
