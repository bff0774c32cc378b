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
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MockClient stands in for the provider when no provider is configured. Uploads always
// succeed and extraction requests are accepted without any callback; the simulator
// produces the result instead.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Submit(_ context.Context, data []byte, fileName string) (string, error) {
	id := "MOCK-" + uuid.NewString()
	logrus.WithFields(logrus.Fields{"external_doc_id": id, "file_name": fileName, "bytes": len(data)}).Info("mock upload accepted")
	return id, nil
}

func (m *MockClient) RequestExtraction(_ context.Context, externalDocID string) error {
	logrus.WithField("external_doc_id", externalDocID).Debug("mock extraction requested")
	return nil
}
