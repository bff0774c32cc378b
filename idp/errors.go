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

import "errors"

var (
	// ErrAuthentication means the provider refused to issue a credential.
	ErrAuthentication = errors.New("provider authentication failed")
	// ErrUpload means the provider did not accept the document bytes.
	ErrUpload = errors.New("document upload failed")
	// ErrExtractionTrigger means the provider did not accept the extraction request.
	ErrExtractionTrigger = errors.New("extraction request failed")
	// ErrInvalidPayload means an extraction callback could not be understood.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// ProviderError carries one of the sentinel kinds above plus the underlying cause.
type ProviderError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(kind error, detail string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Detail: detail, Err: err}
}
