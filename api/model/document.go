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

package model

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/blnkfinance/docflow/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// UploadDocument is the JSON upload body. ImageBase64 is accepted as an alias of ImageData.
type UploadDocument struct {
	ImageData   string `json:"imageData"`
	ImageBase64 string `json:"imageBase64"`
	FileName    string `json:"fileName"`
}

type UploadDocumentResponse struct {
	DocID  string               `json:"docId"`
	Status model.DocumentStatus `json:"status"`
}

func (u *UploadDocument) encoded() string {
	if u.ImageData != "" {
		return u.ImageData
	}
	return u.ImageBase64
}

func (u *UploadDocument) ValidateUploadDocument() error {
	u.ImageData = strings.TrimSpace(u.ImageData)
	u.ImageBase64 = strings.TrimSpace(u.ImageBase64)
	return validation.ValidateStruct(u,
		validation.Field(&u.ImageData, validation.When(u.ImageBase64 == "", validation.Required.Error("no image data provided"))),
		validation.Field(&u.FileName, validation.Length(0, 255)),
	)
}

// Decode returns the image bytes, accepting plain base64 or a data URI.
func (u *UploadDocument) Decode() ([]byte, error) {
	encoded := model.StripDataURI(u.encoded())
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, errors.New("image data is not valid base64")
	}
	if len(data) == 0 {
		return nil, errors.New("no image data provided")
	}
	return data, nil
}
