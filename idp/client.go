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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/docflow/config"
	"github.com/blnkfinance/docflow/internal/request"
	"github.com/blnkfinance/docflow/model"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Extractor delegates a document to an extraction provider. The result arrives later
// through the extraction webhook.
type Extractor interface {
	Submit(ctx context.Context, data []byte, fileName string) (string, error)
	RequestExtraction(ctx context.Context, externalDocID string) error
}

// Client talks to the provider's auth and content APIs.
type Client struct {
	cnf         config.ProviderConfig
	webhookURL  string
	httpClient  *http.Client
	credentials *CredentialCache
	now         func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClientClock sets the clock used to compute credential expiry and passes it to the cache.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(cnf *config.Configuration, opts ...ClientOption) *Client {
	c := &Client{
		cnf:        cnf.Provider,
		webhookURL: cnf.ExtractionWebhookURL(),
		httpClient: &http.Client{Timeout: time.Duration(cnf.Provider.TimeoutSec) * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.credentials = NewCredentialCache(c, WithClock(c.now))
	return c
}

// Credentials exposes the client's credential cache.
func (c *Client) Credentials() *CredentialCache {
	return c.credentials
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// FetchToken runs the client credentials grant against the auth endpoint.
func (c *Client) FetchToken(ctx context.Context) (*model.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cnf.ClientID)
	form.Set("client_secret", c.cnf.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cnf.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token tokenResponse
	if _, err := request.Call(c.httpClient, req, &token); err != nil {
		return nil, pkgerrors.Wrap(err, "token request")
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response carried no access_token")
	}

	return &model.Credential{
		Token:     token.AccessToken,
		ExpiresAt: c.now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

type uploadMetadata struct {
	PrimaryType string `json:"sys_primaryType"`
	Title       string `json:"sys_title"`
	Blob        struct {
		UploadID string `json:"uploadId"`
	} `json:"sysfile_blob"`
}

type uploadResponse struct {
	ID    string `json:"id"`
	SysID string `json:"sys_id"`
}

// Submit uploads the document bytes into the configured folder and returns the provider's id for it.
func (c *Client) Submit(ctx context.Context, data []byte, fileName string) (string, error) {
	cred, err := c.credentials.Credential(ctx)
	if err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	body, contentType, err := buildUploadBody(data, fileName, uploadID)
	if err != nil {
		return "", newProviderError(ErrUpload, "build request", err)
	}

	endpoint := fmt.Sprintf("%s/documents/%s", strings.TrimRight(c.cnf.ContentAPIURL, "/"), url.PathEscape(c.cnf.FolderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", newProviderError(ErrUpload, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	var out uploadResponse
	resp, err := request.Call(c.httpClient, req, &out)
	if err != nil {
		c.invalidateOnUnauthorized(resp)
		return "", newProviderError(ErrUpload, "", pkgerrors.Wrap(err, "upload request"))
	}

	id := out.ID
	if id == "" {
		id = out.SysID
	}
	if id == "" {
		return "", newProviderError(ErrUpload, "response carried no document id", nil)
	}

	logrus.WithFields(logrus.Fields{"external_doc_id": id, "file_name": fileName}).Info("document uploaded to provider")
	return id, nil
}

// RequestExtraction asks the provider to extract the uploaded document and call back the webhook.
func (c *Client) RequestExtraction(ctx context.Context, externalDocID string) error {
	cred, err := c.credentials.Credential(ctx)
	if err != nil {
		return newProviderError(ErrExtractionTrigger, "", err)
	}

	payload, err := request.ToJsonReq(map[string]string{"webhookUrl": c.webhookURL})
	if err != nil {
		return newProviderError(ErrExtractionTrigger, "build request", err)
	}

	endpoint := fmt.Sprintf("%s/documents/%s/extract", strings.TrimRight(c.cnf.ContentAPIURL, "/"), url.PathEscape(externalDocID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return newProviderError(ErrExtractionTrigger, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := request.Call(c.httpClient, req, nil)
	if err != nil {
		c.invalidateOnUnauthorized(resp)
		return newProviderError(ErrExtractionTrigger, "", pkgerrors.Wrap(err, "extract request"))
	}

	logrus.WithField("external_doc_id", externalDocID).Info("extraction requested")
	return nil
}

func (c *Client) invalidateOnUnauthorized(resp *http.Response) {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		c.credentials.Invalidate()
	}
}

func buildUploadBody(data []byte, fileName, uploadID string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	meta := uploadMetadata{PrimaryType: "SysFile", Title: fileName}
	meta.Blob.UploadID = uploadID
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}

	mainHeader := make(textproto.MIMEHeader)
	mainHeader.Set("Content-Disposition", `form-data; name="main"`)
	mainHeader.Set("Content-Type", "application/json")
	part, err := writer.CreatePart(mainHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metaBytes); err != nil {
		return nil, "", err
	}

	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadID, escapeQuotes(fileName)))
	fileHeader.Set("Content-Type", http.DetectContentType(data))
	part, err = writer.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
