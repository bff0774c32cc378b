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
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/blnkfinance/docflow/config"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAuthURL    = "https://auth.idp.test/connect/token"
	testContentURL = "https://content.idp.test/api"
)

func newTestClient(t *testing.T) (*Client, *http.Client) {
	t.Helper()
	cnf := &config.Configuration{
		BackendURL: "https://docflow.test",
		Provider: config.ProviderConfig{
			AuthURL:       testAuthURL,
			ContentAPIURL: testContentURL,
			ClientID:      "client-id",
			ClientSecret:  "client-secret",
			FolderID:      "folder-1",
			TimeoutSec:    5,
		},
	}
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient(cnf, WithHTTPClient(httpClient)), httpClient
}

func registerToken(t *testing.T, expiresIn int) {
	t.Helper()
	httpmock.RegisterResponder(http.MethodPost, testAuthURL, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "client_credentials", req.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", req.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", req.PostForm.Get("client_secret"))
		return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
			"access_token": "bearer-123",
			"expires_in":   expiresIn,
			"token_type":   "Bearer",
		})
	})
}

func TestClient_Submit(t *testing.T) {
	client, _ := newTestClient(t)
	registerToken(t, 3600)

	image := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	httpmock.RegisterResponder(http.MethodPost, testContentURL+"/documents/folder-1", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer bearer-123", req.Header.Get("Authorization"))

		mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		reader := multipart.NewReader(req.Body, params["boundary"])
		mainPart, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "main", mainPart.FormName())

		var meta uploadMetadata
		require.NoError(t, json.NewDecoder(mainPart).Decode(&meta))
		assert.Equal(t, "SysFile", meta.PrimaryType)
		assert.Equal(t, "invoice.jpg", meta.Title)
		assert.NotEmpty(t, meta.Blob.UploadID)

		filePart, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, meta.Blob.UploadID, filePart.FormName())
		assert.Equal(t, "invoice.jpg", filePart.FileName())
		assert.Equal(t, "image/jpeg", filePart.Header.Get("Content-Type"))
		data, err := io.ReadAll(filePart)
		require.NoError(t, err)
		assert.Equal(t, image, data)

		return httpmock.NewJsonResponse(http.StatusCreated, map[string]string{"sys_id": "ext-42"})
	})

	id, err := client.Submit(context.Background(), image, "invoice.jpg")
	require.NoError(t, err)
	assert.Equal(t, "ext-42", id)

	// second upload reuses the cached token
	_, err = client.Submit(context.Background(), image, "invoice.jpg")
	require.NoError(t, err)
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+testAuthURL])
	assert.Equal(t, 2, info["POST "+testContentURL+"/documents/folder-1"])
}

func TestClient_SubmitPrefersID(t *testing.T) {
	client, _ := newTestClient(t)
	registerToken(t, 3600)
	httpmock.RegisterResponder(http.MethodPost, testContentURL+"/documents/folder-1",
		httpmock.NewStringResponder(http.StatusOK, `{"id": "primary", "sys_id": "secondary"}`))

	id, err := client.Submit(context.Background(), []byte("img"), "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "primary", id)
}

func TestClient_SubmitErrors(t *testing.T) {
	tests := []struct {
		name      string
		authCode  int
		upload    httpmock.Responder
		expectErr error
		notErr    error
	}{
		{
			name:      "auth failure",
			authCode:  http.StatusUnauthorized,
			expectErr: ErrAuthentication,
			notErr:    ErrUpload,
		},
		{
			name:      "upload server error",
			authCode:  http.StatusOK,
			upload:    httpmock.NewStringResponder(http.StatusInternalServerError, "boom"),
			expectErr: ErrUpload,
		},
		{
			name:      "upload without id",
			authCode:  http.StatusOK,
			upload:    httpmock.NewStringResponder(http.StatusOK, `{}`),
			expectErr: ErrUpload,
		},
		{
			name:      "upload transport error",
			authCode:  http.StatusOK,
			upload:    httpmock.NewErrorResponder(errors.New("connection reset")),
			expectErr: ErrUpload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t)
			if tt.authCode == http.StatusOK {
				registerToken(t, 3600)
			} else {
				httpmock.RegisterResponder(http.MethodPost, testAuthURL, httpmock.NewStringResponder(tt.authCode, `{"error":"invalid_client"}`))
			}
			if tt.upload != nil {
				httpmock.RegisterResponder(http.MethodPost, testContentURL+"/documents/folder-1", tt.upload)
			}

			_, err := client.Submit(context.Background(), []byte("img"), "a.jpg")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expectErr), err.Error())
			if tt.notErr != nil {
				assert.False(t, errors.Is(err, tt.notErr))
			}
		})
	}
}

func TestClient_UnauthorizedUploadDropsCredential(t *testing.T) {
	client, _ := newTestClient(t)
	registerToken(t, 3600)
	httpmock.RegisterResponder(http.MethodPost, testContentURL+"/documents/folder-1",
		httpmock.NewStringResponder(http.StatusUnauthorized, "expired"))

	_, err := client.Submit(context.Background(), []byte("img"), "a.jpg")
	require.Error(t, err)
	_, err = client.Submit(context.Background(), []byte("img"), "a.jpg")
	require.Error(t, err)

	assert.Equal(t, 2, httpmock.GetCallCountInfo()["POST "+testAuthURL])
}

func TestClient_RequestExtraction(t *testing.T) {
	client, _ := newTestClient(t)
	registerToken(t, 3600)

	httpmock.RegisterResponder(http.MethodPost, testContentURL+"/documents/ext-42/extract", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer bearer-123", req.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "https://docflow.test/webhook/extraction", body["webhookUrl"])
		return httpmock.NewStringResponse(http.StatusAccepted, ""), nil
	})

	require.NoError(t, client.RequestExtraction(context.Background(), "ext-42"))
}

func TestClient_RequestExtractionFailure(t *testing.T) {
	client, _ := newTestClient(t)
	registerToken(t, 3600)
	httpmock.RegisterResponder(http.MethodPost, testContentURL+"/documents/ext-42/extract",
		httpmock.NewStringResponder(http.StatusBadGateway, "unavailable"))

	err := client.RequestExtraction(context.Background(), "ext-42")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionTrigger))
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestClient_FetchTokenExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cnf := &config.Configuration{Provider: config.ProviderConfig{AuthURL: testAuthURL, ClientID: "client-id", ClientSecret: "client-secret"}}
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()
	registerToken(t, 300)

	client := NewClient(cnf, WithHTTPClient(httpClient), WithClientClock(func() time.Time { return now }))
	cred, err := client.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-123", cred.Token)
	assert.Equal(t, now.Add(5*time.Minute), cred.ExpiresAt)
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	id, err := m.Submit(context.Background(), []byte("img"), "a.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "MOCK-"))
	assert.NoError(t, m.RequestExtraction(context.Background(), id))
}
