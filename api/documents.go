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

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	model2 "github.com/blnkfinance/docflow/api/model"
	"github.com/gin-gonic/gin"
)

// UploadDocument accepts either a JSON body carrying base64 image data or a multipart form
// with the image in the "image" field.
func (a Api) UploadDocument(c *gin.Context) {
	var (
		data     []byte
		fileName string
	)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("image")
		if err != nil {
			if isBodyTooLarge(err) {
				rejectTooLarge(c)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image data provided"})
			return
		}
		if header.Size > maxUploadBytes {
			rejectTooLarge(c)
			return
		}
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer file.Close()

		data, err = io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(data) > maxUploadBytes {
			rejectTooLarge(c)
			return
		}
		fileName = header.Filename
	} else {
		var upload model2.UploadDocument
		if err := c.ShouldBindJSON(&upload); err != nil {
			if isBodyTooLarge(err) {
				rejectTooLarge(c)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image data provided"})
			return
		}
		if err := upload.ValidateUploadDocument(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}

		var err error
		data, err = upload.Decode()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(data) > maxUploadBytes {
			rejectTooLarge(c)
			return
		}
		fileName = upload.FileName
	}

	doc, err := a.docflow.SubmitDocument(c.Request.Context(), data, fileName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model2.UploadDocumentResponse{DocID: doc.DocumentID, Status: doc.Status})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func rejectTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("Image exceeds the %d MiB upload limit", maxUploadBytes>>20)})
}

func (a Api) GetDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.docflow.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.docflow.GetAllDocuments(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) DeleteDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.docflow.DeleteDocument(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ExtractionWebhook receives the provider's callback. Repeated callbacks for a finished
// document are acknowledged like the first one.
func (a Api) ExtractionWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := a.docflow.HandleExtractionWebhook(c.Request.Context(), raw); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
