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
	"net/http"
	"time"

	"github.com/blnkfinance/docflow"
	"github.com/blnkfinance/docflow/api/middleware"
	"github.com/blnkfinance/docflow/internal/apierror"
	"github.com/blnkfinance/docflow/internal/notification"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxUploadBytes = 25 << 20

// maxRequestBytes caps an upload request body. It leaves room for base64 expansion of a
// maximum-size image in the JSON form.
const maxRequestBytes = maxUploadBytes/3*4 + 1<<20

type Api struct {
	docflow     *docflow.Docflow
	broadcaster *notification.Broadcaster
	router      *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	documents := router.Group("/documents")
	if a.docflow.Config().Server.Secure {
		documents.Use(middleware.SecretKeyAuthMiddleware(a.docflow.Config()))
	}
	documents.POST("/upload", a.UploadDocument)
	documents.GET("", a.GetAllDocuments)
	documents.GET("/:id", a.GetDocument)
	documents.DELETE("/:id", a.DeleteDocument)

	router.POST("/webhook/extraction", a.ExtractionWebhook)
	router.GET("/events", a.StreamEvents)
	router.GET("/health", a.Health)
	return a.router
}

// NewAPI builds the HTTP surface. broadcaster is the local hub observers subscribe to for the
// event stream.
func NewAPI(d *docflow.Docflow, broadcaster *notification.Broadcaster) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := d.Config()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.MaxMultipartMemory = maxUploadBytes
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.CORSMiddleware(conf))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{docflow: d, broadcaster: broadcaster, router: r}
}

func (a Api) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"mode":      a.docflow.Config().Mode(),
		"timestamp": time.Now().UTC(),
	})
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apierror.Message(err)})
}
