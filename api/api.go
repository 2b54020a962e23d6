/*
Copyright 2024 Distro Authors.

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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ugamusic/distro"
	"github.com/ugamusic/distro/api/middleware"
	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/internal/apierror"
)

type Api struct {
	distro *distro.Distro
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/distributions", a.RequestDistribution)
	router.GET("/distributions", a.ListDistributions)
	router.GET("/distributions/review", a.ListForReview)
	router.GET("/distributions/:id", a.GetDistribution)
	router.POST("/distributions/:id/events", a.RecordEvent)
	router.POST("/distributions/:id/revenue", a.SyncRevenue)
	router.POST("/distributions/:id/removal", a.RequestRemoval)
	router.POST("/distributions/:id/force-remove", a.ForceRemove)
	router.POST("/distributions/:id/resubmit", a.Resubmit)

	router.GET("/feature-flags/:module", a.ListFeatureFlags)
	router.GET("/feature-flags/:module/:flag", a.GetFeatureFlag)
	router.PUT("/feature-flags/:module/:flag", a.SetFeatureFlag)

	router.POST("/jobs/:job", a.RunJob)

	router.POST("/search/distributions", a.Search)
	router.POST("/search/reindex", a.StartReindex)
	router.GET("/search/reindex", a.GetReindexProgress)
	return a.router
}

func NewAPI(d *distro.Distro, conf *config.Configuration) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	r.GET("/health", func(c *gin.Context) {
		if err := d.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &Api{distro: d, router: r}
}

// respondError writes err with the HTTP status its error code maps to.
func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{
		"error": err.Error(),
		"code":  apierror.CodeFor(err),
	})
}
