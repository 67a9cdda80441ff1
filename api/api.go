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
	"net/http"

	"github.com/blnkfinance/payrelay"
	"github.com/blnkfinance/payrelay/api/middleware"
	"github.com/blnkfinance/payrelay/config"
	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/blnkfinance/payrelay/internal/hooks"
	"github.com/blnkfinance/payrelay/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	relay  *payrelay.Relay
	hooks  hooks.HookManager
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/payments/initiate", a.InitiatePayment)
	router.GET("/payments/verify/:token", a.VerifyPayment)
	router.POST(gateway.WebhookPath, a.ReceiveGatewayWebhook)

	admin := router.Group("/", middleware.SecretKeyAuthMiddleware())
	admin.GET("/transactions/pending", a.GetPendingTransactions)
	admin.GET("/transactions/:id", a.GetTransaction)

	admin.GET("/webhooks/:token", a.GetWebhooks)
	admin.POST("/webhooks/replay/:id", a.ReplayWebhook)

	if a.hooks != nil {
		admin.POST("/hooks", a.RegisterHook)
		admin.GET("/hooks", a.ListHooks)
		admin.GET("/hooks/:id", a.GetHook)
		admin.PUT("/hooks/:id", a.UpdateHook)
		admin.DELETE("/hooks/:id", a.DeleteHook)
	}
	return a.router
}

// NewAPI builds the router. hookManager may be nil, in which case the hook routes are not served.
func NewAPI(relay *payrelay.Relay, hookManager hooks.HookManager) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if conf.Tracing.Enabled {
		r.Use(otelgin.Middleware(conf.Tracing.ServiceName))
	}
	r.Use(metrics.PrometheusMiddleware())
	r.Use(middleware.RateLimitMiddleware(conf, gateway.WebhookPath))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Api{relay: relay, hooks: hookManager, router: r}
}

// respondError writes err with the status its classification maps to.
func respondError(c *gin.Context, err error) {
	var body apierror.APIError
	status := apierror.MapErrorToHTTPStatus(err)
	if !errors.As(err, &body) {
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": body.Message, "code": body.Code})
}
