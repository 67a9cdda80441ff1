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
	"io"
	"net/http"

	"github.com/blnkfinance/payrelay/gateway"
	"github.com/blnkfinance/payrelay/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// ReceiveGatewayWebhook takes a payment notification from the gateway.
//
// Responses:
// - 200 OK: the notification was applied, was a duplicate or was ignored.
// - 400 Bad Request: the body is not a gateway notification.
// - 404 Not Found: no transaction owns the token, the gateway should redeliver later.
// - 500 Internal Server Error: the notification could not be recorded or applied.
func (a Api) ReceiveGatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	event, err := gateway.ParseWebhook(body)
	if err != nil {
		logrus.WithError(err).WithField("remote_addr", c.ClientIP()).Warn("rejected gateway webhook")
		respondError(c, err)
		return
	}
	event.RemoteAddr = c.ClientIP()

	outcome, err := a.relay.HandleWebhook(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOutcome(c, outcome)
}

// GetWebhooks lists the notifications received for a gateway token, newest first.
func (a Api) GetWebhooks(c *gin.Context) {
	token, passed := c.Params.Get("token")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required. pass token in the route /:token"})
		return
	}

	resp, err := a.relay.GetWebhooksByToken(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ReplayWebhook runs a stored notification through the processor again.
func (a Api) ReplayWebhook(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	outcome, err := a.relay.ReplayWebhook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOutcome(c, outcome)
}

func respondOutcome(c *gin.Context, outcome model.WebhookOutcome) {
	if !outcome.Accepted() {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "outcome": outcome, "message": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
}
