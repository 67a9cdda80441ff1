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

	model2 "github.com/blnkfinance/payrelay/api/model"
	"github.com/blnkfinance/payrelay/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// InitiatePayment opens a gateway session for an order.
//
// Responses:
// - 201 Created: the session is open, the body carries the redirect url.
// - 400 Bad Request: the request is malformed or fails validation.
// - 422, 502 or 504: the gateway declined, failed or timed out. The body is the payment result,
//   which still names the failed transaction.
// - 500 Internal Server Error: the transaction could not be stored.
func (a Api) InitiatePayment(c *gin.Context) {
	var req model2.InitiatePayment
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := req.ValidateInitiatePayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.relay.InitiatePayment(c.Request.Context(), req.ToPaymentRequest())
	if err != nil {
		if result != nil && !apierror.Is(err, apierror.ErrInternalServer) {
			c.JSON(apierror.MapErrorToHTTPStatus(err), result)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// VerifyPayment asks the gateway about a session token.
func (a Api) VerifyPayment(c *gin.Context) {
	token, passed := c.Params.Get("token")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required. pass token in the route /:token"})
		return
	}

	resp, err := a.relay.VerifyPayment(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
