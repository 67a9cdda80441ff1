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
	"github.com/blnkfinance/payrelay/internal/hooks"
	"github.com/gin-gonic/gin"
)

// RegisterHook registers an order-management endpoint to be called when orders are paid.
func (a Api) RegisterHook(c *gin.Context) {
	var req model2.CreateHook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hook data"})
		return
	}
	if err := req.ValidateCreateHook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	hook := req.ToHook()
	if err := a.hooks.RegisterHook(c.Request.Context(), &hook); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, hook)
}

// UpdateHook replaces an existing hook.
func (a Api) UpdateHook(c *gin.Context) {
	hookID := c.Param("id")
	var req model2.CreateHook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hook data"})
		return
	}
	if err := req.ValidateCreateHook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	hook := req.ToHook()
	if err := a.hooks.UpdateHook(c.Request.Context(), hookID, &hook); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, hook)
}

func (a Api) GetHook(c *gin.Context) {
	hook, err := a.hooks.GetHook(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, hook)
}

// ListHooks lists hooks of a type, ORDER_PAID when none is given.
func (a Api) ListHooks(c *gin.Context) {
	hookType := hooks.HookType(c.DefaultQuery("type", string(hooks.OrderPaid)))
	list, err := a.hooks.ListHooks(c.Request.Context(), hookType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (a Api) DeleteHook(c *gin.Context) {
	if err := a.hooks.DeleteHook(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "hook deleted successfully"})
}
