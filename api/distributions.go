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
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/ugamusic/distro/api/model"
	"github.com/ugamusic/distro/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pagination reads limit and offset from the query string.
func pagination(c *gin.Context) (int, int, bool) {
	limit, offset := defaultPageSize, 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return 0, 0, false
		}
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}

func (a Api) RequestDistribution(c *gin.Context) {
	var newDistribution model2.CreateDistribution
	if err := c.ShouldBindJSON(&newDistribution); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newDistribution.ValidateCreateDistribution(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.distro.RequestDistribution(c.Request.Context(), newDistribution.SongID,
		model.PlatformCode(newDistribution.PlatformCode), newDistribution.ToReleaseMetadata())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetDistribution(c *gin.Context) {
	resp, err := a.distro.GetDistribution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListDistributions pages through distributions, optionally filtered by ?status=.
func (a Api) ListDistributions(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	resp, err := a.distro.ListDistributions(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ListForReview(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	resp, err := a.distro.ListForReview(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RecordEvent applies a status update reported by a platform.
func (a Api) RecordEvent(c *gin.Context) {
	var event model2.RecordEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := event.ValidateRecordEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.distro.RecordAdapterEvent(c.Request.Context(), c.Param("id"), event.ToAdapterEvent())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) SyncRevenue(c *gin.Context) {
	var snapshot model2.RevenueSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := snapshot.ValidateRevenueSnapshot(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.distro.SyncRevenue(c.Request.Context(), c.Param("id"), snapshot.ToMetricsSnapshot())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// bindReason reads an optional {"reason": "..."} body.
func bindReason(c *gin.Context) (string, bool) {
	var body model2.StatusChangeRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return "", false
	}
	return body.Reason, true
}

func (a Api) RequestRemoval(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}

	resp, err := a.distro.RequestRemoval(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ForceRemove(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}

	resp, err := a.distro.ForceRemove(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) Resubmit(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}

	resp, err := a.distro.Resubmit(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
