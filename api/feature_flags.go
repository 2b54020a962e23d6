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

	model2 "github.com/ugamusic/distro/api/model"
	"github.com/ugamusic/distro/model"
)

func (a Api) ListFeatureFlags(c *gin.Context) {
	resp, err := a.distro.Flags().List(c.Request.Context(), c.Param("module"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetFeatureFlag(c *gin.Context) {
	resp, err := a.distro.Flags().Get(c.Request.Context(), c.Param("module"), c.Param("flag"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SetFeatureFlag creates or replaces a flag. Passing the version last read
// makes the write fail with 409 if someone else changed the flag since.
func (a Api) SetFeatureFlag(c *gin.Context) {
	var update model2.UpdateFeatureFlag
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := update.ValidateUpdateFeatureFlag(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	flag := &model.FeatureFlag{
		Module:  c.Param("module"),
		Flag:    c.Param("flag"),
		Value:   update.Value,
		Version: update.Version,
	}
	if err := a.distro.Flags().Set(c.Request.Context(), flag); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, flag)
}
