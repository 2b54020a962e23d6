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
)

// RunJob triggers one periodic job (retries, sync, sweep or poll) on demand.
// The job runs under the same lease as its scheduled ticks; if another node
// holds it the response reports ran=false.
func (a Api) RunJob(c *gin.Context) {
	resp, err := a.distro.RunJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
