// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package acp

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the annotation index endpoints onto the router
// group, typically /v1.
//
// Endpoints:
//   - POST   /acp/init           — full index rebuild
//   - POST   /acp/update         — incremental update for changed paths
//   - POST   /acp/query          — query dispatch (symbol, file, domain,
//     callers, callees, search, stats, hotpaths)
//   - GET    /acp/stats          — published document statistics
//   - GET    /acp/health         — liveness
//   - GET    /acp/ready          — readiness (index published)
//   - GET    /acp/events         — websocket stream of index events
//   - POST   /acp/snapshot       — save the published document
//   - GET    /acp/snapshots      — list snapshots, newest first
//   - GET    /acp/snapshot/diff  — diff two snapshots (?base=&target=)
//   - GET    /acp/snapshot/:id   — load and verify one snapshot
//   - DELETE /acp/snapshot/:id   — delete one snapshot
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	acp := rg.Group("/acp")
	{
		acp.POST("/init", handlers.HandleInit)
		acp.POST("/update", handlers.HandleUpdate)
		acp.POST("/query", handlers.HandleQuery)
		acp.GET("/stats", handlers.HandleStats)
		acp.GET("/health", handlers.HandleHealth)
		acp.GET("/ready", handlers.HandleReady)
		acp.GET("/events", handlers.HandleEvents)

		// The diff route must be registered before the :id wildcard.
		acp.GET("/snapshot/diff", handlers.HandleDiffSnapshots)
		acp.POST("/snapshot", handlers.HandleSaveSnapshot)
		acp.GET("/snapshots", handlers.HandleListSnapshots)
		acp.GET("/snapshot/:id", handlers.HandleLoadSnapshot)
		acp.DELETE("/snapshot/:id", handlers.HandleDeleteSnapshot)
	}
}
