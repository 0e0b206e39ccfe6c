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
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleEviction is how long a client may stay idle before its bucket
// is eligible for eviction.
const limiterIdleEviction = 10 * time.Minute

// limiterEvictThreshold is the client count that triggers an eviction sweep.
const limiterEvictThreshold = 1024

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware enforces a per-client token bucket of limit requests
// per second with the given burst. Clients are keyed by IP. A limit <= 0
// disables enforcement.
//
// Thread Safety: the returned handler is safe for concurrent use.
func RateLimitMiddleware(limit float64, burst int) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		cl, ok := clients[ip]
		if !ok {
			if len(clients) >= limiterEvictThreshold {
				for key, candidate := range clients {
					if time.Since(candidate.lastSeen) > limiterIdleEviction {
						delete(clients, key)
					}
				}
			}
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(limit), burst)}
			clients[ip] = cl
		}
		cl.lastSeen = time.Now()
		allowed := cl.limiter.Allow()
		mu.Unlock()

		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
