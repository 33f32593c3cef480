package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

type HealthChecker struct {
	infra Infrastructure
}

func NewHealthChecker(infra Infrastructure) *HealthChecker {
	return &HealthChecker{
		infra: infra,
	}
}

type dependencyStatus struct {
	name string
	err  error
}

// check pings every backing store concurrently within healthCheckTimeout
func (h *HealthChecker) check(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(chan dependencyStatus, 2)

	go func() {
		results <- dependencyStatus{name: "postgres", err: h.infra.Postgres().Ping(ctx)}
	}()

	go func() {
		results <- dependencyStatus{name: "redis", err: h.infra.Redis().Ping(ctx)}
	}()

	failures := make(map[string]string)
	for range 2 {
		r := <-results
		if r.err != nil {
			failures[r.name] = fmt.Sprint(r.err)
		}
	}
	return failures
}

func (h *HealthChecker) Handler(c *gin.Context) {
	if failures := h.check(c.Request.Context()); len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "fail",
			"checks": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "pass",
	})
}
