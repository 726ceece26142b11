// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the tenant identity for every request. Tenancy is
// header-based: gateways in front of this service authenticate the caller and
// inject X-Tenant-ID. Requests without the header fall back to a demo tenant
// so local development works without a gateway.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderTenantID is the request header carrying the caller's tenant.
const HeaderTenantID = "X-Tenant-ID"

// DefaultTenant is used when no tenant header is present.
const DefaultTenant = "demo-tenant"

const ctxKeyTenant = "tenant.id"

// TenantID returns middleware that stashes the resolved tenant in the Gin
// context for handlers and downstream middleware (rate limiting keys,
// idempotency scoping).
func TenantID() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if t == "" {
			t = DefaultTenant
		}
		c.Set(ctxKeyTenant, t)
		c.Next()
	}
}

// TenantFrom returns the tenant resolved by TenantID(), or "" when the
// middleware did not run.
func TenantFrom(c *gin.Context) string {
	v, ok := c.Get(ctxKeyTenant)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
