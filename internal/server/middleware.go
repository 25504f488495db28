package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cashflow/internal/identity"
)

const (
	headerUserID    = "X-User-ID"
	headerSystemKey = "X-System-Key"
)

// callerMiddleware resolves the request caller from headers and puts it
// on the request context. A valid system key grants the system caller;
// otherwise X-User-ID identifies the acting user.
func (s *Server) callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := identity.Caller{}

		if key := strings.TrimSpace(c.GetHeader(headerSystemKey)); key != "" {
			if s.cfg.SystemKey == "" || key != s.cfg.SystemKey {
				AbortWithError(c, &apiError{
					Status:  http.StatusUnauthorized,
					Code:    "invalid_system_key",
					Message: "invalid system key",
				})
				return
			}
			caller.System = true
		}

		if raw := strings.TrimSpace(c.GetHeader(headerUserID)); raw != "" {
			id, err := snowflake.ParseString(raw)
			if err != nil {
				AbortWithError(c, &apiError{
					Status:  http.StatusUnauthorized,
					Code:    "invalid_user_id",
					Message: "invalid user id header",
				})
				return
			}
			caller.UserID = id
		}

		if caller.System || caller.UserID != 0 {
			ctx := identity.WithCaller(c.Request.Context(), caller)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// requireSystem gates operator endpoints.
func (s *Server) requireSystem() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := identity.CallerFromContext(c.Request.Context())
		if !ok || !caller.System {
			AbortWithError(c, identity.ErrNotAuthorized)
			return
		}
		c.Next()
	}
}
