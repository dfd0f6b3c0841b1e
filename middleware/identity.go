package middleware

import (
	"fmt"
	"strings"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// WidgetClaims is the identity token the portal mints for an embedded
// widget. Every API call runs under one of these.
type WidgetClaims struct {
	TenantID string `json:"tenant_id"`
	WidgetID string `json:"widget_id"`
	Tier     string `json:"tier"`
	jwt.RegisteredClaims
}

// RequireWidgetToken verifies the bearer token and stores the tenant
// identity on the request context.
func RequireWidgetToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondWithUnauthorized(c, "Widget token is required")
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			utils.RespondWithUnauthorized(c, "Authorization header must use Bearer scheme")
			c.Abort()
			return
		}

		claims := &WidgetClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(cfg.WidgetTokenSecret), nil
		})
		if err != nil || !token.Valid {
			utils.RespondWithUnauthorized(c, "Invalid or expired widget token")
			c.Abort()
			return
		}
		if claims.TenantID == "" || claims.WidgetID == "" {
			utils.RespondWithUnauthorized(c, "Token is missing tenant identity")
			c.Abort()
			return
		}
		if claims.Tier == "" {
			claims.Tier = models.TierFree
		}

		c.Set("tenant_id", claims.TenantID)
		c.Set("widget_id", claims.WidgetID)
		c.Set("tier", claims.Tier)
		c.Next()
	}
}

// TenantID returns the verified tenant id for the request.
func TenantID(c *gin.Context) string {
	return c.GetString("tenant_id")
}

// WidgetID returns the verified widget id for the request.
func WidgetID(c *gin.Context) string {
	return c.GetString("widget_id")
}

// Tier returns the tenant's plan tier for the request.
func Tier(c *gin.Context) string {
	return c.GetString("tier")
}
