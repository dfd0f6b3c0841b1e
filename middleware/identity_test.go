package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rag-chatbot-platform/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims WidgetClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func identityRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{WidgetTokenSecret: testSecret}
	r := gin.New()
	r.GET("/whoami", RequireWidgetToken(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": TenantID(c),
			"widget_id": WidgetID(c),
			"tier":      Tier(c),
		})
	})
	return r
}

func doRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWidgetTokenAccepted(t *testing.T) {
	r := identityRouter()
	token := signToken(t, WidgetClaims{
		TenantID: "t1", WidgetID: "w1", Tier: "starter",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	w := doRequest(r, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestWidgetTokenMissing(t *testing.T) {
	if w := doRequest(identityRouter(), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestWidgetTokenWrongSecret(t *testing.T) {
	token := signToken(t, WidgetClaims{TenantID: "t1", WidgetID: "w1"}, "other-secret")
	if w := doRequest(identityRouter(), "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestWidgetTokenExpired(t *testing.T) {
	token := signToken(t, WidgetClaims{
		TenantID: "t1", WidgetID: "w1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSecret)
	if w := doRequest(identityRouter(), "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestWidgetTokenMissingIdentity(t *testing.T) {
	token := signToken(t, WidgetClaims{TenantID: "", WidgetID: "w1"}, testSecret)
	if w := doRequest(identityRouter(), "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestWidgetTokenDefaultsTier(t *testing.T) {
	r := identityRouter()
	token := signToken(t, WidgetClaims{TenantID: "t1", WidgetID: "w1"}, testSecret)
	w := doRequest(r, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"tier":"free"`) {
		t.Errorf("body = %s", body)
	}
}
