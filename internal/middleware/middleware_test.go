package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"storefront/internal/config"
	"storefront/internal/monitor"
	jwtutil "storefront/internal/utils"
	"storefront/pkg/limiter"
	"storefront/pkg/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) utils.Response {
	t.Helper()
	var response utils.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func staticValidator(token string) (*UserInfo, error) {
	switch token {
	case "customer":
		return &UserInfo{ID: 7, Role: jwtutil.RoleCustomer}, nil
	case "admin":
		return &UserInfo{ID: 1, Role: jwtutil.RoleAdmin}, nil
	}
	return nil, errors.New("unknown token")
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedCode   utils.ResponseCode
	}{
		{name: "valid token", header: "Bearer customer", expectedStatus: http.StatusOK},
		{name: "invalid token", header: "Bearer nope", expectedStatus: http.StatusUnauthorized, expectedCode: utils.CodeUnauthorized},
		{name: "no header", header: "", expectedStatus: http.StatusUnauthorized, expectedCode: utils.CodeUnauthorized},
		{name: "wrong scheme", header: "Basic abc", expectedStatus: http.StatusUnauthorized, expectedCode: utils.CodeUnauthorized},
		{name: "empty token", header: "Bearer ", expectedStatus: http.StatusUnauthorized, expectedCode: utils.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Auth(staticValidator))
			r.GET("/test", func(c *gin.Context) {
				userID, ok := GetUserID(c)
				require.True(t, ok)
				c.JSON(http.StatusOK, gin.H{"user_id": userID})
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decode(t, w).Code)
			}
		})
	}
}

func TestAuth_SkipPaths(t *testing.T) {
	r := gin.New()
	r.Use(AuthWithConfig(AuthConfig{TokenValidator: staticValidator, SkipPaths: []string{"/health"}}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_WithJWT(t *testing.T) {
	m := jwtutil.NewJWTManager("secret", "storefront", time.Hour)
	token, err := m.GenerateAccessToken(42, jwtutil.RoleCustomer)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Auth(JWTValidator(m)))
	r.GET("/me", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		role, _ := GetUserRole(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": role})
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(AuthorizationHeader, BearerPrefix+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42,"role":"customer"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.Use(Auth(staticValidator), RequireRole(jwtutil.RoleAdmin))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	for token, status := range map[string]int{"admin": http.StatusOK, "customer": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(AuthorizationHeader, BearerPrefix+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, status, w.Code, token)
	}
}

func TestGetUserID(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected uint64
		exists   bool
	}{
		{name: "uint64", value: uint64(123), expected: 123, exists: true},
		{name: "zero", value: uint64(0), exists: false},
		{name: "wrong type", value: "123", exists: false},
		{name: "missing", value: nil, exists: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			if tt.value != nil {
				c.Set(UserIDKey, tt.value)
			}

			userID, exists := GetUserID(c)
			assert.Equal(t, tt.expected, userID)
			assert.Equal(t, tt.exists, exists)
		})
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/normal", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, utils.CodeInternalError, decode(t, w).Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/normal", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	t.Run("any origin", func(t *testing.T) {
		r := gin.New()
		r.Use(CORS(config.SecurityConfig{}))
		r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodOptions, "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("configured origins", func(t *testing.T) {
		var sec config.SecurityConfig
		sec.CORS.AllowOrigins = []string{"https://shop.example.com"}
		sec.CORS.AllowCredentials = true

		r := gin.New()
		r.Use(CORS(sec))
		r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

		req = httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name           string
		timeout        time.Duration
		handlerDelay   time.Duration
		expectedStatus int
	}{
		{name: "completes in time", timeout: 200 * time.Millisecond, handlerDelay: 10 * time.Millisecond, expectedStatus: http.StatusOK},
		{name: "deadline exceeded", timeout: 20 * time.Millisecond, handlerDelay: time.Second, expectedStatus: http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Timeout(tt.timeout))
			r.GET("/test", func(c *gin.Context) {
				select {
				case <-time.After(tt.handlerDelay):
					c.Status(http.StatusOK)
				case <-c.Request.Context().Done():
				}
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}

func TestLogger_RecordsMetrics(t *testing.T) {
	metrics := monitor.NewMetricsCollector("test")

	r := gin.New()
	r.Use(Logger(metrics))
	r.GET("/orders/:order_id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"ORD1", "ORD2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	// one series per route template, not per order id
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.Registry(), "test_http_requests_total"))
}

func TestUserRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(Auth(staticValidator), UserRateLimit(limiter.NewTokenBucketLimiter(rate.Limit(0.001), 2)))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(AuthorizationHeader, "Bearer customer")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, utils.CodeRateLimit, decode(t, w).Code)
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// another caller has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(AuthorizationHeader, "Bearer admin")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	multi := limiter.NewMultiDimensionLimiter(client)
	multi.SetLimit("user", 1, time.Minute)

	r := gin.New()
	r.Use(Auth(staticValidator), CheckoutRateLimit(multi))
	r.POST("/checkout", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.Header.Set(AuthorizationHeader, "Bearer customer")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	// limiter outage fails open
	mr.Close()
	assert.Equal(t, http.StatusAccepted, send())
}
