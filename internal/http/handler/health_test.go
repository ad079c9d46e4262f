package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tocanan.ai/geo/internal/http/handler"
)

var _ = Describe("HealthHandler", func() {
	var router *gin.Engine

	setup := func(checks map[string]handler.Pinger) {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		h := handler.NewHealthHandler("geo", "1.0.0", "test", checks)
		router.GET("/api/v1/health", h.Health)
		router.GET("/api/v1/health/deep", h.Deep)
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("reports service identity on the shallow check", func() {
		setup(nil)
		w := get("/api/v1/health")

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("ok"))
		Expect(resp["service"]).To(Equal("geo"))
	})

	It("returns 200 when every dependency responds", func() {
		setup(map[string]handler.Pinger{
			"redis": handler.PingerFunc(func(_ context.Context) error { return nil }),
		})
		w := get("/api/v1/health/deep")

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		checks := resp["checks"].(map[string]any)
		redis := checks["redis"].(map[string]any)
		Expect(redis["status"]).To(Equal("up"))
	})

	It("returns 503 when a dependency is down", func() {
		setup(map[string]handler.Pinger{
			"redis":    handler.PingerFunc(func(_ context.Context) error { return nil }),
			"postgres": handler.PingerFunc(func(_ context.Context) error { return errors.New("connection refused") }),
		})
		w := get("/api/v1/health/deep")

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("degraded"))
		checks := resp["checks"].(map[string]any)
		postgres := checks["postgres"].(map[string]any)
		Expect(postgres["status"]).To(Equal("down"))
	})
})
