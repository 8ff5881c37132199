package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck 依赖的连通性检查
type HealthCheck func(ctx context.Context) error

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// SystemHandler 系统端点
type SystemHandler struct {
	service string
	build   BuildInfo
	checks  map[string]HealthCheck
}

// NewSystemHandler 创建系统端点处理器
func NewSystemHandler(service string, build BuildInfo, checks map[string]HealthCheck) *SystemHandler {
	return &SystemHandler{service: service, build: build, checks: checks}
}

// Register 注册 /health 和 /version
func (h *SystemHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /version", h.Version)
}

// Health 任一依赖不可用时返回 503
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       state,
		"service":      h.service,
		"dependencies": deps,
	})
}

// Version 版本信息
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.build)
}
