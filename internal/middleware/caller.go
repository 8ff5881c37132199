package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/paiban/carecover/pkg/access"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/logger"
)

const (
	HeaderCallerID        = "X-Caller-ID"
	HeaderCallerRole      = "X-Caller-Role"
	HeaderCallerLocations = "X-Caller-Locations" // 逗号分隔，"*" 表示不限机构，缺省时只有管理员可访问
)

type callerKey struct{}

// WithCaller 写入调用方
func WithCaller(ctx context.Context, c access.Caller) context.Context {
	ctx = logger.ContextWithCaller(ctx, c.ID)
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom 读取调用方
func CallerFrom(ctx context.Context) (access.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(access.Caller)
	return c, ok
}

// Caller 从上游网关注入的请求头解析调用方身份，skipPaths 前缀下的请求不要求身份
func Caller(skipPaths ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skipPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			id := strings.TrimSpace(r.Header.Get(HeaderCallerID))
			role := access.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderCallerRole))))
			if id == "" || role == "" {
				writeError(w, apperrors.ErrUnauthorized)
				return
			}
			if access.Resolve(role) == 0 {
				writeError(w, apperrors.New(apperrors.CodeUnauthorized, "未知角色").WithDetails(string(role)))
				return
			}

			var locations []string
			for _, loc := range strings.Split(r.Header.Get(HeaderCallerLocations), ",") {
				if loc = strings.TrimSpace(loc); loc != "" {
					locations = append(locations, loc)
				}
			}

			caller := access.NewCaller(id, role, locations...)
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
