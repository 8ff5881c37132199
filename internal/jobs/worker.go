package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/paiban/carecover/internal/metrics"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/model"
)

// Recomputer 执行重算的服务
type Recomputer interface {
	RecomputeCoverage(ctx context.Context, patientID, date string) (*model.CoverageRecord, error)
	RecomputeLocation(ctx context.Context, locationID string, dr model.DateRange) (int, error)
}

// Handler 任务处理器
type Handler struct {
	svc     Recomputer
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHandler 创建任务处理器
func NewHandler(svc Recomputer, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, metrics: m, log: log.With().Str("component", "worker").Logger()}
}

// Mux 注册全部任务类型
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRecompute, h.handleRecompute)
	mux.HandleFunc(TypeRecomputeLocation, h.handleLocation)
	return mux
}

func (h *Handler) handleRecompute(ctx context.Context, t *asynq.Task) error {
	var p RecomputePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.metrics.Job(t.Type(), err)
		return fmt.Errorf("无效的任务数据: %v: %w", err, asynq.SkipRetry)
	}

	rec, err := h.svc.RecomputeCoverage(ctx, p.PatientID, p.Date)
	h.metrics.Job(t.Type(), err)
	if err != nil {
		return h.retryable(t, err)
	}
	h.log.Debug().
		Str("patient_id", p.PatientID).
		Str("date", p.Date).
		Str("alert_level", string(rec.AlertLevel)).
		Msg("重算任务完成")
	return nil
}

func (h *Handler) handleLocation(ctx context.Context, t *asynq.Task) error {
	var p LocationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.metrics.Job(t.Type(), err)
		return fmt.Errorf("无效的任务数据: %v: %w", err, asynq.SkipRetry)
	}

	n, err := h.svc.RecomputeLocation(ctx, p.LocationID, p.DateRange)
	h.metrics.Job(t.Type(), err)
	if err != nil {
		return h.retryable(t, err)
	}
	h.log.Info().
		Str("location_id", p.LocationID).
		Str("start_date", p.DateRange.StartDate).
		Str("end_date", p.DateRange.EndDate).
		Int("patient_days", n).
		Msg("机构重算任务完成")
	return nil
}

// retryable 参数错误和资源不存在不重试
func (h *Handler) retryable(t *asynq.Task, err error) error {
	h.log.Error().Err(err).Str("type", t.Type()).Msg("任务执行失败")
	switch apperrors.GetCode(err) {
	case apperrors.CodeNotFound, apperrors.CodeInvalidInput, apperrors.CodeValidationFail:
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// NewServer 创建 asynq 服务端
func NewServer(opt asynq.RedisClientOpt, concurrency int, queue string, log zerolog.Logger) *asynq.Server {
	if queue == "" {
		queue = "default"
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      &asynqLogger{log: log.With().Str("component", "asynq").Logger()},
	})
}

// asynqLogger 把 asynq 日志转到 zerolog
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
