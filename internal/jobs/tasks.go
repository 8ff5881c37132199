// Package jobs 覆盖记录的后台重算任务
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/paiban/carecover/internal/config"
	"github.com/paiban/carecover/pkg/model"
)

const (
	TypeRecompute         = "coverage:recompute"
	TypeRecomputeLocation = "coverage:recompute_location"
)

// RecomputePayload 患者某日的重算任务
type RecomputePayload struct {
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`
}

// LocationPayload 机构日期范围的重算任务
type LocationPayload struct {
	LocationID string          `json:"location_id"`
	DateRange  model.DateRange `json:"date_range"`
}

// NewRecomputeTask 创建患者某日的重算任务
func NewRecomputeTask(p RecomputePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecompute, b), nil
}

// NewLocationTask 创建机构重算任务
func NewLocationTask(p LocationPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecomputeLocation, b), nil
}

// RecomputeTaskID 患者某日重算任务的去重 ID
func RecomputeTaskID(patientID, date string) string {
	return TypeRecompute + ":" + patientID + ":" + date
}

// LocationTaskID 机构重算任务的去重 ID
func LocationTaskID(locationID string, dr model.DateRange) string {
	return TypeRecomputeLocation + ":" + locationID + ":" + dr.StartDate + ":" + dr.EndDate
}

// Enqueuer 基于 asynq 的任务投递
type Enqueuer struct {
	client    *asynq.Client
	inspector *asynq.Inspector // 为 nil 时 ID 冲突一律视为已合并
	queue     string
	maxRetry  int
	log       zerolog.Logger
}

// NewEnqueuer 创建任务投递器
func NewEnqueuer(client *asynq.Client, inspector *asynq.Inspector, cfg config.QueueConfig, log zerolog.Logger) *Enqueuer {
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	return &Enqueuer{
		client:    client,
		inspector: inspector,
		queue:     queue,
		maxRetry:  cfg.MaxRetry,
		log:       log.With().Str("component", "jobs").Logger(),
	}
}

// EnqueueRecompute 投递患者某日的重算
func (e *Enqueuer) EnqueueRecompute(ctx context.Context, patientID, date string) error {
	task, err := NewRecomputeTask(RecomputePayload{PatientID: patientID, Date: date})
	if err != nil {
		return fmt.Errorf("创建重算任务失败: %w", err)
	}
	return e.enqueueOnce(ctx, task, RecomputeTaskID(patientID, date))
}

// EnqueueRecomputeLocation 投递机构日期范围的重算
func (e *Enqueuer) EnqueueRecomputeLocation(ctx context.Context, locationID string, dr model.DateRange) error {
	task, err := NewLocationTask(LocationPayload{LocationID: locationID, DateRange: dr})
	if err != nil {
		return fmt.Errorf("创建机构重算任务失败: %w", err)
	}
	return e.enqueueOnce(ctx, task, LocationTaskID(locationID, dr))
}

// enqueueOnce 同一 ID 只合并到尚未开始执行的任务
// 已在执行或已归档的任务读到的是写入前的数据，此时改用后备槽位；
// 后备槽位也在执行时不再去重
func (e *Enqueuer) enqueueOnce(ctx context.Context, task *asynq.Task, id string) error {
	for _, slot := range []string{id, id + ":next"} {
		err := e.enqueue(ctx, task, asynq.TaskID(slot))
		if !errors.Is(err, asynq.ErrTaskIDConflict) {
			return err
		}
		waiting, err := e.waiting(slot)
		if err != nil {
			return err
		}
		if waiting {
			e.log.Debug().Str("task_id", slot).Str("type", task.Type()).Msg("任务已在排队，合并")
			return nil
		}
	}
	return e.enqueue(ctx, task)
}

// waiting 任务是否还未开始执行，重试中的任务会重新读取数据
func (e *Enqueuer) waiting(id string) (bool, error) {
	if e.inspector == nil {
		return true, nil
	}
	info, err := e.inspector.GetTaskInfo(e.queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询任务状态失败: %w", err)
	}
	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return true, nil
	default:
		return false, nil
	}
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	opts = append(opts, asynq.Queue(e.queue), asynq.MaxRetry(e.maxRetry))
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	e.log.Debug().Str("task_id", info.ID).Str("type", task.Type()).Str("queue", info.Queue).Msg("任务已入队")
	return nil
}
