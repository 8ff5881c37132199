package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/carecover/pkg/model"
)

func TestMemoryStore_TimeBlocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b1 := &model.TimeBlock{PatientID: "p-1", LocationID: "loc-1", Date: "2026-03-03", StartTime: start.AddDate(0, 0, 1), EndTime: end.AddDate(0, 0, 1)}
	b2 := &model.TimeBlock{PatientID: "p-1", LocationID: "loc-1", Date: "2026-03-02", StartTime: start, EndTime: end}
	b3 := &model.TimeBlock{PatientID: "p-2", LocationID: "loc-2", Date: "2026-03-02", StartTime: start, EndTime: end}
	for _, b := range []*model.TimeBlock{b1, b2, b3} {
		require.NoError(t, store.CreateTimeBlock(ctx, b))
		assert.NotEmpty(t, b.ID)
	}

	blocks, err := store.ListTimeBlocksByPatient(ctx, "p-1", week)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, b2.ID, blocks[0].ID, "按日期排序")

	byLoc, _ := store.ListTimeBlocksByLocation(ctx, "loc-2", week)
	assert.Len(t, byLoc, 1)

	outside, _ := store.ListTimeBlocksByPatient(ctx, "p-1", model.DateRange{StartDate: "2026-04-01", EndDate: "2026-04-02"})
	assert.Empty(t, outside)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b := &model.TimeBlock{PatientID: "p-1", Date: "2026-03-02", PreferredStaffIDs: []string{"s-1"}}
	require.NoError(t, store.CreateTimeBlock(ctx, b))

	// 修改调用方持有的对象不影响已存储的数据
	b.PreferredStaffIDs[0] = "s-9"
	b.AssignmentStatus = model.BlockAssigned

	got, err := store.GetTimeBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, got.PreferredStaffIDs)
	assert.Equal(t, model.BlockStatus(""), got.AssignmentStatus)

	got.AssignmentStatus = model.BlockPartial
	again, _ := store.GetTimeBlock(ctx, b.ID)
	assert.Equal(t, model.BlockStatus(""), again.AssignmentStatus)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b, err := store.GetTimeBlock(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, b)

	a, err := store.GetAssignment(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, a)

	rec, err := store.GetCoverageRecord(ctx, "p-1", "2026-03-02")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemoryStore_Assignments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SavePatient(ctx, &model.Patient{ID: "p-1", LocationID: "loc-1"}))
	require.NoError(t, store.SavePatient(ctx, &model.Patient{ID: "p-2", LocationID: "loc-2"}))

	a1 := &model.Assignment{StaffID: "s-1", PatientID: "p-1", Date: "2026-03-02", StartTime: start, EndTime: end}
	a2 := &model.Assignment{StaffID: "s-2", PatientID: "p-2", Date: "2026-03-02", StartTime: start, EndTime: end}
	a3 := &model.Assignment{StaffID: "s-1", PatientID: "p-2", Date: "2026-03-10", StartTime: start, EndTime: end}
	for _, a := range []*model.Assignment{a1, a2, a3} {
		require.NoError(t, store.CreateAssignment(ctx, a))
	}

	byStaff, _ := store.ListAssignmentsByStaff(ctx, "s-1", week)
	assert.Len(t, byStaff, 1)

	byIDs, _ := store.ListAssignmentsByStaffIDs(ctx, []string{"s-1", "s-2"}, week)
	assert.Len(t, byIDs, 2)

	byLoc, _ := store.ListAssignmentsByLocation(ctx, "loc-1", week)
	require.Len(t, byLoc, 1)
	assert.Equal(t, a1.ID, byLoc[0].ID)

	a1.Status = model.AssignmentCancelled
	require.NoError(t, store.UpdateAssignment(ctx, a1))
	got, _ := store.GetAssignment(ctx, a1.ID)
	assert.Equal(t, model.AssignmentCancelled, got.Status)
}

func TestMemoryStore_CoverageUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertCoverageRecord(ctx, &model.CoverageRecord{PatientID: "p-1", Date: "2026-03-02", AlertLevel: model.AlertCritical}))
	require.NoError(t, store.UpsertCoverageRecord(ctx, &model.CoverageRecord{PatientID: "p-1", Date: "2026-03-02", AlertLevel: model.AlertNone}))
	require.NoError(t, store.UpsertCoverageRecord(ctx, &model.CoverageRecord{PatientID: "p-1", Date: "2026-03-01", AlertLevel: model.AlertLow}))

	records, err := store.ListCoverageRecords(ctx, "p-1", week)
	require.NoError(t, err)
	require.Len(t, records, 2, "同一患者同一日期只保留一条")
	assert.Equal(t, "2026-03-01", records[0].Date)
	assert.Equal(t, model.AlertNone, records[1].AlertLevel)
}

func TestMemoryStore_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	kept := &model.TimeBlock{PatientID: "p-1", Date: "2026-03-02", StartTime: start, EndTime: end, AssignmentStatus: model.BlockUnassigned}
	require.NoError(t, store.CreateTimeBlock(ctx, kept))

	err := store.WithTx(ctx, func(tx Store) error {
		extra := &model.TimeBlock{PatientID: "p-1", Date: "2026-03-03", StartTime: start.AddDate(0, 0, 1), EndTime: end.AddDate(0, 0, 1)}
		if err := tx.CreateTimeBlock(ctx, extra); err != nil {
			return err
		}
		changed := *kept
		changed.AssignmentStatus = model.BlockCancelled
		if err := tx.UpdateTimeBlock(ctx, &changed); err != nil {
			return err
		}
		return errors.New("写入失败")
	})
	require.Error(t, err)

	blocks, err := store.ListTimeBlocksByPatient(ctx, "p-1", week)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, model.BlockUnassigned, blocks[0].AssignmentStatus)

	// 成功时保留写入
	require.NoError(t, store.WithTx(ctx, func(tx Store) error {
		return tx.CreateTimeBlock(ctx, &model.TimeBlock{PatientID: "p-1", Date: "2026-03-04", StartTime: start.AddDate(0, 0, 2), EndTime: end.AddDate(0, 0, 2)})
	}))
	blocks, _ = store.ListTimeBlocksByPatient(ctx, "p-1", week)
	assert.Len(t, blocks, 2)
}
