package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/paiban/carecover/pkg/model"
)

// PostgresStore 基于 PostgreSQL 的存储实现
type PostgresStore struct {
	db DB
}

// NewPostgresStore 创建 PostgreSQL 存储
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// WithTx 底层连接支持事务时在事务内执行，否则直接执行
func (r *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	t, ok := r.db.(Transactor)
	if !ok {
		return fn(r)
	}
	return t.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

const timeBlockColumns = `
	id, patient_id, location_id, template_id, to_char(date, 'YYYY-MM-DD'), start_time, end_time,
	duration_minutes, service_type, priority, can_split, minimum_continuous_minutes,
	requires_primary_therapist, allow_substitutions, preferred_staff_ids, excluded_staff_ids,
	assignment_status, coverage_percentage, created_at, updated_at`

// CreateTimeBlock 创建时间块
func (r *PostgresStore) CreateTimeBlock(ctx context.Context, b *model.TimeBlock) error {
	if b.ID == "" {
		b.ID = model.NewID()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	query := `
		INSERT INTO time_blocks (
			id, patient_id, location_id, template_id, date, start_time, end_time,
			duration_minutes, service_type, priority, can_split, minimum_continuous_minutes,
			requires_primary_therapist, allow_substitutions, preferred_staff_ids, excluded_staff_ids,
			assignment_status, coverage_percentage, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.PatientID, b.LocationID, nullString(b.TemplateID), b.Date, b.StartTime, b.EndTime,
		b.DurationMinutes, b.ServiceType, b.Priority, b.CanSplit, b.MinimumContinuousMinutes,
		b.RequiresPrimaryTherapist, b.AllowSubstitutions, pq.Array(b.PreferredStaffIDs), pq.Array(b.ExcludedStaffIDs),
		b.AssignmentStatus, b.CoveragePercentage, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建时间块失败: %w", err)
	}
	return nil
}

// UpdateTimeBlock 更新时间块
func (r *PostgresStore) UpdateTimeBlock(ctx context.Context, b *model.TimeBlock) error {
	b.UpdatedAt = time.Now()

	query := `
		UPDATE time_blocks SET
			start_time = $2, end_time = $3, duration_minutes = $4, service_type = $5, priority = $6,
			can_split = $7, minimum_continuous_minutes = $8, requires_primary_therapist = $9,
			allow_substitutions = $10, preferred_staff_ids = $11, excluded_staff_ids = $12,
			assignment_status = $13, coverage_percentage = $14, updated_at = $15
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.StartTime, b.EndTime, b.DurationMinutes, b.ServiceType, b.Priority,
		b.CanSplit, b.MinimumContinuousMinutes, b.RequiresPrimaryTherapist,
		b.AllowSubstitutions, pq.Array(b.PreferredStaffIDs), pq.Array(b.ExcludedStaffIDs),
		b.AssignmentStatus, b.CoveragePercentage, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新时间块失败: %w", err)
	}
	return nil
}

// GetTimeBlock 根据ID获取时间块
func (r *PostgresStore) GetTimeBlock(ctx context.Context, id string) (*model.TimeBlock, error) {
	query := `SELECT ` + timeBlockColumns + ` FROM time_blocks WHERE id = $1`

	b, err := scanTimeBlock(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询时间块失败: %w", err)
	}
	return b, nil
}

// ListTimeBlocksByPatient 查询患者日期范围内的时间块
func (r *PostgresStore) ListTimeBlocksByPatient(ctx context.Context, patientID string, dr model.DateRange) ([]*model.TimeBlock, error) {
	query := `SELECT ` + timeBlockColumns + `
		FROM time_blocks
		WHERE patient_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_time`
	return r.queryTimeBlocks(ctx, query, patientID, dr.StartDate, dr.EndDate)
}

// ListTimeBlocksByLocation 查询机构日期范围内的时间块
func (r *PostgresStore) ListTimeBlocksByLocation(ctx context.Context, locationID string, dr model.DateRange) ([]*model.TimeBlock, error) {
	query := `SELECT ` + timeBlockColumns + `
		FROM time_blocks
		WHERE location_id = $1 AND date >= $2 AND date <= $3
		ORDER BY patient_id, date, start_time`
	return r.queryTimeBlocks(ctx, query, locationID, dr.StartDate, dr.EndDate)
}

func (r *PostgresStore) queryTimeBlocks(ctx context.Context, query string, args ...interface{}) ([]*model.TimeBlock, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询时间块列表失败: %w", err)
	}
	defer rows.Close()

	var blocks []*model.TimeBlock
	for rows.Next() {
		b, err := scanTimeBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描时间块失败: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历时间块失败: %w", err)
	}
	return blocks, nil
}

func scanTimeBlock(s Scanner) (*model.TimeBlock, error) {
	b := &model.TimeBlock{}
	var templateID sql.NullString
	err := s.Scan(
		&b.ID, &b.PatientID, &b.LocationID, &templateID, &b.Date, &b.StartTime, &b.EndTime,
		&b.DurationMinutes, &b.ServiceType, &b.Priority, &b.CanSplit, &b.MinimumContinuousMinutes,
		&b.RequiresPrimaryTherapist, &b.AllowSubstitutions, pq.Array(&b.PreferredStaffIDs), pq.Array(&b.ExcludedStaffIDs),
		&b.AssignmentStatus, &b.CoveragePercentage, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.TemplateID = templateID.String
	return b, nil
}

const assignmentColumns = `
	id, staff_id, time_block_id, patient_id, to_char(date, 'YYYY-MM-DD'), start_time, end_time,
	status, method, confidence_score, notes, created_at, updated_at`

// CreateAssignment 创建分配
func (r *PostgresStore) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	if a.ID == "" {
		a.ID = model.NewID()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO assignments (
			id, staff_id, time_block_id, patient_id, date, start_time, end_time,
			status, method, confidence_score, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.StaffID, nullString(a.TimeBlockID), a.PatientID, a.Date, a.StartTime, a.EndTime,
		a.Status, a.Method, a.ConfidenceScore, a.Notes, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建分配失败: %w", err)
	}
	return nil
}

// UpdateAssignment 更新分配的时间与状态
func (r *PostgresStore) UpdateAssignment(ctx context.Context, a *model.Assignment) error {
	a.UpdatedAt = time.Now()

	query := `
		UPDATE assignments SET
			start_time = $2, end_time = $3, status = $4, confidence_score = $5, notes = $6, updated_at = $7
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.StartTime, a.EndTime, a.Status, a.ConfidenceScore, a.Notes, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新分配失败: %w", err)
	}
	return nil
}

// GetAssignment 根据ID获取分配
func (r *PostgresStore) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`

	a, err := scanAssignment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询分配失败: %w", err)
	}
	return a, nil
}

// ListAssignmentsByPatient 查询患者日期范围内的分配
func (r *PostgresStore) ListAssignmentsByPatient(ctx context.Context, patientID string, dr model.DateRange) ([]*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE patient_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_time`
	return r.queryAssignments(ctx, query, patientID, dr.StartDate, dr.EndDate)
}

// ListAssignmentsByStaff 查询员工日期范围内的分配
func (r *PostgresStore) ListAssignmentsByStaff(ctx context.Context, staffID string, dr model.DateRange) ([]*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE staff_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_time`
	return r.queryAssignments(ctx, query, staffID, dr.StartDate, dr.EndDate)
}

// ListAssignmentsByStaffIDs 批量查询多名员工日期范围内的分配
func (r *PostgresStore) ListAssignmentsByStaffIDs(ctx context.Context, staffIDs []string, dr model.DateRange) ([]*model.Assignment, error) {
	if len(staffIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE staff_id = ANY($1) AND date >= $2 AND date <= $3
		ORDER BY date, start_time`
	return r.queryAssignments(ctx, query, pq.Array(staffIDs), dr.StartDate, dr.EndDate)
}

// ListAssignmentsByLocation 查询机构患者日期范围内的分配
func (r *PostgresStore) ListAssignmentsByLocation(ctx context.Context, locationID string, dr model.DateRange) ([]*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE patient_id IN (SELECT id FROM patients WHERE location_id = $1)
			AND date >= $2 AND date <= $3
		ORDER BY date, start_time`
	return r.queryAssignments(ctx, query, locationID, dr.StartDate, dr.EndDate)
}

func (r *PostgresStore) queryAssignments(ctx context.Context, query string, args ...interface{}) ([]*model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询分配列表失败: %w", err)
	}
	defer rows.Close()

	var assignments []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描分配失败: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历分配失败: %w", err)
	}
	return assignments, nil
}

func scanAssignment(s Scanner) (*model.Assignment, error) {
	a := &model.Assignment{}
	var blockID sql.NullString
	err := s.Scan(
		&a.ID, &a.StaffID, &blockID, &a.PatientID, &a.Date, &a.StartTime, &a.EndTime,
		&a.Status, &a.Method, &a.ConfidenceScore, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.TimeBlockID = blockID.String
	return a, nil
}

const coverageColumns = `
	patient_id, to_char(date, 'YYYY-MM-DD'), location_id, block_count, total_required_minutes,
	covered_minutes, coverage_percentage, gap_count, total_gap_minutes, alert_level,
	requires_attention, recommendations, generated_at`

// UpsertCoverageRecord 写入或替换患者某日的覆盖记录
func (r *PostgresStore) UpsertCoverageRecord(ctx context.Context, rec *model.CoverageRecord) error {
	query := `
		INSERT INTO coverage_records (
			patient_id, date, location_id, block_count, total_required_minutes,
			covered_minutes, coverage_percentage, gap_count, total_gap_minutes, alert_level,
			requires_attention, recommendations, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (patient_id, date) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			block_count = EXCLUDED.block_count,
			total_required_minutes = EXCLUDED.total_required_minutes,
			covered_minutes = EXCLUDED.covered_minutes,
			coverage_percentage = EXCLUDED.coverage_percentage,
			gap_count = EXCLUDED.gap_count,
			total_gap_minutes = EXCLUDED.total_gap_minutes,
			alert_level = EXCLUDED.alert_level,
			requires_attention = EXCLUDED.requires_attention,
			recommendations = EXCLUDED.recommendations,
			generated_at = EXCLUDED.generated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.PatientID, rec.Date, rec.LocationID, rec.BlockCount, rec.TotalRequiredMinutes,
		rec.CoveredMinutes, rec.CoveragePercentage, rec.GapCount, rec.TotalGapMinutes, rec.AlertLevel,
		rec.RequiresAttention, pq.Array(rec.Recommendations), rec.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("写入覆盖记录失败: %w", err)
	}
	return nil
}

// GetCoverageRecord 获取患者某日的覆盖记录
func (r *PostgresStore) GetCoverageRecord(ctx context.Context, patientID, date string) (*model.CoverageRecord, error) {
	query := `SELECT ` + coverageColumns + ` FROM coverage_records WHERE patient_id = $1 AND date = $2`

	rec, err := scanCoverageRecord(r.db.QueryRowContext(ctx, query, patientID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询覆盖记录失败: %w", err)
	}
	return rec, nil
}

// ListCoverageRecords 查询患者日期范围内的覆盖记录
func (r *PostgresStore) ListCoverageRecords(ctx context.Context, patientID string, dr model.DateRange) ([]*model.CoverageRecord, error) {
	query := `SELECT ` + coverageColumns + `
		FROM coverage_records
		WHERE patient_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date`

	rows, err := r.db.QueryContext(ctx, query, patientID, dr.StartDate, dr.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询覆盖记录列表失败: %w", err)
	}
	defer rows.Close()

	var records []*model.CoverageRecord
	for rows.Next() {
		rec, err := scanCoverageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描覆盖记录失败: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanCoverageRecord(s Scanner) (*model.CoverageRecord, error) {
	rec := &model.CoverageRecord{}
	err := s.Scan(
		&rec.PatientID, &rec.Date, &rec.LocationID, &rec.BlockCount, &rec.TotalRequiredMinutes,
		&rec.CoveredMinutes, &rec.CoveragePercentage, &rec.GapCount, &rec.TotalGapMinutes, &rec.AlertLevel,
		&rec.RequiresAttention, pq.Array(&rec.Recommendations), &rec.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SavePatient 写入或更新患者
func (r *PostgresStore) SavePatient(ctx context.Context, p *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, name, location_id, primary_therapist_id, preferred_staff_ids, excluded_staff_ids, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location_id = EXCLUDED.location_id,
			primary_therapist_id = EXCLUDED.primary_therapist_id,
			preferred_staff_ids = EXCLUDED.preferred_staff_ids,
			excluded_staff_ids = EXCLUDED.excluded_staff_ids,
			status = EXCLUDED.status
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.LocationID, nullString(p.PrimaryTherapistID),
		pq.Array(p.PreferredStaffIDs), pq.Array(p.ExcludedStaffIDs), p.Status,
	)
	if err != nil {
		return fmt.Errorf("保存患者失败: %w", err)
	}
	return nil
}

const patientColumns = `id, name, location_id, primary_therapist_id, preferred_staff_ids, excluded_staff_ids, status`

// GetPatient 根据ID获取患者
func (r *PostgresStore) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	p, err := scanPatient(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询患者失败: %w", err)
	}
	return p, nil
}

// ListPatientsByLocation 查询机构的患者
func (r *PostgresStore) ListPatientsByLocation(ctx context.Context, locationID string) ([]*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE location_id = $1 ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, fmt.Errorf("查询患者列表失败: %w", err)
	}
	defer rows.Close()

	var patients []*model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描患者失败: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func scanPatient(s Scanner) (*model.Patient, error) {
	p := &model.Patient{}
	var primary sql.NullString
	err := s.Scan(
		&p.ID, &p.Name, &p.LocationID, &primary,
		pq.Array(&p.PreferredStaffIDs), pq.Array(&p.ExcludedStaffIDs), &p.Status,
	)
	if err != nil {
		return nil, err
	}
	p.PrimaryTherapistID = primary.String
	return p, nil
}

// SaveStaff 写入或更新员工
func (r *PostgresStore) SaveStaff(ctx context.Context, s *model.Staff) error {
	query := `
		INSERT INTO staff (id, name, location_id, role, status, skills)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location_id = EXCLUDED.location_id,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			skills = EXCLUDED.skills
	`

	_, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.LocationID, s.Role, s.Status, pq.Array(s.Skills))
	if err != nil {
		return fmt.Errorf("保存员工失败: %w", err)
	}
	return nil
}

const staffColumns = `id, name, location_id, role, status, skills`

// GetStaff 根据ID获取员工
func (r *PostgresStore) GetStaff(ctx context.Context, id string) (*model.Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff WHERE id = $1`

	s, err := scanStaff(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询员工失败: %w", err)
	}
	return s, nil
}

// ListStaffByLocation 查询机构的员工
func (r *PostgresStore) ListStaffByLocation(ctx context.Context, locationID string) ([]*model.Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff WHERE location_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, fmt.Errorf("查询员工列表失败: %w", err)
	}
	defer rows.Close()

	var staff []*model.Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描员工失败: %w", err)
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}

func scanStaff(sc Scanner) (*model.Staff, error) {
	s := &model.Staff{}
	if err := sc.Scan(&s.ID, &s.Name, &s.LocationID, &s.Role, &s.Status, pq.Array(&s.Skills)); err != nil {
		return nil, err
	}
	return s, nil
}
