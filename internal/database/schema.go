package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema 覆盖服务的表结构，可重复执行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL,
		primary_therapist_id TEXT,
		preferred_staff_ids TEXT[] NOT NULL DEFAULT '{}',
		excluded_staff_ids TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patients_location ON patients (location_id)`,

	`CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		skills TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_staff_location ON staff (location_id)`,

	`CREATE TABLE IF NOT EXISTS time_blocks (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		template_id TEXT,
		date DATE NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL,
		service_type TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		can_split BOOLEAN NOT NULL DEFAULT FALSE,
		minimum_continuous_minutes INTEGER NOT NULL DEFAULT 0,
		requires_primary_therapist BOOLEAN NOT NULL DEFAULT FALSE,
		allow_substitutions BOOLEAN NOT NULL DEFAULT TRUE,
		preferred_staff_ids TEXT[] NOT NULL DEFAULT '{}',
		excluded_staff_ids TEXT[] NOT NULL DEFAULT '{}',
		assignment_status TEXT NOT NULL DEFAULT 'unassigned',
		coverage_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_time_blocks_patient_date ON time_blocks (patient_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_time_blocks_location_date ON time_blocks (location_id, date)`,

	`CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		time_block_id TEXT REFERENCES time_blocks (id),
		patient_id TEXT NOT NULL,
		date DATE NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_staff_date ON assignments (staff_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_patient_date ON assignments (patient_id, date)`,

	`CREATE TABLE IF NOT EXISTS coverage_records (
		patient_id TEXT NOT NULL,
		date DATE NOT NULL,
		location_id TEXT NOT NULL DEFAULT '',
		block_count INTEGER NOT NULL,
		total_required_minutes INTEGER NOT NULL,
		covered_minutes INTEGER NOT NULL,
		coverage_percentage DOUBLE PRECISION NOT NULL,
		gap_count INTEGER NOT NULL,
		total_gap_minutes INTEGER NOT NULL,
		alert_level TEXT NOT NULL,
		requires_attention BOOLEAN NOT NULL,
		recommendations TEXT[] NOT NULL DEFAULT '{}',
		generated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (patient_id, date)
	)`,
}

// Migrate 创建表结构
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行第 %d 条建表语句失败: %w", i+1, err)
		}
	}
	return nil
}
