package model

// StaffStatus 员工状态
type StaffStatus string

const (
	StaffActive   StaffStatus = "active"
	StaffInactive StaffStatus = "inactive"
	StaffLeave    StaffStatus = "leave"
)

// Staff 护理人员（外部协作方的只读记录）
type Staff struct {
	ID         string      `json:"id" db:"id"`
	Name       string      `json:"name" db:"name"`
	LocationID string      `json:"location_id" db:"location_id"`
	Role       string      `json:"role" db:"role"`
	Status     StaffStatus `json:"status" db:"status"`
	Skills     []string    `json:"skills,omitempty" db:"skills"`
}

// IsActive 检查员工是否在职
func (s *Staff) IsActive() bool {
	return s.Status == StaffActive
}

// Patient 患者（外部协作方的只读记录）
type Patient struct {
	ID                 string   `json:"id" db:"id"`
	Name               string   `json:"name" db:"name"`
	LocationID         string   `json:"location_id" db:"location_id"`
	PrimaryTherapistID string   `json:"primary_therapist_id,omitempty" db:"primary_therapist_id"`
	PreferredStaffIDs  []string `json:"preferred_staff_ids,omitempty" db:"preferred_staff_ids"`
	ExcludedStaffIDs   []string `json:"excluded_staff_ids,omitempty" db:"excluded_staff_ids"`
	Status             string   `json:"status" db:"status"`
}

// IsExcluded 员工是否被患者排除
func (p *Patient) IsExcluded(staffID string) bool {
	if p == nil {
		return false
	}
	return containsID(p.ExcludedStaffIDs, staffID)
}
