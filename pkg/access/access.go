// Package access 定义调用方能力集合与权限判断
package access

import (
	"strings"

	apperrors "github.com/paiban/carecover/pkg/errors"
)

// Capability 单项能力
type Capability uint16

const (
	CapViewCoverage Capability = 1 << iota // 查看覆盖与缺口
	CapResolveGaps                         // 查看处理方案、自动处理缺口
	CapManualAssign                        // 手动分配、取消、调整分配
	CapAutoAssign                          // 批量自动分配
	CapViewLocation                        // 查看机构覆盖报表
	CapManageBlocks                        // 维护时间块与模板
)

var capabilityNames = map[Capability]string{
	CapViewCoverage: "view_coverage",
	CapResolveGaps:  "resolve_gaps",
	CapManualAssign: "manual_assign",
	CapAutoAssign:   "auto_assign",
	CapViewLocation: "view_location",
	CapManageBlocks: "manage_blocks",
}

// String 能力名称
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

// CapabilitySet 能力集合
type CapabilitySet uint16

// NewSet 由若干能力组成集合
func NewSet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has 是否包含能力
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// Names 能力名称列表
func (s CapabilitySet) Names() []string {
	var names []string
	for c := CapViewCoverage; c <= CapManageBlocks; c <<= 1 {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return names
}

// Role 调用方角色
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleBCBA      Role = "bcba"
	RoleScheduler Role = "scheduler"
	RoleTherapist Role = "therapist"
	RoleViewer    Role = "viewer"
)

var roleCapabilities = map[Role]CapabilitySet{
	RoleAdmin:     NewSet(CapViewCoverage, CapResolveGaps, CapManualAssign, CapAutoAssign, CapViewLocation, CapManageBlocks),
	RoleBCBA:      NewSet(CapViewCoverage, CapResolveGaps, CapManualAssign, CapAutoAssign, CapViewLocation),
	RoleScheduler: NewSet(CapViewCoverage, CapResolveGaps, CapManualAssign, CapAutoAssign, CapManageBlocks),
	RoleTherapist: NewSet(CapViewCoverage),
	RoleViewer:    NewSet(CapViewCoverage, CapViewLocation),
}

// Resolve 角色对应的能力集合，未知角色为空集
func Resolve(role Role) CapabilitySet {
	return roleCapabilities[Role(strings.ToLower(string(role)))]
}

// AllLocations 机构范围通配符
const AllLocations = "*"

// Caller 调用方身份，每次调用显式传入
type Caller struct {
	ID           string        `json:"id"`
	Role         Role          `json:"role"`
	Caps         CapabilitySet `json:"-"`
	LocationIDs  []string      `json:"location_ids,omitempty"`
	AllLocations bool          `json:"all_locations,omitempty"`
}

// NewCaller 按角色解析能力，locationIDs 含 "*" 时不限机构
func NewCaller(id string, role Role, locationIDs ...string) Caller {
	c := Caller{ID: id, Role: role, Caps: Resolve(role)}
	for _, loc := range locationIDs {
		if loc == AllLocations {
			c.AllLocations = true
			continue
		}
		c.LocationIDs = append(c.LocationIDs, loc)
	}
	return c
}

// InLocation 调用方是否可访问该机构
// 管理员与通配范围不受限，范围为空时拒绝
func (c Caller) InLocation(locationID string) bool {
	if c.AllLocations || Role(strings.ToLower(string(c.Role))) == RoleAdmin {
		return true
	}
	for _, id := range c.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

var policies = map[Capability]func(Caller) bool{
	CapViewCoverage: CanDetectGaps,
	CapResolveGaps:  CanResolve,
	CapManualAssign: CanManualAssign,
	CapAutoAssign:   CanAutoAssign,
	CapManageBlocks: CanManageBlocks,
	CapViewLocation: func(c Caller) bool { return c.Caps.Has(CapViewLocation) },
}

// Require 按能力对应的策略判断，不满足时返回 FORBIDDEN 并附带已有能力
func Require(c Caller, capability Capability) error {
	allowed, ok := policies[capability]
	if !ok || !allowed(c) {
		return apperrors.Forbidden(capability.String()).WithField("granted", c.Caps.Names())
	}
	return nil
}

// CanDetectGaps 查看患者缺口
func CanDetectGaps(c Caller) bool { return c.Caps.Has(CapViewCoverage) }

// CanResolve 查看方案或自动处理缺口
func CanResolve(c Caller) bool { return c.Caps.Has(CapResolveGaps) }

// CanManualAssign 手动分配
func CanManualAssign(c Caller) bool { return c.Caps.Has(CapManualAssign) }

// CanAutoAssign 批量自动分配
func CanAutoAssign(c Caller) bool { return c.Caps.Has(CapAutoAssign) }

// CanViewLocation 查看机构报表，受机构范围限制
func CanViewLocation(c Caller, locationID string) bool {
	return c.Caps.Has(CapViewLocation) && c.InLocation(locationID)
}

// CanManageBlocks 维护时间块
func CanManageBlocks(c Caller) bool { return c.Caps.Has(CapManageBlocks) }
