package buildout

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestSubmitted RequestStatus = "submitted"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCanceled  RequestStatus = "canceled"
)

var RequestStatuses = []string{
	string(RequestSubmitted), string(RequestApproved), string(RequestRejected), string(RequestCanceled),
}

// Open requests count against the one-open-request-per-location rule.
func (s RequestStatus) Open() bool {
	return s == RequestSubmitted || s == RequestApproved
}

type ProjectStatus string

const (
	ProjectPlanned    ProjectStatus = "planned"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectBlocked    ProjectStatus = "blocked"
	ProjectReady      ProjectStatus = "ready"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCanceled   ProjectStatus = "canceled"
)

var ProjectStatuses = []string{
	string(ProjectPlanned), string(ProjectInProgress), string(ProjectBlocked),
	string(ProjectReady), string(ProjectCompleted), string(ProjectCanceled),
}

func (s ProjectStatus) Valid() bool {
	for _, v := range ProjectStatuses {
		if string(s) == v {
			return true
		}
	}
	return false
}

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneBlocked    MilestoneStatus = "blocked"
	MilestoneCanceled   MilestoneStatus = "canceled"
)

var MilestoneStatuses = []string{
	string(MilestonePending), string(MilestoneInProgress), string(MilestoneCompleted),
	string(MilestoneBlocked), string(MilestoneCanceled),
}

func (s MilestoneStatus) Valid() bool {
	for _, v := range MilestoneStatuses {
		if string(s) == v {
			return true
		}
	}
	return false
}

// SystemActor is recorded as requested_by on automatically opened requests.
const SystemActor = "system"

// BuildoutRequest asks for a not-yet-ready area to be built out at a location.
type BuildoutRequest struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	QualificationID *uuid.UUID    `gorm:"type:uuid;index" json:"qualification_id,omitempty"`
	CoverageAreaID  *uuid.UUID    `gorm:"type:uuid;index:idx_buildout_request_location" json:"coverage_area_id,omitempty"`
	AddressID       *uuid.UUID    `gorm:"type:uuid;index:idx_buildout_request_location" json:"address_id,omitempty"`
	RequestedBy     string        `gorm:"not null" json:"requested_by"`
	Status          RequestStatus `gorm:"type:text;not null;default:'submitted';index" json:"status"`
	Notes           string        `json:"notes,omitempty"`
	DecidedBy       *string       `json:"decided_by,omitempty"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (BuildoutRequest) TableName() string {
	return "serviceability.buildout_requests"
}

// BuildoutProject tracks the capital work spawned by an approved request.
// ProgressPercent is operator-set and never derived from milestones.
type BuildoutProject struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	RequestID       *uuid.UUID    `gorm:"type:uuid;uniqueIndex" json:"request_id,omitempty"`
	CoverageAreaID  *uuid.UUID    `gorm:"type:uuid;index" json:"coverage_area_id,omitempty"`
	AddressID       *uuid.UUID    `gorm:"type:uuid;index" json:"address_id,omitempty"`
	Status          ProjectStatus `gorm:"type:text;not null;default:'planned';index" json:"status"`
	ProgressPercent int           `gorm:"not null;default:0" json:"progress_percent"`
	TargetReadyDate *time.Time    `json:"target_ready_date,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (BuildoutProject) TableName() string {
	return "serviceability.buildout_projects"
}

// BuildoutMilestone is a checklist item of a project. OrderIndex is a sort
// key and may repeat.
type BuildoutMilestone struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	ProjectID   uuid.UUID       `gorm:"type:uuid;not null;index:idx_milestone_order,priority:1" json:"project_id"`
	Name        string          `gorm:"not null" json:"name"`
	Status      MilestoneStatus `gorm:"type:text;not null;default:'pending'" json:"status"`
	OrderIndex  int             `gorm:"not null;default:0;index:idx_milestone_order,priority:2" json:"order_index"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (BuildoutMilestone) TableName() string {
	return "serviceability.buildout_milestones"
}

// BuildoutUpdate is one entry of a project's append-only log. Status is the
// project's status when the entry was written.
type BuildoutUpdate struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	ProjectID uuid.UUID     `gorm:"type:uuid;not null;index" json:"project_id"`
	Status    ProjectStatus `gorm:"type:text;not null" json:"status"`
	Message   string        `gorm:"not null" json:"message"`
	Author    string        `json:"author,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (BuildoutUpdate) TableName() string {
	return "serviceability.buildout_updates"
}
