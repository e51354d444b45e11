package contracts

import (
	"time"

	"github.com/clearhold-labs/clearhold/core/pkg/money"
)

// VerificationType identifies which kind of agent a task is assigned to.
type VerificationType string

const (
	TitleSearch VerificationType = "TITLE_SEARCH"
	Inspection  VerificationType = "INSPECTION"
	Appraisal   VerificationType = "APPRAISAL"
	Lending     VerificationType = "LENDING"
)

// AllVerificationTypes lists the four types in assignment-priority order.
var AllVerificationTypes = []VerificationType{TitleSearch, Inspection, Appraisal, Lending}

// verificationDeps is the inter-agent dependency table. A task may not
// be assigned until every listed dependency type has a COMPLETED task on
// the same transaction.
var verificationDeps = map[VerificationType][]VerificationType{
	TitleSearch: nil,
	Inspection:  nil,
	Appraisal:   {Inspection},
	Lending:     {TitleSearch, Appraisal},
}

// Dependencies returns the verification types that must be COMPLETED
// before a task of type t may be assigned.
func (t VerificationType) Dependencies() []VerificationType {
	return verificationDeps[t]
}

// TaskState is the lifecycle state of a verification task.
type TaskState string

const (
	TaskPending    TaskState = "PENDING"
	TaskInProgress TaskState = "IN_PROGRESS"
	TaskSubmitted  TaskState = "SUBMITTED"
	TaskCompleted  TaskState = "COMPLETED"
	TaskRejected   TaskState = "REJECTED"
	TaskExpired    TaskState = "EXPIRED"
)

// Terminal reports whether the task state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskRejected || s == TaskExpired
}

// VerificationTask is one unit of verification work assigned to an agent.
type VerificationTask struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id"`
	Type          VerificationType `json:"type"`
	AgentID       string           `json:"agent_id"`
	Deadline      time.Time        `json:"deadline"`
	PaymentAmount money.Money      `json:"payment_amount"`
	Requirements  map[string]any   `json:"requirements,omitempty"`
	State         TaskState        `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ReportStatus is the review status of a submitted verification report.
type ReportStatus string

const (
	ReportNeedsReview ReportStatus = "NEEDS_REVIEW"
	ReportApproved    ReportStatus = "APPROVED"
	ReportRejected    ReportStatus = "REJECTED"
)

// Terminal reports whether the report status is final.
func (s ReportStatus) Terminal() bool {
	return s == ReportApproved || s == ReportRejected
}

// VerificationReport is the structured result an agent submits for a
// task. Findings are a semi-structured payload specific to the report
// type; the matching validator owns structural and business checks.
// Status is set exclusively through the submission flow.
type VerificationReport struct {
	ID            string           `json:"id"`
	TaskID        string           `json:"task_id"`
	AgentID       string           `json:"agent_id"`
	Type          VerificationType `json:"report_type"`
	Findings      map[string]any   `json:"findings"`
	Documents     []string         `json:"documents,omitempty"`
	Status        ReportStatus     `json:"status"`
	ReviewerNotes string           `json:"reviewer_notes,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
}

// TaskDetails is the execution envelope handed to an agent.
type TaskDetails struct {
	TaskID        string         `json:"task_id"`
	TransactionID string         `json:"transaction_id"`
	PropertyID    string         `json:"property_id"`
	Deadline      time.Time      `json:"deadline"`
	PaymentAmount money.Money    `json:"payment_amount"`
	Requirements  map[string]any `json:"requirements,omitempty"`
}
