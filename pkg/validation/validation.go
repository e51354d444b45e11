// Package validation implements the per-type verification report
// validators. Validators are pure: they never touch storage, never call
// out, and report business outcomes through Result rather than errors.
//
// Validation runs in two phases. A structural gate (type match, non-empty
// findings, required keys, JSON-Schema type check) rejects malformed
// reports outright; business rules then grade the content into
// APPROVED, NEEDS_REVIEW, or REJECTED with actionable reasons.
package validation

import (
	"fmt"
	"strconv"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
)

// Result is the outcome of validating one report.
type Result struct {
	Valid    bool                   `json:"is_valid"`
	Status   contracts.ReportStatus `json:"status"`
	Errors   []string               `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Context carries transaction-level facts some validators need.
type Context struct {
	// PurchasePrice enables the appraisal variance check when present.
	PurchasePrice *money.Money
}

// Validator checks one verification type.
type Validator interface {
	Type() contracts.VerificationType
	Validate(report *contracts.VerificationReport, vctx Context) Result
}

// ForType returns the validator for a verification type.
func ForType(t contracts.VerificationType) (Validator, error) {
	switch t {
	case contracts.TitleSearch:
		return TitleValidator{}, nil
	case contracts.Inspection:
		return InspectionValidator{}, nil
	case contracts.Appraisal:
		return AppraisalValidator{}, nil
	case contracts.Lending:
		return LendingValidator{}, nil
	default:
		return nil, fmt.Errorf("no validator for verification type %q", t)
	}
}

// maxWarningsForApproval: more warnings than this forces NEEDS_REVIEW
// even when no hard error fired.
const maxWarningsForApproval = 2

// decide applies the shared final status rule: any error rejects;
// otherwise too many warnings or an explicit review condition demotes to
// NEEDS_REVIEW; otherwise approved.
func decide(errs, warns []string, needsReview bool) Result {
	if len(errs) > 0 {
		return Result{Valid: false, Status: contracts.ReportRejected, Errors: errs, Warnings: warns}
	}
	if needsReview || len(warns) > maxWarningsForApproval {
		return Result{Valid: true, Status: contracts.ReportNeedsReview, Warnings: warns}
	}
	return Result{Valid: true, Status: contracts.ReportApproved, Warnings: warns}
}

// documentsWarning appends the missing-documents warning. Absent
// supporting documents are always a warning, never an error.
func documentsWarning(report *contracts.VerificationReport, warns []string) []string {
	if len(report.Documents) == 0 {
		return append(warns, "no supporting documents attached")
	}
	return warns
}

// --- findings accessors ---

func getBool(findings map[string]any, key string) (bool, bool) {
	v, ok := findings[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func getString(findings map[string]any, key string) (string, bool) {
	v, ok := findings[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// getNumber accepts JSON numbers, native Go integers, and numeric
// strings; agents are loose about how they encode amounts.
func getNumber(findings map[string]any, key string) (float64, bool) {
	v, ok := findings[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func getSlice(findings map[string]any, key string) ([]any, bool) {
	v, ok := findings[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}
