package validation

import (
	"fmt"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

// TitleValidator checks title search reports: an unbroken chain of
// title, and consistency between the has_issues flag and the issue list.
type TitleValidator struct{}

func (TitleValidator) Type() contracts.VerificationType { return contracts.TitleSearch }

func (TitleValidator) Validate(report *contracts.VerificationReport, _ Context) Result {
	errs, reject := structuralGate(report, contracts.TitleSearch)
	if reject != nil {
		return *reject
	}

	var warns []string
	needsReview := false
	findings := report.Findings

	if chain, ok := getSlice(findings, "chain_of_title"); ok && len(chain) == 0 {
		errs = append(errs, "chain_of_title must be a non-empty ordered list")
	}

	if hasIssues, ok := getBool(findings, "has_issues"); ok && hasIssues {
		issues, _ := getSlice(findings, "issues")
		if len(issues) == 0 {
			errs = append(errs, "has_issues is true but no issues listed")
		} else {
			// Unresolved title issues demand a human look, but they are
			// not grounds for rejecting an otherwise sound report.
			warns = append(warns, fmt.Sprintf("%d unresolved title issue(s) reported", len(issues)))
			needsReview = true
		}
	}

	if liens, ok := getSlice(findings, "liens"); ok && len(liens) > 0 {
		warns = append(warns, fmt.Sprintf("%d lien(s) recorded against the property", len(liens)))
	}

	warns = documentsWarning(report, warns)
	return decide(errs, warns, needsReview)
}
