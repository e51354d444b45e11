package validation

import (
	"fmt"
	"strings"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

// coreInspectionAreas are the systems every inspection should cover.
// Missing coverage is a warning, not an error.
var coreInspectionAreas = []string{"foundation", "roof", "electrical", "plumbing", "hvac"}

var validConditions = map[string]bool{
	"excellent": true,
	"good":      true,
	"fair":      true,
	"poor":      true,
}

// InspectionValidator checks property inspection reports.
type InspectionValidator struct{}

func (InspectionValidator) Type() contracts.VerificationType { return contracts.Inspection }

func (InspectionValidator) Validate(report *contracts.VerificationReport, _ Context) Result {
	errs, reject := structuralGate(report, contracts.Inspection)
	if reject != nil {
		return *reject
	}

	var warns []string
	needsReview := false
	findings := report.Findings

	if areas, ok := getSlice(findings, "areas_inspected"); ok {
		if len(areas) == 0 {
			errs = append(errs, "areas_inspected must not be empty")
		} else {
			covered := make(map[string]bool, len(areas))
			for _, a := range areas {
				if s, ok := a.(string); ok {
					covered[strings.ToLower(s)] = true
				}
			}
			for _, want := range coreInspectionAreas {
				if !covered[want] {
					warns = append(warns, fmt.Sprintf("core area not inspected: %s", want))
				}
			}
		}
	}

	if hasMajor, ok := getBool(findings, "has_major_issues"); ok && hasMajor {
		major, _ := getSlice(findings, "major_issues")
		if len(major) == 0 {
			errs = append(errs, "has_major_issues is true but no major issues listed")
		} else {
			warns = append(warns, fmt.Sprintf("%d major issue(s) found", len(major)))
			needsReview = true
		}
	}

	if minor, ok := getSlice(findings, "minor_issues"); ok && len(minor) > 0 {
		warns = append(warns, fmt.Sprintf("%d minor issue(s) found", len(minor)))
	}

	if cond, ok := getString(findings, "overall_condition"); ok && !validConditions[strings.ToLower(cond)] {
		errs = append(errs, fmt.Sprintf("overall_condition %q is not one of excellent/good/fair/poor", cond))
	}

	warns = documentsWarning(report, warns)
	return decide(errs, warns, needsReview)
}
