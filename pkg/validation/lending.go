package validation

import (
	"fmt"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

var standardLoanTerms = map[int]bool{10: true, 15: true, 20: true, 30: true}

// LendingValidator checks loan approval reports. An unapproved loan is a
// hard error: the transaction cannot close without financing.
type LendingValidator struct{}

func (LendingValidator) Type() contracts.VerificationType { return contracts.Lending }

func (LendingValidator) Validate(report *contracts.VerificationReport, _ Context) Result {
	errs, reject := structuralGate(report, contracts.Lending)
	if reject != nil {
		return *reject
	}

	var warns []string
	needsReview := false
	findings := report.Findings

	if approved, ok := getBool(findings, "loan_approved"); ok && !approved {
		errs = append(errs, "loan_approved is false: financing was not approved")
	}

	if _, present := findings["loan_amount"]; present {
		if amount, ok := getNumber(findings, "loan_amount"); !ok || amount <= 0 {
			errs = append(errs, "loan_amount must be a positive number")
		}
	}

	if down, ok := getNumber(findings, "down_payment_percent"); ok {
		if down < 3 {
			warns = append(warns, fmt.Sprintf("down payment %.1f%% is below 3%%", down))
		} else if down > 50 {
			warns = append(warns, fmt.Sprintf("down payment %.1f%% is unusually high (above 50%%)", down))
		}
	}

	if _, present := findings["interest_rate"]; present {
		rate, ok := getNumber(findings, "interest_rate")
		switch {
		case !ok, rate <= 0, rate > 20:
			errs = append(errs, "interest_rate must be in (0, 20]")
		case rate > 10:
			warns = append(warns, fmt.Sprintf("interest rate %.2f%% is above 10%%", rate))
		}
	}

	if term, ok := getNumber(findings, "loan_term_years"); ok && !standardLoanTerms[int(term)] {
		warns = append(warns, fmt.Sprintf("loan term %d years is non-standard (expected 10/15/20/30)", int(term)))
	}

	if conditions, ok := getSlice(findings, "conditions"); ok && len(conditions) > 0 {
		warns = append(warns, fmt.Sprintf("loan carries %d underwriting condition(s)", len(conditions)))
		needsReview = true
	}

	if required, ok := getBool(findings, "appraisal_required"); ok && required {
		if received, ok := getBool(findings, "appraisal_received"); !ok || !received {
			errs = append(errs, "appraisal_required is true but appraisal_received is not")
		}
	}

	warns = documentsWarning(report, warns)
	return decide(errs, warns, needsReview)
}
