package validation

import (
	"fmt"
	"math"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

var validAppraisalMethods = map[string]bool{
	"sales_comparison": true,
	"cost_approach":    true,
	"income_approach":  true,
	"hybrid":           true,
}

// comparableFields are required on each comparable-sale entry.
var comparableFields = []string{"address", "sale_price", "sale_date", "square_feet"}

// varianceWarningRatio: appraisals more than 10% away from the purchase
// price get flagged for a human, never auto-rejected.
const varianceWarningRatio = 0.10

const minComparables = 3

// AppraisalValidator checks appraisal reports, including the variance
// of the appraised value against the transaction's purchase price.
type AppraisalValidator struct{}

func (AppraisalValidator) Type() contracts.VerificationType { return contracts.Appraisal }

func (AppraisalValidator) Validate(report *contracts.VerificationReport, vctx Context) Result {
	errs, reject := structuralGate(report, contracts.Appraisal)
	if reject != nil {
		return *reject
	}

	var warns []string
	findings := report.Findings

	if _, present := findings["appraised_value"]; present {
		value, ok := getNumber(findings, "appraised_value")
		switch {
		case !ok:
			errs = append(errs, "appraised_value does not parse as a decimal")
		case value <= 0:
			errs = append(errs, "appraised_value must be positive")
		case vctx.PurchasePrice != nil && vctx.PurchasePrice.IsPositive():
			purchase := float64(vctx.PurchasePrice.AmountMinor) / 100
			variance := math.Abs(value-purchase) / purchase
			if variance > varianceWarningRatio {
				warns = append(warns, fmt.Sprintf(
					"appraised value %.2f deviates %.1f%% from purchase price %.2f",
					value, variance*100, purchase))
			}
		}
	}

	if method, ok := getString(findings, "appraisal_method"); ok && !validAppraisalMethods[method] {
		errs = append(errs, fmt.Sprintf("appraisal_method %q is not a recognized method", method))
	}

	if comps, ok := getSlice(findings, "comparable_properties"); ok {
		for i, c := range comps {
			entry, isMap := c.(map[string]any)
			if !isMap {
				errs = append(errs, fmt.Sprintf("comparable_properties[%d] is not an object", i))
				continue
			}
			for _, f := range comparableFields {
				if _, present := entry[f]; !present {
					errs = append(errs, fmt.Sprintf("comparable_properties[%d] missing field: %s", i, f))
				}
			}
		}
		if len(comps) < minComparables {
			warns = append(warns, fmt.Sprintf("only %d comparable propertie(s); %d or more expected", len(comps), minComparables))
		}
	}

	warns = documentsWarning(report, warns)
	return decide(errs, warns, false)
}
