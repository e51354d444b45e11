package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

// Field type constraints per verification type. Required keys are
// checked by hand first so every missing field is named individually;
// the schema then enforces the shape of whatever is present.
var findingsSchemas = map[contracts.VerificationType]string{
	contracts.TitleSearch: `{
		"type": "object",
		"properties": {
			"chain_of_title": {"type": "array"},
			"has_issues": {"type": "boolean"},
			"issues": {"type": "array", "items": {"type": "string"}},
			"liens": {"type": "array"}
		}
	}`,
	contracts.Inspection: `{
		"type": "object",
		"properties": {
			"areas_inspected": {"type": "array", "items": {"type": "string"}},
			"has_major_issues": {"type": "boolean"},
			"major_issues": {"type": "array", "items": {"type": "string"}},
			"minor_issues": {"type": "array", "items": {"type": "string"}},
			"overall_condition": {"type": "string"}
		}
	}`,
	contracts.Appraisal: `{
		"type": "object",
		"properties": {
			"appraised_value": {"type": ["number", "string"]},
			"appraisal_method": {"type": "string"},
			"comparable_properties": {"type": "array"}
		}
	}`,
	contracts.Lending: `{
		"type": "object",
		"properties": {
			"loan_approved": {"type": "boolean"},
			"loan_amount": {"type": ["number", "string"]},
			"down_payment_percent": {"type": ["number", "string"]},
			"interest_rate": {"type": ["number", "string"]},
			"loan_term_years": {"type": ["number", "string"]},
			"conditions": {"type": "array", "items": {"type": "string"}},
			"appraisal_required": {"type": "boolean"},
			"appraisal_received": {"type": "boolean"}
		}
	}`,
}

var requiredFindings = map[contracts.VerificationType][]string{
	contracts.TitleSearch: {"chain_of_title", "has_issues"},
	contracts.Inspection:  {"areas_inspected", "overall_condition", "has_major_issues"},
	contracts.Appraisal:   {"appraised_value", "appraisal_method", "comparable_properties"},
	contracts.Lending:     {"loan_approved", "loan_amount", "interest_rate", "loan_term_years"},
}

var compiledSchemas = map[contracts.VerificationType]*jsonschema.Schema{}

func init() {
	for vt, src := range findingsSchemas {
		c := jsonschema.NewCompiler()
		url := fmt.Sprintf("findings_%s.json", strings.ToLower(string(vt)))
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("validation: bad schema for %s: %v", vt, err))
		}
		compiledSchemas[vt] = c.MustCompile(url)
	}
}

// structuralGate performs the pre-business checks shared by every
// validator. It returns a rejection Result when the report cannot even
// be graded, or the list of structural errors to seed the business pass.
func structuralGate(report *contracts.VerificationReport, want contracts.VerificationType) (errs []string, reject *Result) {
	if report.Type != want {
		r := Result{
			Valid:  false,
			Status: contracts.ReportRejected,
			Errors: []string{fmt.Sprintf("report type %s does not match expected type %s", report.Type, want)},
		}
		return nil, &r
	}
	if len(report.Findings) == 0 {
		r := Result{
			Valid:  false,
			Status: contracts.ReportRejected,
			Errors: []string{"findings payload is empty"},
		}
		return nil, &r
	}

	for _, key := range requiredFindings[want] {
		if _, ok := report.Findings[key]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field: %s", key))
		}
	}

	errs = append(errs, schemaErrors(want, report.Findings)...)
	return errs, nil
}

// schemaErrors runs the findings payload through the compiled schema and
// flattens the leaf causes into readable messages.
func schemaErrors(vt contracts.VerificationType, findings map[string]any) []string {
	// Round-trip through JSON so native Go values (ints, typed slices)
	// become the generic shapes the schema engine expects.
	raw, err := json.Marshal(findings)
	if err != nil {
		return []string{fmt.Sprintf("findings not serializable: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("findings not serializable: %v", err)}
	}

	if err := compiledSchemas[vt].Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return flattenCauses(ve, nil)
		}
		return []string{err.Error()}
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func flattenCauses(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, fmt.Sprintf("field %s: %s", loc, ve.Message))
	}
	for _, c := range ve.Causes {
		out = flattenCauses(c, out)
	}
	return out
}
