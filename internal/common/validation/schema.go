// Package validation checks assembled template variables against the
// variable contract of each provider template before sending.
package validation

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

// templateSchemas holds the JSON schema for each template key. Schemas only
// pin down the keys every template build must produce; individual values are
// allowed to be empty strings (missing sub-lookups degrade, they don't fail).
var templateSchemas = map[string]map[string]interface{}{
	"booking_confirmation": objectSchema(commonVariableKeys()),
	"booking_cancellation": objectSchema(append(commonVariableKeys(),
		"cancelled_by", "refund_amount", "refund_amount_cents")),
	"booking_reminder": objectSchema(commonVariableKeys()),
	"booking_followup": objectSchema(commonVariableKeys()),
}

func commonVariableKeys() []string {
	return []string{
		"seeker_name", "provider_name", "offering_title", "offering_type",
		"event_date", "event_time", "duration",
		"location_name", "location_address",
		"booking_id", "booking_reference",
		"base_price", "total_amount", "amount_cents", "currency",
	}
}

func objectSchema(required []string) map[string]interface{} {
	props := make(map[string]interface{}, len(required))
	for _, key := range required {
		switch key {
		case "amount_cents", "refund_amount_cents":
			props[key] = map[string]interface{}{"type": "integer"}
		default:
			props[key] = map[string]interface{}{"type": "string"}
		}
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": true,
	}
}

// ValidateTemplateData checks template variables against the schema for the
// given template key. Unknown template keys validate OK; there is nothing to
// hold them to.
func ValidateTemplateData(templateKey string, data map[string]interface{}) error {
	schemaMap, ok := templateSchemas[templateKey]
	if !ok {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("template data validation failed: %v", errs)
	}

	return nil
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	emailPattern := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailPattern.MatchString(email)
}
