package schema

// Error plan defaults.
const (
	DefaultErrorDomain  = DomainFinance
	DefaultErrorDataset = DatasetInterest
	ErrorTypeValidation = "validation_error"
)

// BuildErrorPlan returns a schema-valid refusal plan. Unknown domains and
// datasets fall back to Finance/interest so the result always validates.
func BuildErrorPlan(domain, dataset, errType, message string, repairAttempted bool) map[string]any {
	if !IsDomain(domain) {
		domain = DefaultErrorDomain
	}
	if !IsDataset(dataset) {
		dataset = DefaultErrorDataset
	}
	if errType == "" {
		errType = ErrorTypeValidation
	}
	if message == "" {
		message = "Unable to produce a valid query plan."
	}

	return map[string]any{
		"domain":   domain,
		"intent":   IntentError,
		"dataset":  dataset,
		"metrics":  []any{},
		"filters":  []any{},
		"group_by": []any{},
		"error": map[string]any{
			"type":             errType,
			"message":          message,
			"repair_attempted": repairAttempted,
		},
	}
}
