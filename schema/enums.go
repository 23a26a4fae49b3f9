package schema

import "slices"

// ============================================================================
// ENUMERATIONS + METRIC CATALOG
// ============================================================================

// Domains.
const (
	DomainFinance  = "Finance"
	DomainRisk     = "Risk"
	DomainTreasury = "Treasury"
	DomainAML      = "AML"
)

// Datasets.
const (
	DatasetInterest     = "interest"
	DatasetLoans        = "loans"
	DatasetLiquidity    = "liquidity"
	DatasetTransactions = "transactions"
)

// Metrics.
const (
	MetricNII             = "NII"
	MetricNIM             = "NIM"
	MetricECL             = "ECL"
	MetricNSFR            = "NSFR"
	MetricStructuringFlag = "STRUCTURING_FLAG"
)

// IntentError marks a refusal plan.
const IntentError = "error"

var (
	Domains   = []string{DomainFinance, DomainRisk, DomainTreasury, DomainAML}
	Datasets  = []string{DatasetInterest, DatasetLoans, DatasetLiquidity, DatasetTransactions}
	Operators = []string{"=", "!=", ">", "<", ">=", "<=", "in", "contains"}
)

// IsDomain reports whether s is a known domain.
func IsDomain(s string) bool { return slices.Contains(Domains, s) }

// IsDataset reports whether s is a known dataset.
func IsDataset(s string) bool { return slices.Contains(Datasets, s) }

// MetricDef describes one canonical metric.
type MetricDef struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Formula string `json:"formula"`
	Dataset string `json:"dataset"`
	Domain  string `json:"domain"`
}

// Metrics lists the canonical metrics in dispatch priority order.
var Metrics = []MetricDef{
	{ID: MetricNII, Label: "Net Interest Income", Formula: "interest_income - interest_expense", Dataset: DatasetInterest, Domain: DomainFinance},
	{ID: MetricNIM, Label: "Net Interest Margin", Formula: "NII / avg_earning_assets", Dataset: DatasetInterest, Domain: DomainFinance},
	{ID: MetricECL, Label: "Expected Credit Loss", Formula: "PD × LGD × EAD", Dataset: DatasetLoans, Domain: DomainRisk},
	{ID: MetricNSFR, Label: "Net Stable Funding Ratio", Formula: "available_stable_funding / required_stable_funding", Dataset: DatasetLiquidity, Domain: DomainTreasury},
	{ID: MetricStructuringFlag, Label: "Structuring / Smurfing Detection", Formula: "cash deposits near threshold, count >= N in sliding window", Dataset: DatasetTransactions, Domain: DomainAML},
}

// LookupMetric returns the definition for a metric id.
func LookupMetric(id string) (MetricDef, bool) {
	for _, m := range Metrics {
		if m.ID == id {
			return m, true
		}
	}
	return MetricDef{}, false
}

// DatasetFor returns the primary dataset of a metric, or "" if unknown.
func DatasetFor(metric string) string {
	m, ok := LookupMetric(metric)
	if !ok {
		return ""
	}
	return m.Dataset
}
