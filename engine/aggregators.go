package engine

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// AGGREGATORS — Metric computations over filtered rows
// ============================================================================
// Sums and ratios run in decimal so rounded outputs are exact:
//   NII   = Σ interest_income − Σ interest_expense
//   NIM % = NII / Σ avg_earning_assets × 100          (4 dp)
//   ECL   = PD × LGD × EAD                            (2 dp)
//   NSFR% = available / required stable funding × 100 (2 dp)
// Rounding is half away from zero.
// ============================================================================

var hundred = decimal.NewFromInt(100)

// sumField adds row[key] across rows. Non-numeric values count as zero.
func sumField(rows []Row, key string) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(decimal.NewFromFloat(Number(r, key)))
	}
	return total
}

// ComputeNII returns net interest income for rows.
func ComputeNII(rows []Row) float64 {
	return nii(rows).InexactFloat64()
}

func nii(rows []Row) decimal.Decimal {
	return sumField(rows, "interest_income").Sub(sumField(rows, "interest_expense"))
}

// ComputeNIM returns net interest margin as a percentage rounded to 4 dp.
// Zero earning assets gives 0.
func ComputeNIM(rows []Row) float64 {
	assets := sumField(rows, "avg_earning_assets")
	if assets.IsZero() {
		return 0
	}
	return nii(rows).Mul(hundred).Div(assets).Round(4).InexactFloat64()
}

// ============================================================================
// NII / NIM
// ============================================================================

func aggregateInterest(rows []Row, groupBy []string, withNII, withNIM bool) []Row {
	groups := GroupRows(rows, groupBy)

	out := make([]Row, 0, len(groups))
	for _, g := range groups {
		entry := make(Row, len(groupBy)+3)
		for i, field := range groupBy {
			entry[field] = g.Values[i]
		}
		if withNII {
			entry["NII"] = ComputeNII(g.Rows)
		}
		if withNIM {
			entry["NIM_pct"] = ComputeNIM(g.Rows)
		}
		entry["record_count"] = len(g.Rows)
		out = append(out, entry)
	}
	return out
}

// ============================================================================
// ECL
// ============================================================================

// ComputeECL returns one row per loan with ecl = round(pd × lgd × ead, 2),
// plus the total across loans.
func ComputeECL(rows []Row) ([]Row, float64) {
	out := make([]Row, 0, len(rows))
	total := decimal.Zero

	for _, r := range rows {
		pd, lgd, ead := Number(r, "pd"), Number(r, "lgd"), Number(r, "ead")
		ecl := decimal.NewFromFloat(pd).
			Mul(decimal.NewFromFloat(lgd)).
			Mul(decimal.NewFromFloat(ead)).
			Round(2)
		total = total.Add(ecl)

		entry := project(r, "loan_id", "customer_id", "product", "stage_ifrs9", "previous_stage")
		entry["pd"] = pd
		entry["lgd"] = lgd
		entry["ead"] = ead
		entry["ecl"] = ecl.InexactFloat64()
		out = append(out, entry)
	}
	return out, total.InexactFloat64()
}

// ============================================================================
// NSFR
// ============================================================================

// ComputeNSFR returns one row per period with nsfr_pct and a breach flag
// (nsfr_pct < flagThreshold). Zero required funding gives nsfr_pct 0.
func ComputeNSFR(rows []Row, flagThreshold float64) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		asf := Number(r, "available_stable_funding")
		rsf := Number(r, "required_stable_funding")

		pct := 0.0
		if rsf != 0 {
			pct = decimal.NewFromFloat(asf).Mul(hundred).Div(decimal.NewFromFloat(rsf)).Round(2).InexactFloat64()
		}

		entry := project(r, "month", "region")
		entry["available_stable_funding"] = asf
		entry["required_stable_funding"] = rsf
		entry["nsfr_pct"] = pct
		entry["breach"] = pct < flagThreshold
		out = append(out, entry)
	}
	return out
}

// SortRows stable-sorts rows by field. Numbers order numerically, anything
// else by its string form; a missing field sorts as "".
func SortRows(rows []Row, field string, desc bool) {
	slices.SortStableFunc(rows, func(a, b Row) int {
		c := compareLoose(a[field], b[field])
		if desc {
			return -c
		}
		return c
	})
}

func compareLoose(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(Stringify(a), Stringify(b))
}

// ============================================================================
// STRUCTURING DETECTION
// ============================================================================

// StructuringParams tunes the structuring heuristic.
type StructuringParams struct {
	Threshold  float64 // cash reporting threshold
	WindowDays int
	MinCount   int
}

// DetectStructuring flags customers with at least MinCount cash deposits in
// [0.9·Threshold, Threshold) falling inside one WindowDays-day window.
// Each customer's deposits are scanned in date order; every deposit anchors a
// window [anchor, anchor+WindowDays) and the first qualifying window is
// reported. Customers appear in first-seen order.
func DetectStructuring(rows []Row, p StructuringParams) ([]Row, error) {
	lower := p.Threshold * 0.9

	var order []string
	byCustomer := make(map[string][]Row)
	for _, r := range rows {
		if !Bool(r, "cash") {
			continue
		}
		amount := Number(r, "amount")
		if amount < lower || amount >= p.Threshold {
			continue
		}
		cust := Text(r, "customer_id")
		if _, seen := byCustomer[cust]; !seen {
			order = append(order, cust)
		}
		byCustomer[cust] = append(byCustomer[cust], r)
	}

	var flagged []Row
	for _, cust := range order {
		hit, err := firstWindow(cust, byCustomer[cust], p)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			flagged = append(flagged, hit)
		}
	}
	return flagged, nil
}

type datedRow struct {
	row  Row
	date time.Time
}

func firstWindow(cust string, txns []Row, p StructuringParams) (Row, error) {
	dated := make([]datedRow, 0, len(txns))
	for _, r := range txns {
		d, err := time.Parse(time.DateOnly, Text(r, "date"))
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad date %q: %w", Text(r, "transaction_id"), Text(r, "date"), err)
		}
		dated = append(dated, datedRow{row: r, date: d})
	}
	slices.SortStableFunc(dated, func(a, b datedRow) int { return a.date.Compare(b.date) })

	window := time.Duration(p.WindowDays) * 24 * time.Hour
	for _, anchor := range dated {
		var ids []string
		total := decimal.Zero
		for _, t := range dated {
			delta := t.date.Sub(anchor.date)
			if delta >= 0 && delta < window {
				ids = append(ids, Text(t.row, "transaction_id"))
				total = total.Add(decimal.NewFromFloat(Number(t.row, "amount")))
			}
		}
		if len(ids) >= p.MinCount {
			return Row{
				"customer_id":  cust,
				"window_start": anchor.date.Format(time.DateOnly),
				"window_end":   anchor.date.AddDate(0, 0, p.WindowDays-1).Format(time.DateOnly),
				"count":        len(ids),
				"total_amount": total.InexactFloat64(),
				"transactions": ids,
			}, nil
		}
	}
	return nil, nil
}

// ResolveThreshold picks the cash reporting threshold for a jurisdiction and
// currency, or fallback when no row matches.
func ResolveThreshold(table []Threshold, jurisdiction, currency string, fallback float64) float64 {
	for _, t := range table {
		if t.Jurisdiction == jurisdiction && t.Currency == currency {
			return t.CashReportingThreshold
		}
	}
	return fallback
}
