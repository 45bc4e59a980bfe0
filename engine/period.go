package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD FILTER - Everything that scopes an analysis
// =============================================================================

// PeriodFilter selects the transactions an analysis covers and how loans
// between nodes are resolved. StartDate and EndDate are inclusive days.
type PeriodFilter struct {
	StartDate time.Time
	EndDate   time.Time
	StoreCode string
	BuyerCode string

	InvoiceTypes InvoiceTypeFlags
	SaleTypes    SaleTypeFlags
	BonusMode    BonusProductMode

	Decomposition DecompositionMode
	LoanTypes     LoanTypeFlags
}

// InvoiceTypeFlags restrict purchase lines by fiscal classification.
// All or none set means no restriction.
type InvoiceTypeFlags struct {
	Purchases bool
	Other     bool
	Bonus     bool
}

func (f InvoiceTypeFlags) Allows(class FiscalClass) bool {
	if f.Purchases == f.Other && f.Other == f.Bonus {
		return true
	}
	switch class {
	case FiscalPurchase:
		return f.Purchases
	case FiscalBonus:
		return f.Bonus
	default:
		return f.Other
	}
}

// SaleTypeFlags restrict sale lines by channel. All or none set means no restriction.
type SaleTypeFlags struct {
	POS             bool
	CustomerInvoice bool
	Counter         bool
	Transfer        bool
}

func (f SaleTypeFlags) Allows(t SaleType) bool {
	if f == (SaleTypeFlags{}) || f == (SaleTypeFlags{true, true, true, true}) {
		return true
	}
	switch t {
	case SalePOS:
		return f.POS
	case SaleCustomerInvoice:
		return f.CustomerInvoice
	case SaleCounter:
		return f.Counter
	case SaleTransfer:
		return f.Transfer
	}
	return false
}

// LoanTypeFlags enable each loan kind when decomposition mode is children.
type LoanTypeFlags struct {
	Production    bool
	Association   bool
	Decomposition bool
}

// AllLoanTypes enables every loan kind.
func AllLoanTypes() LoanTypeFlags {
	return LoanTypeFlags{Production: true, Association: true, Decomposition: true}
}

func (f LoanTypeFlags) Enabled(kind LoanKind) bool {
	switch kind {
	case LoanProduction:
		return f.Production
	case LoanAssociation:
		return f.Association
	case LoanDecomposition:
		return f.Decomposition
	}
	return false
}

type BonusProductMode string

const (
	BonusWith    BonusProductMode = "with"
	BonusWithout BonusProductMode = "without"
	BonusOnly    BonusProductMode = "only"
)

// Allows reports whether a purchase line of the given class survives the mode.
func (m BonusProductMode) Allows(class FiscalClass) bool {
	switch m {
	case BonusWithout:
		return class != FiscalBonus
	case BonusOnly:
		return class == FiscalBonus
	default:
		return true
	}
}

type DecompositionMode string

const (
	DecompositionParent   DecompositionMode = "parent"
	DecompositionChildren DecompositionMode = "children"
)

// ParseBonusMode accepts English names and the back-office aliases.
func ParseBonusMode(s string) (BonusProductMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "with", "com":
		return BonusWith, nil
	case "without", "sem":
		return BonusWithout, nil
	case "only", "somente":
		return BonusOnly, nil
	}
	return "", &ValidationError{Field: "bonus_mode", Message: fmt.Sprintf("unknown mode %q", s)}
}

// ParseDecompositionMode accepts English names and the back-office aliases.
func ParseDecompositionMode(s string) (DecompositionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parent", "pai":
		return DecompositionParent, nil
	case "children", "filhos":
		return DecompositionChildren, nil
	}
	return "", &ValidationError{Field: "decomposition", Message: fmt.Sprintf("unknown mode %q", s)}
}

// =============================================================================
// VALIDATION AND IDENTITY
// =============================================================================

// Validate checks the filter before any source is touched.
func (f PeriodFilter) Validate() error {
	if f.StartDate.IsZero() {
		return &ValidationError{Field: "start", Message: "start date is required"}
	}
	if f.EndDate.IsZero() {
		return &ValidationError{Field: "end", Message: "end date is required"}
	}
	if f.EndDate.Before(f.StartDate) {
		return &ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("%s is before start %s", f.EndDate.Format(dateLayout), f.StartDate.Format(dateLayout)),
			Err:     ErrInvalidPeriod,
		}
	}
	switch f.BonusMode {
	case "", BonusWith, BonusWithout, BonusOnly:
	default:
		return &ValidationError{Field: "bonus_mode", Message: string(f.BonusMode)}
	}
	switch f.Decomposition {
	case "", DecompositionParent, DecompositionChildren:
	default:
		return &ValidationError{Field: "decomposition", Message: string(f.Decomposition)}
	}
	return nil
}

// Days is the inclusive number of days the filter covers.
func (f PeriodFilter) Days() int {
	start := truncateDay(f.StartDate)
	end := truncateDay(f.EndDate)
	return int(end.Sub(start).Hours()/24) + 1
}

// Contains reports whether t falls on a day inside [StartDate, EndDate].
func (f PeriodFilter) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(truncateDay(f.StartDate)) && !d.After(truncateDay(f.EndDate))
}

// LoansEnabled reports whether loans are resolved for this filter.
func (f PeriodFilter) LoansEnabled() bool {
	return f.Decomposition == DecompositionChildren
}

// Hash identifies the filter for cache keys. Equal filters hash equally.
func (f PeriodFilter) Hash() string {
	raw := strings.Join([]string{
		f.StartDate.Format(dateLayout),
		f.EndDate.Format(dateLayout),
		f.StoreCode,
		f.BuyerCode,
		fmt.Sprintf("%t|%t|%t", f.InvoiceTypes.Purchases, f.InvoiceTypes.Other, f.InvoiceTypes.Bonus),
		fmt.Sprintf("%t|%t|%t|%t", f.SaleTypes.POS, f.SaleTypes.CustomerInvoice, f.SaleTypes.Counter, f.SaleTypes.Transfer),
		string(f.normalizedBonusMode()),
		string(f.normalizedDecomposition()),
		fmt.Sprintf("%t|%t|%t", f.LoanTypes.Production, f.LoanTypes.Association, f.LoanTypes.Decomposition),
	}, "#")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (f PeriodFilter) normalizedBonusMode() BonusProductMode {
	if f.BonusMode == "" {
		return BonusWith
	}
	return f.BonusMode
}

func (f PeriodFilter) normalizedDecomposition() DecompositionMode {
	if f.Decomposition == "" {
		return DecompositionParent
	}
	return f.Decomposition
}

// =============================================================================
// DATES
// =============================================================================

const dateLayout = "2006-01-02"

// ParseDate accepts ISO dates and the dd/mm/yyyy form used by the back office.
func ParseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ValidationError{Field: field, Message: field + " date is required"}
	}
	for _, layout := range []string{dateLayout, "02/01/2006", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, &ValidationError{Field: field, Message: fmt.Sprintf("unparseable date %q", s)}
}

// FormatDate renders a day as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// FISCAL CLASSIFICATION
// =============================================================================

// FiscalClass groups inbound fiscal operation codes (CFOP).
type FiscalClass string

const (
	FiscalPurchase FiscalClass = "purchase"
	FiscalBonus    FiscalClass = "bonus"
	FiscalOther    FiscalClass = "other"
)

var (
	purchaseCFOPs = map[string]bool{
		"1101": true, "1102": true, "2101": true, "2102": true,
		"1401": true, "1403": true, "2403": true,
	}
	bonusCFOPs = map[string]bool{
		"1910": true, "2910": true, "1411": true, "2411": true,
		"5910": true, "6910": true, "5911": true, "6911": true, "9505": true,
	}
)

// ClassifyCFOP maps a fiscal operation code to its class. Punctuation such
// as "1.102" is ignored.
func ClassifyCFOP(cfop string) FiscalClass {
	var b strings.Builder
	for _, r := range cfop {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	code := b.String()
	switch {
	case purchaseCFOPs[code]:
		return FiscalPurchase
	case bonusCFOPs[code]:
		return FiscalBonus
	default:
		return FiscalOther
	}
}

// =============================================================================
// SALE TYPES
// =============================================================================

// SaleType is the channel a sale was recorded through.
type SaleType int

const (
	SalePOS             SaleType = 0
	SaleCustomerInvoice SaleType = 1
	SaleCounter         SaleType = 2
	SaleTransfer        SaleType = 3
)
