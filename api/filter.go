package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

// FilterRequest is the wire form of engine.PeriodFilter. It is read from
// query parameters on GET endpoints and from JSON bodies on session calls.
type FilterRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Store string `json:"store,omitempty"`
	Buyer string `json:"buyer,omitempty"`

	Purchases bool `json:"purchases,omitempty"`
	Other     bool `json:"other,omitempty"`
	Bonus     bool `json:"bonus,omitempty"`

	BonusMode     string `json:"bonus_mode,omitempty"`
	Decomposition string `json:"decomposition,omitempty"`

	// Loan kinds default to enabled when absent.
	ProductionLoans    *bool `json:"production_loans,omitempty"`
	AssociationLoans   *bool `json:"association_loans,omitempty"`
	DecompositionLoans *bool `json:"decomposition_loans,omitempty"`

	SalePOS      bool `json:"sale_pos,omitempty"`
	SaleInvoice  bool `json:"sale_invoice,omitempty"`
	SaleCounter  bool `json:"sale_counter,omitempty"`
	SaleTransfer bool `json:"sale_transfer,omitempty"`
}

// filterFromQuery reads the filter parameters of a GET request.
func filterFromQuery(q url.Values) (FilterRequest, error) {
	req := FilterRequest{
		Start:         q.Get("start"),
		End:           q.Get("end"),
		Store:         q.Get("store"),
		Buyer:         q.Get("buyer"),
		BonusMode:     q.Get("bonus_mode"),
		Decomposition: q.Get("decomposition"),
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"purchases", &req.Purchases},
		{"other", &req.Other},
		{"bonus", &req.Bonus},
		{"sale_pos", &req.SalePOS},
		{"sale_invoice", &req.SaleInvoice},
		{"sale_counter", &req.SaleCounter},
		{"sale_transfer", &req.SaleTransfer},
	}
	for _, f := range flags {
		v, set, err := queryBool(q, f.name)
		if err != nil {
			return req, err
		}
		if set {
			*f.dst = v
		}
	}

	loans := []struct {
		name string
		dst  **bool
	}{
		{"production_loans", &req.ProductionLoans},
		{"association_loans", &req.AssociationLoans},
		{"decomposition_loans", &req.DecompositionLoans},
	}
	for _, f := range loans {
		v, set, err := queryBool(q, f.name)
		if err != nil {
			return req, err
		}
		if set {
			*f.dst = &v
		}
	}
	return req, nil
}

func queryBool(q url.Values, name string) (value, set bool, err error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, &engine.ValidationError{Field: name, Message: fmt.Sprintf("%q is not a boolean", raw)}
	}
	return v, true, nil
}

// ToFilter converts and validates the request.
func (r FilterRequest) ToFilter() (engine.PeriodFilter, error) {
	var f engine.PeriodFilter
	var err error

	if f.StartDate, err = engine.ParseDate("start", r.Start); err != nil {
		return f, err
	}
	if f.EndDate, err = engine.ParseDate("end", r.End); err != nil {
		return f, err
	}
	if f.BonusMode, err = engine.ParseBonusMode(r.BonusMode); err != nil {
		return f, err
	}
	if f.Decomposition, err = engine.ParseDecompositionMode(r.Decomposition); err != nil {
		return f, err
	}

	f.StoreCode = strings.TrimSpace(r.Store)
	f.BuyerCode = strings.TrimSpace(r.Buyer)
	f.InvoiceTypes = engine.InvoiceTypeFlags{Purchases: r.Purchases, Other: r.Other, Bonus: r.Bonus}
	f.SaleTypes = engine.SaleTypeFlags{
		POS:             r.SalePOS,
		CustomerInvoice: r.SaleInvoice,
		Counter:         r.SaleCounter,
		Transfer:        r.SaleTransfer,
	}
	f.LoanTypes = engine.LoanTypeFlags{
		Production:    enabled(r.ProductionLoans),
		Association:   enabled(r.AssociationLoans),
		Decomposition: enabled(r.DecompositionLoans),
	}
	return f, f.Validate()
}

func enabled(b *bool) bool { return b == nil || *b }

func toFilterRequest(f engine.PeriodFilter) FilterRequest {
	production, association, decomposition := f.LoanTypes.Production, f.LoanTypes.Association, f.LoanTypes.Decomposition
	req := FilterRequest{
		Store:              f.StoreCode,
		Buyer:              f.BuyerCode,
		Purchases:          f.InvoiceTypes.Purchases,
		Other:              f.InvoiceTypes.Other,
		Bonus:              f.InvoiceTypes.Bonus,
		BonusMode:          string(f.BonusMode),
		Decomposition:      string(f.Decomposition),
		ProductionLoans:    &production,
		AssociationLoans:   &association,
		DecompositionLoans: &decomposition,
		SalePOS:            f.SaleTypes.POS,
		SaleInvoice:        f.SaleTypes.CustomerInvoice,
		SaleCounter:        f.SaleTypes.Counter,
		SaleTransfer:       f.SaleTypes.Transfer,
	}
	if !f.StartDate.IsZero() {
		req.Start = engine.FormatDate(f.StartDate)
	}
	if !f.EndDate.IsZero() {
		req.End = engine.FormatDate(f.EndDate)
	}
	return req
}
