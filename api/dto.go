/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's decimal-based model from the external contract: money and
  percentages leave the API as numbers rounded to two places.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Catalog:
    NodeDTO, StoreDTO

  Analysis:
    FilterRequest, RowDTO, AnalysisResponse, TotalsResponse

  Loans:
    LoanDetailResponse, LoanGroupDTO, LoanEntryDTO

  Sessions:
    SessionRequest, SessionDTO, BranchDTO, ExpandResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - filter.go: FilterRequest parsing
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Betotradicao/TESTES--sub002/drilldown"
	"github.com/Betotradicao/TESTES--sub002/engine"
)

// =============================================================================
// CATALOG
// =============================================================================

type NodeDTO struct {
	Level        string   `json:"level"`
	Code         string   `json:"code"`
	ParentCode   string   `json:"parent_code,omitempty"`
	Path         string   `json:"path"`
	Description  string   `json:"description"`
	MarginTarget *float64 `json:"margin_target,omitempty"`
	Buyer        string   `json:"buyer,omitempty"`
}

type StoreDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// =============================================================================
// ANALYSIS
// =============================================================================

// RowDTO is one adjusted node. Totals use the same shape without a node.
type RowDTO struct {
	Node *NodeDTO `json:"node,omitempty"`

	QuantityPurchased float64 `json:"quantity_purchased"`
	QuantitySold      float64 `json:"quantity_sold"`
	PurchaseValue     float64 `json:"purchase_value"`
	CostOfSale        float64 `json:"cost_of_sale"`
	SaleValue         float64 `json:"sale_value"`
	TaxTotal          float64 `json:"tax_total"`
	TaxCredit         float64 `json:"tax_credit"`
	InventoryOnHand   float64 `json:"inventory_on_hand"`
	CoverageDays      float64 `json:"coverage_days"`

	LentValue          float64 `json:"lent_value"`
	BorrowedValue      float64 `json:"borrowed_value"`
	FinalPurchaseValue float64 `json:"final_purchase_value"`
	DifferenceValue    float64 `json:"difference_value"`

	MarkdownPct      float64 `json:"markdown_pct"`
	ProfitMarginPct  float64 `json:"profit_margin_pct"`
	NetMarginPct     float64 `json:"net_margin_pct"`
	TargetPct        float64 `json:"target_pct"`
	AchievedPct      float64 `json:"achieved_pct"`
	VariancePct      float64 `json:"variance_pct"`
	PurchaseSharePct float64 `json:"purchase_share_pct"`
	SaleSharePct     float64 `json:"sale_share_pct"`
	MarginTargetPct  float64 `json:"margin_target_pct"`
}

type AnalysisResponse struct {
	Level                string        `json:"level"`
	Parent               string        `json:"parent"`
	Filter               FilterRequest `json:"filter"`
	Rows                 []RowDTO      `json:"rows"`
	Totals               RowDTO        `json:"totals"`
	Degraded             bool          `json:"degraded"`
	Warnings             []string      `json:"warnings,omitempty"`
	PartialReferenceData int           `json:"partial_reference_data"`
	Transfers            int           `json:"transfers"`
}

type TotalsResponse struct {
	Level    string   `json:"level"`
	Parent   string   `json:"parent"`
	Totals   RowDTO   `json:"totals"`
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// =============================================================================
// LOANS
// =============================================================================

type LoanEntryDTO struct {
	ID           string  `json:"id"`
	Item         NodeDTO `json:"item"`
	Counterparty NodeDTO `json:"counterparty"`
	Value        float64 `json:"value"`
}

type LoanGroupDTO struct {
	Kind    string         `json:"kind"`
	Total   float64        `json:"total"`
	Entries []LoanEntryDTO `json:"entries"`
}

type LoanDetailResponse struct {
	Node      NodeDTO        `json:"node"`
	Direction string         `json:"direction"`
	Total     float64        `json:"total"`
	Groups    []LoanGroupDTO `json:"groups"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionRequest is the body of every session operation. Filter may be
// omitted to keep the session's current filter.
type SessionRequest struct {
	Path   string         `json:"path"`
	Paths  []string       `json:"paths,omitempty"`
	Filter *FilterRequest `json:"filter,omitempty"`
}

type BranchDTO struct {
	Level     string `json:"level"`
	Parent    string `json:"parent"`
	State     string `json:"state"`
	Rows      int    `json:"rows"`
	FetchedAt string `json:"fetched_at,omitempty"`
}

type SessionDTO struct {
	ID       string         `json:"id"`
	Filter   *FilterRequest `json:"filter,omitempty"`
	Branches []BranchDTO    `json:"branches"`
	LastUsed string         `json:"last_used"`
}

type ExpandResponse struct {
	SessionID string           `json:"session_id"`
	Parent    string           `json:"parent"`
	State     string           `json:"state"`
	Result    AnalysisResponse `json:"result"`
}

type CollapseResponse struct {
	SessionID string `json:"session_id"`
	Parent    string `json:"parent"`
	Collapsed bool   `json:"collapsed"`
	State     string `json:"state"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo dataset.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "loans" or "fiscal"
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func num(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func toNodeDTO(n engine.HierarchyNode) NodeDTO {
	dto := NodeDTO{
		Level:       string(n.Level),
		Code:        n.Code,
		ParentCode:  n.ParentCode,
		Path:        n.Path.String(),
		Description: n.Description,
		Buyer:       n.Buyer,
	}
	if n.Level == engine.LevelSection {
		target := num(n.MarginTarget)
		dto.MarginTarget = &target
	}
	return dto
}

func toNodeDTOs(nodes []engine.HierarchyNode) []NodeDTO {
	dtos := make([]NodeDTO, 0, len(nodes))
	for _, n := range nodes {
		dtos = append(dtos, toNodeDTO(n))
	}
	return dtos
}

func toRowDTO(r engine.AdjustedNodeResult, withNode bool) RowDTO {
	dto := RowDTO{
		QuantityPurchased: num(r.QuantityPurchased),
		QuantitySold:      num(r.QuantitySold),
		PurchaseValue:     num(r.PurchaseValue),
		CostOfSale:        num(r.CostOfSale),
		SaleValue:         num(r.SaleValue),
		TaxTotal:          num(r.TaxTotal),
		TaxCredit:         num(r.TaxCredit),
		InventoryOnHand:   num(r.InventoryOnHand),
		CoverageDays:      num(r.CoverageDays),

		LentValue:          num(r.LentValue),
		BorrowedValue:      num(r.BorrowedValue),
		FinalPurchaseValue: num(r.FinalPurchaseValue),
		DifferenceValue:    num(r.DifferenceValue),

		MarkdownPct:      num(r.MarkdownPct),
		ProfitMarginPct:  num(r.ProfitMarginPct),
		NetMarginPct:     num(r.NetMarginPct),
		TargetPct:        num(r.TargetPct),
		AchievedPct:      num(r.AchievedPct),
		VariancePct:      num(r.VariancePct),
		PurchaseSharePct: num(r.PurchaseSharePct),
		SaleSharePct:     num(r.SaleSharePct),
		MarginTargetPct:  num(r.MarginTargetPct),
	}
	if withNode {
		node := toNodeDTO(r.Node)
		dto.Node = &node
	}
	return dto
}

func toAnalysisResponse(res *engine.QueryResult) AnalysisResponse {
	rows := make([]RowDTO, 0, len(res.Rows))
	for _, r := range res.Rows {
		rows = append(rows, toRowDTO(r, true))
	}
	return AnalysisResponse{
		Level:                string(res.Scope.Level),
		Parent:               res.Scope.Parent.String(),
		Filter:               toFilterRequest(res.Filter),
		Rows:                 rows,
		Totals:               toRowDTO(res.Totals, false),
		Degraded:             res.Degraded,
		Warnings:             res.Warnings,
		PartialReferenceData: res.PartialReferenceData,
		Transfers:            res.Transfers,
	}
}

func toLoanDetailResponse(d *engine.LoanDetail) LoanDetailResponse {
	groups := make([]LoanGroupDTO, 0, len(d.Groups))
	for _, g := range d.Groups {
		entries := make([]LoanEntryDTO, 0, len(g.Entries))
		for _, e := range g.Entries {
			entries = append(entries, LoanEntryDTO{
				ID:           e.ID,
				Item:         toNodeDTO(e.Item),
				Counterparty: toNodeDTO(e.Counterparty),
				Value:        num(e.Value),
			})
		}
		groups = append(groups, LoanGroupDTO{Kind: string(g.Kind), Total: num(g.Total), Entries: entries})
	}
	return LoanDetailResponse{
		Node:      toNodeDTO(d.Node),
		Direction: string(d.Direction),
		Total:     num(d.Total),
		Groups:    groups,
	}
}

func toSessionDTO(s *drilldown.Session) SessionDTO {
	dto := SessionDTO{
		ID:       s.ID,
		Branches: []BranchDTO{},
		LastUsed: s.LastUsed().Format(time.RFC3339),
	}
	if f, ok := s.Filter(); ok {
		req := toFilterRequest(f)
		dto.Filter = &req
	}
	for _, b := range s.Branches() {
		br := BranchDTO{Level: string(b.Level), Parent: b.Parent, State: string(b.State), Rows: b.Rows}
		if !b.FetchedAt.IsZero() {
			br.FetchedAt = b.FetchedAt.Format(time.RFC3339)
		}
		dto.Branches = append(dto.Branches, br)
	}
	return dto
}
