/*
ledger.go - Loan ledger (adjacency index over transfers)

PURPOSE:
  Transfers are emitted between items, but rows are shown at any level.
  The LoanLedger indexes every transfer under each ancestor path of its
  source (lent side) and of its target (borrowed side), so lent/borrowed
  totals and detail legs for any node are a map lookup.

INVARIANTS:
  1. IMMUTABLE: Built once per resolution, never modified
  2. BOTH LEGS: Each transfer is visible as lent on its source chain and
     borrowed on its target chain, with the same value
  3. NO NETTING: A transfer whose source and target share an ancestor
     appears on both sides of that ancestor

SEE ALSO:
  - loans.go: Produces transfers
  - engine.go: Uses the ledger for rows, totals and detail
*/
package engine

import "github.com/shopspring/decimal"

// LoanLedger answers lent and borrowed questions for any hierarchy node.
type LoanLedger struct {
	transfers []LoanTransfer
	lent      map[string][]int
	borrowed  map[string][]int
}

// NewLoanLedger indexes transfers by every ancestor path of both legs.
func NewLoanLedger(transfers []LoanTransfer) *LoanLedger {
	l := &LoanLedger{
		transfers: transfers,
		lent:      make(map[string][]int),
		borrowed:  make(map[string][]int),
	}
	for i, t := range transfers {
		for depth := 1; depth <= t.Source.Path.Depth(); depth++ {
			k := t.Source.Path.Prefix(depth).String()
			l.lent[k] = append(l.lent[k], i)
		}
		for depth := 1; depth <= t.Target.Path.Depth(); depth++ {
			k := t.Target.Path.Prefix(depth).String()
			l.borrowed[k] = append(l.borrowed[k], i)
		}
	}
	return l
}

// Transfers returns every transfer in emission order.
func (l *LoanLedger) Transfers() []LoanTransfer { return l.transfers }

// Legs returns the transfers lent or borrowed by the node at path.
func (l *LoanLedger) Legs(path Path, dir Direction) []LoanTransfer {
	idx := l.index(dir)[path.String()]
	out := make([]LoanTransfer, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.transfers[i])
	}
	return out
}

// Lent is the total value the node at path lent out.
func (l *LoanLedger) Lent(path Path) decimal.Decimal {
	return l.sum(l.lent[path.String()])
}

// Borrowed is the total value the node at path received.
func (l *LoanLedger) Borrowed(path Path) decimal.Decimal {
	return l.sum(l.borrowed[path.String()])
}

// Total sums every transfer once.
func (l *LoanLedger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, t := range l.transfers {
		total = total.Add(t.Value)
	}
	return total
}

func (l *LoanLedger) index(dir Direction) map[string][]int {
	if dir == DirectionBorrowed {
		return l.borrowed
	}
	return l.lent
}

func (l *LoanLedger) sum(idx []int) decimal.Decimal {
	total := decimal.Zero
	for _, i := range idx {
		total = total.Add(l.transfers[i].Value)
	}
	return total
}
