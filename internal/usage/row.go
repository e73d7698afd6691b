package usage

import "fmt"

// Row is one category present in a snapshot.
type Row struct {
	Category Category
	Period   Period
	// Extra is set for CategoryExtra only.
	Extra *ExtraUsage
}

// Rows lists the categories that carry data, in display order. A category
// counts when it has a utilization; extra usage also counts with only a
// prepaid balance.
func (s *Snapshot) Rows() []Row {
	var rows []Row
	for _, c := range Categories() {
		p, ok := s.Period(c.Key())
		if !ok {
			continue
		}
		row := Row{Category: c, Period: p}
		if c == CategoryExtra {
			if e, ok := s.Extra(); ok {
				row.Extra = &e
			}
		}
		if p.Utilization == nil && (row.Extra == nil || row.Extra.BalanceCents == nil) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Spend renders used/limit in whole dollars, e.g. "$5/$20".
func (r Row) Spend() (string, bool) {
	if r.Extra == nil || r.Extra.UsedCents == nil || r.Extra.LimitCents == nil {
		return "", false
	}
	return fmt.Sprintf("$%.0f/$%.0f", *r.Extra.UsedCents/100, *r.Extra.LimitCents/100), true
}

// Balance renders the prepaid balance, e.g. "Bal $12".
func (r Row) Balance() (string, bool) {
	if r.Extra == nil || r.Extra.BalanceCents == nil {
		return "", false
	}
	return fmt.Sprintf("Bal $%.0f", *r.Extra.BalanceCents/100), true
}
