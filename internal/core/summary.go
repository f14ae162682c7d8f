package core

import "sort"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Category Category
	Amount   Money // signed: money in is positive
}

// AccountSummary aggregates an account's ledger.
type AccountSummary struct {
	AccountID  string
	In         Money
	Out        Money
	ByCategory []CategoryAmount // sorted by category
}

// Net is In minus Out; for a complete ledger it equals the balance.
func (s AccountSummary) Net() Money {
	return s.In.Sub(s.Out)
}

func Summarize(a Account) AccountSummary {
	sum := AccountSummary{AccountID: a.ID}
	byCat := make(map[Category]Money)
	for _, tx := range a.Transactions {
		if tx.Type == Add {
			sum.In = sum.In.Add(tx.Amount)
		} else {
			sum.Out = sum.Out.Add(tx.Amount)
		}
		byCat[tx.Category] = byCat[tx.Category].Add(tx.Signed())
	}

	for c, m := range byCat {
		sum.ByCategory = append(sum.ByCategory, CategoryAmount{Category: c, Amount: m})
	}
	sort.Slice(sum.ByCategory, func(i, j int) bool {
		return sum.ByCategory[i].Category < sum.ByCategory[j].Category
	})
	return sum
}
