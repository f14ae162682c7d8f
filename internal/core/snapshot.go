package core

import "time"

// Snapshot is an immutable, fully-formed view of a family's accounts.
// Readers receive it whole; the loader replaces it, never edits it.
type Snapshot struct {
	FamilyID string
	LoadedAt time.Time
	accounts []Account
	byID     map[string]int
}

// NewSnapshot builds a snapshot from accounts, copying them.
func NewSnapshot(familyID string, loadedAt time.Time, accounts []Account) *Snapshot {
	s := &Snapshot{
		FamilyID: familyID,
		LoadedAt: loadedAt,
		accounts: make([]Account, len(accounts)),
		byID:     make(map[string]int, len(accounts)),
	}
	for i, a := range accounts {
		s.accounts[i] = a.Clone()
		s.byID[a.ID] = i
	}
	return s
}

// EmptySnapshot is what readers see with no family selected.
func EmptySnapshot() *Snapshot {
	return NewSnapshot("", time.Time{}, nil)
}

// Accounts returns copies of all accounts in load order.
func (s *Snapshot) Accounts() []Account {
	out := make([]Account, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = a.Clone()
	}
	return out
}

// Account returns a copy of one account.
func (s *Snapshot) Account(id string) (Account, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Account{}, false
	}
	return s.accounts[i].Clone(), true
}

func (s *Snapshot) Len() int { return len(s.accounts) }

func (s *Snapshot) TotalBalance() Money {
	var total Money
	for _, a := range s.accounts {
		total = total.Add(a.Balance)
	}
	return total
}
