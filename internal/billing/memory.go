package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	orgs   map[string]*Organization
	grants map[string]*Grant
	usage  []*UsageEntry
	debts  map[string]int64 // keyed by pt/id
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  map[string]*User{},
		orgs:   map[string]*Organization{},
		grants: map[string]*Grant{},
		debts:  map[string]int64{},
	}
}

func debtKey(pt PrincipalType, id string) string {
	return string(pt) + "/" + id
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) PutUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrganization(_ context.Context, orgID string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) PutOrganization(_ context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *MemoryStore) OrganizationsForUser(_ context.Context, userID string) ([]*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Organization
	for _, o := range m.orgs {
		if o.HasMember(userID) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertGrant(_ context.Context, grant *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *grant
	m.grants[grant.ID] = &cp
	return nil
}

func (m *MemoryStore) ActiveGrants(_ context.Context, pt PrincipalType, principalID string, now time.Time) ([]*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Grant
	for _, g := range m.grants {
		if g.PrincipalType != pt || g.PrincipalID != principalID {
			continue
		}
		if g.Remaining <= 0 || g.Expired(now) {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sortGrantsByPriority(out)
	return out, nil
}

// sortGrantsByPriority orders grants the way they should burn: expiring
// grants first, then free before purchased, oldest first as a tiebreak.
func sortGrantsByPriority(grants []*Grant) {
	kindRank := map[GrantKind]int{
		GrantFree:     0,
		GrantOrg:      1,
		GrantTopup:    2,
		GrantPurchase: 3,
		GrantAdmin:    4,
	}
	sort.SliceStable(grants, func(i, j int) bool {
		gi, gj := grants[i], grants[j]
		switch {
		case gi.ExpiresAt != nil && gj.ExpiresAt == nil:
			return true
		case gi.ExpiresAt == nil && gj.ExpiresAt != nil:
			return false
		case gi.ExpiresAt != nil && gj.ExpiresAt != nil && !gi.ExpiresAt.Equal(*gj.ExpiresAt):
			return gi.ExpiresAt.Before(*gj.ExpiresAt)
		}
		if kindRank[gi.Kind] != kindRank[gj.Kind] {
			return kindRank[gi.Kind] < kindRank[gj.Kind]
		}
		return gi.GrantedAt.Before(gj.GrantedAt)
	})
}

func (m *MemoryStore) UpdateGrantRemaining(_ context.Context, grantID string, remaining int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	g.Remaining = remaining
	return nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, entry *UsageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.usage = append(m.usage, &cp)
	return nil
}

func (m *MemoryStore) UsageSince(_ context.Context, pt PrincipalType, principalID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, u := range m.usage {
		if u.PrincipalType == pt && u.PrincipalID == principalID && !u.CreatedAt.Before(since) {
			total += u.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) Debt(_ context.Context, pt PrincipalType, principalID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.debts[debtKey(pt, principalID)], nil
}

func (m *MemoryStore) AddDebt(_ context.Context, pt PrincipalType, principalID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debts[debtKey(pt, principalID)] += delta
	return nil
}

func (m *MemoryStore) UsersDueForReset(_ context.Context, now time.Time) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		if !now.Before(u.NextQuotaReset) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
