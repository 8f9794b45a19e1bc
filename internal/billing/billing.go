// Package billing implements the credit ledger: balances assembled from
// grants, per-cycle usage, monthly quota resets, auto top-ups, and
// organization repository coverage.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the user or organization does not exist.
	ErrNotFound = errors.New("billing: not found")
)

// GrantKind orders how grants are consumed; purchased credits outlast free
// ones, so free credits burn first.
type GrantKind string

const (
	GrantFree     GrantKind = "free"
	GrantTopup    GrantKind = "topup"
	GrantPurchase GrantKind = "purchase"
	GrantOrg      GrantKind = "organization"
	GrantAdmin    GrantKind = "admin"
)

// PrincipalType distinguishes user ledgers from organization ledgers.
type PrincipalType string

const (
	PrincipalUser PrincipalType = "user"
	PrincipalOrg  PrincipalType = "org"
)

// UsageKind labels what a debit paid for.
type UsageKind string

const (
	UsageLLM  UsageKind = "llm"
	UsageTool UsageKind = "tool"
)

// User is the billing view of an account.
type User struct {
	ID             string
	Email          string
	NextQuotaReset time.Time

	AutoTopupEnabled   bool
	AutoTopupThreshold int64
	AutoTopupAmount    int64
}

// RepoCoverage is one repository an organization pays for.
type RepoCoverage struct {
	Owner    string
	Repo     string
	Approved bool
}

// Organization is a paying org whose members' work on covered repositories
// bills the org instead of the user.
type Organization struct {
	ID      string
	Name    string
	Slug    string
	Members []string
	Repos   []RepoCoverage

	AutoTopupEnabled   bool
	AutoTopupThreshold int64
	AutoTopupAmount    int64
}

// Covers reports whether the organization pays for the given repository.
func (o *Organization) Covers(owner, repo string) bool {
	for _, r := range o.Repos {
		if r.Approved && r.Owner == owner && r.Repo == repo {
			return true
		}
	}
	return false
}

// HasMember reports whether the user belongs to the organization.
func (o *Organization) HasMember(userID string) bool {
	for _, m := range o.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Grant is one batch of credits issued to a principal.
type Grant struct {
	ID            string
	PrincipalType PrincipalType
	PrincipalID   string
	Kind          GrantKind
	Amount        int64
	Remaining     int64
	GrantedAt     time.Time
	ExpiresAt     *time.Time
}

// Expired reports whether the grant is past its expiry at the given time.
func (g *Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// UsageEntry records one debit against a principal.
type UsageEntry struct {
	ID            string
	PrincipalType PrincipalType
	PrincipalID   string
	Kind          UsageKind
	Amount        int64
	CreatedAt     time.Time
}

// Balance is a point-in-time view of a principal's credits.
type Balance struct {
	// TotalRemaining sums the remaining credits of unexpired grants.
	TotalRemaining int64

	// TotalDebt is usage that exceeded available grants.
	TotalDebt int64

	// Breakdown splits TotalRemaining by grant kind.
	Breakdown map[GrantKind]int64
}

// Net is remaining minus debt; negative when the principal owes credits.
func (b Balance) Net() int64 {
	return b.TotalRemaining - b.TotalDebt
}

// UsageAndBalance bundles what the gate and the usage-response need.
type UsageAndBalance struct {
	UsageThisCycle int64
	Balance        Balance
	NextQuotaReset time.Time
}

// Store is the persistence layer behind the billing service. Implementations
// must be safe for concurrent use.
type Store interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	PutUser(ctx context.Context, user *User) error

	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	PutOrganization(ctx context.Context, org *Organization) error

	// OrganizationsForUser lists organizations the user belongs to.
	OrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error)

	InsertGrant(ctx context.Context, grant *Grant) error

	// ActiveGrants returns unexpired grants with remaining credits, ordered
	// by consumption priority (expiring first, then free before purchased).
	ActiveGrants(ctx context.Context, pt PrincipalType, principalID string, now time.Time) ([]*Grant, error)

	// UpdateGrantRemaining persists a new remaining value for a grant.
	UpdateGrantRemaining(ctx context.Context, grantID string, remaining int64) error

	RecordUsage(ctx context.Context, entry *UsageEntry) error

	// UsageSince sums usage for a principal recorded at or after the cutoff.
	UsageSince(ctx context.Context, pt PrincipalType, principalID string, since time.Time) (int64, error)

	// Debt returns the accumulated shortfall for a principal.
	Debt(ctx context.Context, pt PrincipalType, principalID string) (int64, error)

	// AddDebt adjusts the principal's shortfall by delta (may be negative).
	AddDebt(ctx context.Context, pt PrincipalType, principalID string, delta int64) error

	// UsersDueForReset lists users whose NextQuotaReset is at or before now.
	UsersDueForReset(ctx context.Context, now time.Time) ([]*User, error)

	Close() error
}
