package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/observability"
)

// Service owns all credit semantics: the gating chain and the runtime talk
// to it, never to the Store directly.
type Service struct {
	store   Store
	cfg     config.BillingConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	// now is replaceable in tests.
	now func() time.Time
}

// NewService builds a billing service over the given store.
func NewService(store Store, cfg config.BillingConfig, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// CalculateUsageAndBalance returns the user's usage this quota cycle and the
// current balance assembled from unexpired grants minus debt.
func (s *Service) CalculateUsageAndBalance(ctx context.Context, userID string) (*UsageAndBalance, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	cycleStart := user.NextQuotaReset.AddDate(0, -1, 0)
	usage, err := s.store.UsageSince(ctx, PrincipalUser, userID, cycleStart)
	if err != nil {
		return nil, err
	}

	balance, err := s.balance(ctx, PrincipalUser, userID)
	if err != nil {
		return nil, err
	}

	return &UsageAndBalance{
		UsageThisCycle: usage,
		Balance:        balance,
		NextQuotaReset: user.NextQuotaReset,
	}, nil
}

// CalculateOrganizationUsageAndBalance returns the org's usage for the
// current calendar month and its balance.
func (s *Service) CalculateOrganizationUsageAndBalance(ctx context.Context, orgID string) (*UsageAndBalance, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	usage, err := s.store.UsageSince(ctx, PrincipalOrg, orgID, monthStart)
	if err != nil {
		return nil, err
	}

	balance, err := s.balance(ctx, PrincipalOrg, orgID)
	if err != nil {
		return nil, err
	}

	return &UsageAndBalance{
		UsageThisCycle: usage,
		Balance:        balance,
		NextQuotaReset: monthStart.AddDate(0, 1, 0),
	}, nil
}

// TriggerMonthlyResetAndGrant applies the monthly free grant if the user's
// reset date has lapsed. Returns the credits granted (0 when not due).
// Lapsed cycles are caught up one at a time so a long-idle user still ends
// with a single fresh grant and a future reset date.
func (s *Service) TriggerMonthlyResetAndGrant(ctx context.Context, userID string) (int64, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if now.Before(user.NextQuotaReset) {
		return 0, nil
	}

	for !now.Before(user.NextQuotaReset) {
		user.NextQuotaReset = user.NextQuotaReset.AddDate(0, 1, 0)
	}
	if err := s.store.PutUser(ctx, user); err != nil {
		return 0, err
	}

	expiry := user.NextQuotaReset
	grant := &Grant{
		ID:            uuid.NewString(),
		PrincipalType: PrincipalUser,
		PrincipalID:   userID,
		Kind:          GrantFree,
		Amount:        s.cfg.FreeMonthlyGrant,
		Remaining:     s.cfg.FreeMonthlyGrant,
		GrantedAt:     now,
		ExpiresAt:     &expiry,
	}
	if err := s.store.InsertGrant(ctx, grant); err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "monthly quota reset",
		"user_id", userID,
		"granted", s.cfg.FreeMonthlyGrant,
		"next_reset", user.NextQuotaReset)
	return s.cfg.FreeMonthlyGrant, nil
}

// CheckAndTriggerAutoTopup grants the user's configured top-up amount when
// their net balance is below their threshold. Returns credits added.
func (s *Service) CheckAndTriggerAutoTopup(ctx context.Context, userID string) (int64, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !user.AutoTopupEnabled || user.AutoTopupAmount <= 0 {
		return 0, nil
	}

	balance, err := s.balance(ctx, PrincipalUser, userID)
	if err != nil {
		return 0, err
	}
	if balance.Net() >= user.AutoTopupThreshold {
		return 0, nil
	}

	if err := s.grantTopup(ctx, PrincipalUser, userID, user.AutoTopupAmount); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "auto top-up applied", "user_id", userID, "added", user.AutoTopupAmount)
	return user.AutoTopupAmount, nil
}

// CheckAndTriggerOrgAutoTopup is the organization analogue of
// CheckAndTriggerAutoTopup.
func (s *Service) CheckAndTriggerOrgAutoTopup(ctx context.Context, orgID string) (int64, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if !org.AutoTopupEnabled || org.AutoTopupAmount <= 0 {
		return 0, nil
	}

	balance, err := s.balance(ctx, PrincipalOrg, orgID)
	if err != nil {
		return 0, err
	}
	if balance.Net() >= org.AutoTopupThreshold {
		return 0, nil
	}

	if err := s.grantTopup(ctx, PrincipalOrg, orgID, org.AutoTopupAmount); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "org auto top-up applied", "org_id", orgID, "added", org.AutoTopupAmount)
	return org.AutoTopupAmount, nil
}

// FindOrganizationForRepository returns the organization that pays for the
// given repository on the user's behalf, or nil when none covers it.
func (s *Service) FindOrganizationForRepository(ctx context.Context, userID, repoURL string) (*Organization, error) {
	owner, repo, ok := ExtractOwnerAndRepo(repoURL)
	if !ok {
		return nil, nil
	}

	orgs, err := s.store.OrganizationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, org := range orgs {
		if org.Covers(owner, repo) {
			return org, nil
		}
	}
	return nil, nil
}

// ConsumeCredits debits the principal's grants, oldest expiry first.
// Shortfall beyond available grants accrues as debt rather than failing the
// debit; the gate catches indebted principals on the next prompt.
func (s *Service) ConsumeCredits(ctx context.Context, pt PrincipalType, principalID string, amount int64, kind UsageKind) error {
	if amount < 0 {
		return fmt.Errorf("billing: negative debit %d", amount)
	}
	if amount == 0 {
		return nil
	}

	now := s.now()
	grants, err := s.store.ActiveGrants(ctx, pt, principalID, now)
	if err != nil {
		return err
	}

	left := amount
	for _, g := range grants {
		if left == 0 {
			break
		}
		take := g.Remaining
		if take > left {
			take = left
		}
		if take == 0 {
			continue
		}
		if err := s.store.UpdateGrantRemaining(ctx, g.ID, g.Remaining-take); err != nil {
			return err
		}
		left -= take
	}

	if left > 0 {
		if err := s.store.AddDebt(ctx, pt, principalID, left); err != nil {
			return err
		}
	}

	if err := s.store.RecordUsage(ctx, &UsageEntry{
		ID:            uuid.NewString(),
		PrincipalType: pt,
		PrincipalID:   principalID,
		Kind:          kind,
		Amount:        amount,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordCredits(string(kind), amount)
	}
	return nil
}

// GrantCredits issues a grant directly (purchases, admin adjustments).
// Debt is paid down before the remainder lands in the grant.
func (s *Service) GrantCredits(ctx context.Context, pt PrincipalType, principalID string, amount int64, kind GrantKind) error {
	if amount <= 0 {
		return fmt.Errorf("billing: non-positive grant %d", amount)
	}

	debt, err := s.store.Debt(ctx, pt, principalID)
	if err != nil {
		return err
	}
	if debt > 0 {
		payoff := debt
		if payoff > amount {
			payoff = amount
		}
		if err := s.store.AddDebt(ctx, pt, principalID, -payoff); err != nil {
			return err
		}
		amount -= payoff
	}
	if amount == 0 {
		return nil
	}

	return s.store.InsertGrant(ctx, &Grant{
		ID:            uuid.NewString(),
		PrincipalType: pt,
		PrincipalID:   principalID,
		Kind:          kind,
		Amount:        amount,
		Remaining:     amount,
		GrantedAt:     s.now(),
	})
}

func (s *Service) grantTopup(ctx context.Context, pt PrincipalType, principalID string, amount int64) error {
	return s.GrantCredits(ctx, pt, principalID, amount, GrantTopup)
}

func (s *Service) balance(ctx context.Context, pt PrincipalType, principalID string) (Balance, error) {
	now := s.now()
	grants, err := s.store.ActiveGrants(ctx, pt, principalID, now)
	if err != nil {
		return Balance{}, err
	}

	b := Balance{Breakdown: map[GrantKind]int64{}}
	for _, g := range grants {
		b.TotalRemaining += g.Remaining
		b.Breakdown[g.Kind] += g.Remaining
	}

	debt, err := s.store.Debt(ctx, pt, principalID)
	if err != nil {
		return Balance{}, err
	}
	b.TotalDebt = debt
	return b, nil
}
