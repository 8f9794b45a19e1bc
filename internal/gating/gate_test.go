package gating

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaylabs/relay/internal/billing"
	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/pkg/models"
)

var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

func sharedMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metrics = observability.NewMetrics() })
	return metrics
}

type fixture struct {
	gate  *Gate
	store *billing.MemoryStore
	svc   *billing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	store := billing.NewMemoryStore()
	svc := billing.NewService(store, config.BillingConfig{FreeMonthlyGrant: 500}, logger, sharedMetrics())
	return &fixture{
		gate: &Gate{
			Tokens:  NewTokenService("test-secret", time.Hour),
			Billing: svc,
			Logger:  logger,
			Metrics: sharedMetrics(),
		},
		store: store,
		svc:   svc,
	}
}

func (f *fixture) addUser(t *testing.T, id string) {
	t.Helper()
	err := f.store.PutUser(context.Background(), &billing.User{
		ID:             id,
		NextQuotaReset: time.Now().Add(15 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) token(t *testing.T, id string) string {
	t.Helper()
	token, err := f.gate.Tokens.Generate(UserInfo{ID: id, Email: id + "@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (f *fixture) grant(t *testing.T, pt billing.PrincipalType, id string, amount int64) {
	t.Helper()
	if err := f.svc.GrantCredits(context.Background(), pt, id, amount, billing.GrantPurchase); err != nil {
		t.Fatal(err)
	}
}

func promptAction(token string) *models.ClientAction {
	return &models.ClientAction{
		Type:      models.ActionPrompt,
		PromptID:  "p1",
		Prompt:    "hello",
		AuthToken: token,
	}
}

func TestAdmitPassesWithBalance(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.grant(t, billing.PrincipalUser, "u1", 100)

	adm, halt := f.gate.Admit(context.Background(), promptAction(f.token(t, "u1")))
	if halt != nil {
		t.Fatalf("halted: %+v", halt)
	}
	if adm.User.ID != "u1" {
		t.Fatalf("user = %q, want u1", adm.User.ID)
	}
	if adm.Usage == nil || adm.Usage.Type != models.ActionUsageResponse {
		t.Fatalf("usage frame = %+v", adm.Usage)
	}
	if adm.Usage.RemainingBalance != 100 {
		t.Fatalf("remaining = %d, want 100", adm.Usage.RemainingBalance)
	}
	if adm.Usage.BalanceBreakdown[string(billing.GrantPurchase)] != 100 {
		t.Fatalf("breakdown = %+v", adm.Usage.BalanceBreakdown)
	}
}

func TestAdmitInsufficientUserCredits(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")

	adm, halt := f.gate.Admit(context.Background(), promptAction(f.token(t, "u1")))
	if adm != nil {
		t.Fatal("admitted a user with no credits")
	}
	if halt.Type != models.ActionPromptError {
		t.Fatalf("type = %q, want prompt-error", halt.Type)
	}
	if halt.UserInputID != "p1" {
		t.Fatalf("userInputId = %q, want p1", halt.UserInputID)
	}
	if halt.Error != "Insufficient credits" {
		t.Fatalf("error = %q", halt.Error)
	}
	if !strings.Contains(halt.Message, "do not have enough credits") {
		t.Fatalf("message = %q", halt.Message)
	}
}

func TestAdmitNegativeUserBalanceMentionsDebt(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	if err := f.svc.ConsumeCredits(context.Background(), billing.PrincipalUser, "u1", 30, billing.UsageLLM); err != nil {
		t.Fatal(err)
	}

	_, halt := f.gate.Admit(context.Background(), promptAction(f.token(t, "u1")))
	if halt == nil {
		t.Fatal("expected halt")
	}
	if !strings.Contains(halt.Message, "do not have enough credits") {
		t.Fatalf("message = %q", halt.Message)
	}
	if !strings.Contains(halt.Message, "negative 30") {
		t.Fatalf("message does not mention the debt: %q", halt.Message)
	}
}

func TestAdmitOrgDebtHaltsWithExactMessage(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.grant(t, billing.PrincipalUser, "u1", 100)
	err := f.store.PutOrganization(context.Background(), &billing.Organization{
		ID:      "org-1",
		Name:    "Acme",
		Members: []string{"u1"},
		Repos:   []billing.RepoCoverage{{Owner: "acme", Repo: "widgets", Approved: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ConsumeCredits(context.Background(), billing.PrincipalOrg, "org-1", 42, billing.UsageLLM); err != nil {
		t.Fatal(err)
	}

	action := promptAction(f.token(t, "u1"))
	action.RepoURL = "https://github.com/acme/widgets"

	adm, halt := f.gate.Admit(context.Background(), action)
	if adm != nil {
		t.Fatal("admitted despite org debt")
	}
	want := "The organization 'Acme' has a balance of negative 42 credits. Please contact your organization administrator."
	if halt.Message != want {
		t.Fatalf("message = %q, want %q", halt.Message, want)
	}
	if halt.RemainingBalance != -42 {
		t.Fatalf("remainingBalance = %d, want -42", halt.RemainingBalance)
	}
	if halt.Type != models.ActionPromptError || halt.UserInputID != "p1" {
		t.Fatalf("halt frame = %+v", halt)
	}
}

func TestAdmitOrgCoverageAssignsPayer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	err := f.store.PutOrganization(context.Background(), &billing.Organization{
		ID:      "org-1",
		Name:    "Acme",
		Members: []string{"u1"},
		Repos:   []billing.RepoCoverage{{Owner: "acme", Repo: "widgets", Approved: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.grant(t, billing.PrincipalOrg, "org-1", 1000)

	action := promptAction(f.token(t, "u1"))
	action.RepoURL = "git@github.com:acme/widgets.git"

	// The user has no personal credits; org coverage admits them anyway.
	adm, halt := f.gate.Admit(context.Background(), action)
	if halt != nil {
		t.Fatalf("halted: %+v", halt)
	}
	if adm.Org == nil || adm.Org.ID != "org-1" {
		t.Fatalf("org = %+v, want org-1", adm.Org)
	}
}

func TestAdmitUncoveredRepoFallsBackToUser(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.grant(t, billing.PrincipalUser, "u1", 50)

	action := promptAction(f.token(t, "u1"))
	action.RepoURL = "https://github.com/someone/else"

	adm, halt := f.gate.Admit(context.Background(), action)
	if halt != nil {
		t.Fatalf("halted: %+v", halt)
	}
	if adm.Org != nil {
		t.Fatalf("org = %+v, want nil", adm.Org)
	}
}

func TestAdmitRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	_, halt := f.gate.Admit(context.Background(), promptAction("not-a-token"))
	if halt == nil || halt.Type != models.ActionPromptError {
		t.Fatalf("halt = %+v", halt)
	}
	if halt.Error != "Authentication failed" {
		t.Fatalf("error = %q", halt.Error)
	}
}

func TestAdmitNonPromptHaltUsesActionError(t *testing.T) {
	f := newFixture(t)

	_, halt := f.gate.Admit(context.Background(), &models.ClientAction{Type: models.ActionInit})
	if halt == nil || halt.Type != models.ActionActionError {
		t.Fatalf("halt = %+v", halt)
	}
}

func TestAdmitMonthlyResetGrantsQuota(t *testing.T) {
	f := newFixture(t)
	err := f.store.PutUser(context.Background(), &billing.User{
		ID:             "u1",
		NextQuotaReset: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	// The lapsed reset date triggers the monthly grant, so a user with no
	// grants still gets through.
	adm, halt := f.gate.Admit(context.Background(), promptAction(f.token(t, "u1")))
	if halt != nil {
		t.Fatalf("halted: %+v", halt)
	}
	if adm.Usage.RemainingBalance != 500 {
		t.Fatalf("remaining = %d, want 500", adm.Usage.RemainingBalance)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	token, err := svc.Generate(UserInfo{ID: "u1", Email: "u1@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	user, err := svc.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != "u1" || user.Email != "u1@example.com" {
		t.Fatalf("user = %+v", user)
	}

	if _, err := NewTokenService("other", time.Hour).Validate(token); err == nil {
		t.Fatal("token verified under the wrong secret")
	}
}
