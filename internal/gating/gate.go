package gating

import (
	"context"
	"fmt"

	"github.com/relaylabs/relay/internal/billing"
	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/pkg/models"
)

// Admission is what a successfully gated action carries forward: who the
// caller is, who pays, and the usage response to send before streaming.
type Admission struct {
	User UserInfo

	// Org pays for this action when its repository coverage matched; nil
	// means the user pays personally.
	Org *billing.Organization

	// Usage is the usage-response frame to send for non-silent runs.
	Usage *models.ServerAction
}

// Gate runs the admission chain for every inbound action that needs billing
// context. Each stage either passes or produces the error frame to send.
type Gate struct {
	Tokens  *TokenService
	Billing *billing.Service
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Admit runs the chain: auth, organization repository coverage, user quota,
// usage summary. A non-nil halt frame means the action must not reach the
// agent loop; the frame is ready to send as-is.
func (g *Gate) Admit(ctx context.Context, action *models.ClientAction) (*Admission, *models.ServerAction) {
	user, halt := g.authenticate(action)
	if halt != nil {
		return nil, halt
	}

	org, halt := g.checkOrgCoverage(ctx, action, user)
	if halt != nil {
		return nil, halt
	}

	usage, halt := g.checkUserQuota(ctx, action, user, org)
	if halt != nil {
		return nil, halt
	}

	return &Admission{User: user, Org: org, Usage: usage}, nil
}

func (g *Gate) authenticate(action *models.ClientAction) (UserInfo, *models.ServerAction) {
	if action.AuthToken == "" {
		g.Metrics.RecordGateRejection("missing_token")
		return UserInfo{}, g.halt(action, "Authentication required",
			"You are not logged in. Run the login flow and try again.")
	}
	user, err := g.Tokens.Validate(action.AuthToken)
	if err != nil {
		g.Metrics.RecordGateRejection("invalid_token")
		return UserInfo{}, g.halt(action, "Authentication failed",
			"Your auth token is invalid or expired. Log in again and retry.")
	}
	return user, nil
}

// checkOrgCoverage resolves which organization, if any, pays for the
// repository this action names. A covering organization with a non-positive
// balance halts the action.
func (g *Gate) checkOrgCoverage(ctx context.Context, action *models.ClientAction, user UserInfo) (*billing.Organization, *models.ServerAction) {
	if action.RepoURL == "" {
		return nil, nil
	}

	org, err := g.Billing.FindOrganizationForRepository(ctx, user.ID, action.RepoURL)
	if err != nil {
		g.Logger.Error(ctx, "org coverage lookup failed", "user_id", user.ID, "error", err)
		g.Metrics.RecordGateRejection("org_lookup_failed")
		return nil, g.halt(action, "Internal error",
			"Could not resolve organization coverage for this repository.")
	}
	if org == nil {
		return nil, nil
	}

	// Top-up failures are logged, never fatal; the balance check below is
	// what decides.
	if _, err := g.Billing.CheckAndTriggerOrgAutoTopup(ctx, org.ID); err != nil {
		g.Logger.Warn(ctx, "org auto top-up failed", "org_id", org.ID, "error", err)
	}

	ub, err := g.Billing.CalculateOrganizationUsageAndBalance(ctx, org.ID)
	if err != nil {
		g.Logger.Error(ctx, "org balance lookup failed", "org_id", org.ID, "error", err)
		g.Metrics.RecordGateRejection("org_balance_failed")
		return nil, g.halt(action, "Internal error",
			"Could not fetch the organization balance.")
	}

	remaining := ub.Balance.Net()
	if remaining <= 0 {
		g.Metrics.RecordGateRejection("org_insufficient")
		var msg string
		if remaining < 0 {
			msg = fmt.Sprintf("The organization '%s' has a balance of negative %d credits. Please contact your organization administrator.",
				org.Name, -remaining)
		} else {
			msg = fmt.Sprintf("The organization '%s' has no credits remaining. Please contact your organization administrator.",
				org.Name)
		}
		frame := g.halt(action, "Insufficient organization credits", msg)
		frame.RemainingBalance = remaining
		return nil, frame
	}

	return org, nil
}

// checkUserQuota runs the monthly reset, the user auto top-up, and the
// balance check, then assembles the usage-response. When an organization
// pays, the user's own balance does not gate the action but the usage
// summary still reports it.
func (g *Gate) checkUserQuota(ctx context.Context, action *models.ClientAction, user UserInfo, org *billing.Organization) (*models.ServerAction, *models.ServerAction) {
	if _, err := g.Billing.TriggerMonthlyResetAndGrant(ctx, user.ID); err != nil {
		g.Logger.Error(ctx, "monthly reset failed", "user_id", user.ID, "error", err)
		g.Metrics.RecordGateRejection("reset_failed")
		return nil, g.halt(action, "Internal error", "Could not refresh your monthly quota.")
	}

	topupAdded, err := g.Billing.CheckAndTriggerAutoTopup(ctx, user.ID)
	if err != nil {
		g.Logger.Warn(ctx, "auto top-up failed", "user_id", user.ID, "error", err)
		topupAdded = 0
	}

	ub, err := g.Billing.CalculateUsageAndBalance(ctx, user.ID)
	if err != nil {
		g.Logger.Error(ctx, "balance lookup failed", "user_id", user.ID, "error", err)
		g.Metrics.RecordGateRejection("balance_failed")
		return nil, g.halt(action, "Internal error", "Could not fetch your balance.")
	}

	if org == nil && ub.Balance.TotalRemaining <= 0 {
		g.Metrics.RecordGateRejection("user_insufficient")
		var msg string
		if ub.Balance.TotalDebt > 0 {
			msg = fmt.Sprintf("You do not have enough credits: your balance is negative %d. Top up or wait for your quota reset.",
				ub.Balance.TotalDebt)
		} else {
			msg = "You do not have enough credits remaining this cycle. Top up or wait for your quota reset."
		}
		frame := g.halt(action, "Insufficient credits", msg)
		frame.RemainingBalance = ub.Balance.Net()
		return nil, frame
	}

	breakdown := make(map[string]int64, len(ub.Balance.Breakdown))
	for kind, amount := range ub.Balance.Breakdown {
		breakdown[string(kind)] = amount
	}
	reset := ub.NextQuotaReset
	return &models.ServerAction{
		Type: models.ActionUsageResponse,
		Usage: &models.UsageSummary{
			UsageThisCycle: ub.UsageThisCycle,
			NextQuotaReset: ub.NextQuotaReset,
		},
		RemainingBalance: ub.Balance.Net(),
		BalanceBreakdown: breakdown,
		NextQuotaReset:   &reset,
		AutoTopupAdded:   topupAdded,
	}, nil
}

// halt builds the typed error frame for a failed stage. Prompt actions get a
// prompt-error bound to their userInputId; everything else gets a generic
// action-error.
func (g *Gate) halt(action *models.ClientAction, errName, message string) *models.ServerAction {
	if action.Type == models.ActionPrompt {
		return &models.ServerAction{
			Type:        models.ActionPromptError,
			UserInputID: action.PromptID,
			Error:       errName,
			Message:     message,
		}
	}
	return &models.ServerAction{
		Type:    models.ActionActionError,
		Error:   errName,
		Message: message,
	}
}
