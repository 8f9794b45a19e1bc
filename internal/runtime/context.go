package runtime

import (
	"github.com/relaylabs/relay/internal/billing"
	"github.com/relaylabs/relay/pkg/models"
)

// RequestContext carries everything a prompt run needs to know about its
// caller. It is built once by the gateway after the gating chain passes and
// handed down explicitly; business data never rides in context.Context.
type RequestContext struct {
	// UserID is the authenticated user.
	UserID string

	// FingerprintID identifies the client install.
	FingerprintID string

	// PromptID is the client-chosen ID for this prompt (userInputId in the
	// stream protocol).
	PromptID string

	// SessionID is the websocket session the prompt arrived on.
	SessionID string

	// RepoURL is the repository the client reported, when any.
	RepoURL string

	// CostMode selects the default agent template.
	CostMode models.CostMode

	// Org is the organization paying for this prompt; nil when the user
	// pays personally.
	Org *billing.Organization

	// FileContext is the client's project snapshot for prompt assembly.
	FileContext *models.ProjectFileContext
}

// Principal returns the billing principal charged for this run.
func (rc *RequestContext) Principal() (billing.PrincipalType, string) {
	if rc.Org != nil {
		return billing.PrincipalOrg, rc.Org.ID
	}
	return billing.PrincipalUser, rc.UserID
}
