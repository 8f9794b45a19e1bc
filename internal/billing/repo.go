package billing

import (
	"net/url"
	"strings"
)

// ExtractOwnerAndRepo parses common repository URL shapes into an
// owner/repo pair:
//
//	https://github.com/owner/repo
//	https://github.com/owner/repo.git
//	git@github.com:owner/repo.git
//	ssh://git@github.com/owner/repo
//	owner/repo
//
// Comparison is case-insensitive, so results are lowercased.
func ExtractOwnerAndRepo(repoURL string) (owner, repo string, ok bool) {
	s := strings.TrimSpace(repoURL)
	if s == "" {
		return "", "", false
	}

	// scp-like syntax: git@host:owner/repo.git
	if at := strings.Index(s, "@"); at >= 0 && !strings.Contains(s, "://") {
		if colon := strings.Index(s[at:], ":"); colon >= 0 {
			s = s[at+colon+1:]
		}
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", "", false
		}
		s = strings.TrimPrefix(u.Path, "/")
	}

	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return "", "", false
	}
	// Hosts with nested groups keep the last two segments.
	owner = strings.ToLower(parts[len(parts)-2])
	repo = strings.ToLower(parts[len(parts)-1])
	if owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}
