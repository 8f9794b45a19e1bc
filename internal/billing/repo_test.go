package billing

import "testing"

func TestExtractOwnerAndRepo(t *testing.T) {
	tests := []struct {
		in    string
		owner string
		repo  string
		ok    bool
	}{
		{"https://github.com/acme/widgets", "acme", "widgets", true},
		{"https://github.com/acme/widgets.git", "acme", "widgets", true},
		{"https://github.com/Acme/Widgets/", "acme", "widgets", true},
		{"git@github.com:acme/widgets.git", "acme", "widgets", true},
		{"ssh://git@github.com/acme/widgets", "acme", "widgets", true},
		{"acme/widgets", "acme", "widgets", true},
		{"https://gitlab.com/group/subgroup/widgets", "subgroup", "widgets", true},
		{"", "", "", false},
		{"widgets", "", "", false},
		{"https://github.com/", "", "", false},
	}

	for _, tt := range tests {
		owner, repo, ok := ExtractOwnerAndRepo(tt.in)
		if ok != tt.ok || owner != tt.owner || repo != tt.repo {
			t.Errorf("ExtractOwnerAndRepo(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, owner, repo, ok, tt.owner, tt.repo, tt.ok)
		}
	}
}
