package tools

import (
	"context"

	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/pkg/models"
)

// SearchClient reaches the external search and documentation services that
// back the server-executed tools.
type SearchClient interface {
	// WebSearch runs a web search at the given depth ("standard" or "deep").
	WebSearch(ctx context.Context, query, depth string) (string, error)

	// ReadDocs fetches documentation for a library, optionally narrowed to a
	// topic and capped at roughly maxTokens tokens.
	ReadDocs(ctx context.Context, libraryTitle, topic string, maxTokens int) (string, error)
}

// Server tools fetch before waiting on the previous call so the network I/O
// overlaps with earlier tools in the step. The charge is part of the result,
// applied by the step executor after the result is accepted in order.

func webSearchTool(search SearchClient, pricing *config.PricingConfig) *Definition {
	return &Definition{
		Name:        "web_search",
		Description: "Search the web and return a digest of results.",
		InputSchema: schemaFor[webSearchParams](),
		Kind:        KindServer,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[webSearchParams](hc.Args)
			if err != nil {
				return nil, err
			}
			depth := params.Depth
			if depth == "" {
				depth = "standard"
			}

			results, fetchErr := search.WebSearch(hc.Ctx, params.Query, depth)

			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			if fetchErr != nil {
				return errResult("web search failed: " + fetchErr.Error()), nil
			}
			return &Result{
				Output:      []models.ToolResultOutput{models.TextOutput(results)},
				CreditsUsed: pricing.WebSearchCredits(depth),
			}, nil
		},
	}
}

func readDocsTool(search SearchClient, pricing *config.PricingConfig) *Definition {
	return &Definition{
		Name:        "read_docs",
		Description: "Fetch up-to-date documentation for a library.",
		InputSchema: schemaFor[readDocsParams](),
		Kind:        KindServer,
		Handler: func(hc *HandlerContext) (*Result, error) {
			params, err := decodeArgs[readDocsParams](hc.Args)
			if err != nil {
				return nil, err
			}

			docs, fetchErr := search.ReadDocs(hc.Ctx, params.LibraryTitle, params.Topic, params.MaxTokens)

			if err := hc.AwaitPrev(); err != nil {
				return nil, err
			}
			if fetchErr != nil {
				return errResult("failed to fetch docs: " + fetchErr.Error()), nil
			}
			return &Result{
				Output:      []models.ToolResultOutput{models.TextOutput(docs)},
				CreditsUsed: pricing.ToolCreditsFor("read_docs"),
			}, nil
		},
	}
}
