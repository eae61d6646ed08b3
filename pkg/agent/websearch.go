package agent

import (
	"context"
	"fmt"

	"github.com/pagelens/pagelens/pkg/gemini"
)

// WebSource is one grounded citation from the search tool.
type WebSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// WebSearcher answers a query from the open web.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, []WebSource, error)
}

// GroundedWebSearch runs the query through a Gemini model with the
// built-in google search tool and collects its grounding citations.
type GroundedWebSearch struct {
	client *gemini.Client
	model  string
}

const maxWebSources = 5

func NewGroundedWebSearch(client *gemini.Client, model string) *GroundedWebSearch {
	return &GroundedWebSearch{client: client, model: model}
}

func (g *GroundedWebSearch) Search(ctx context.Context, query string) (string, []WebSource, error) {
	resp, err := g.client.GenerateContent(ctx, g.model, &gemini.Request{
		Contents: []gemini.Content{{
			Role:  "user",
			Parts: []gemini.Part{{Text: query}},
		}},
		Tools: []gemini.Tool{{GoogleSearch: &gemini.GoogleSearch{}}},
	})
	if err != nil {
		return "", nil, fmt.Errorf("web search failed: %w", err)
	}

	text, err := gemini.FirstText(resp)
	if err != nil {
		return "", nil, fmt.Errorf("web search returned no answer: %w", err)
	}

	var sources []WebSource
	if meta := resp.Candidates[0].GroundingMetadata; meta != nil {
		for _, chunk := range meta.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			sources = append(sources, WebSource{Title: chunk.Web.Title, URI: chunk.Web.URI})
			if len(sources) == maxWebSources {
				break
			}
		}
	}
	return text, sources, nil
}
