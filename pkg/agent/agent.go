package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagelens/pagelens/pkg/core"
	"github.com/pagelens/pagelens/pkg/gemini"
	"github.com/pagelens/pagelens/pkg/log"
	"github.com/pagelens/pagelens/pkg/search"
	"github.com/pagelens/pagelens/pkg/store"
)

var logger = log.WithModule("agent")

const (
	defaultMaxSteps     = 10
	defaultHistoryLimit = 20
	defaultLocalTopK    = 10
	maxSummaryLen       = 300
)

// LocalSearcher is the slice of the search engine the agent calls as a
// tool.
type LocalSearcher interface {
	Search(ctx context.Context, query string, mode search.Mode, topK int) ([]search.Result, error)
}

// Source records one retrieval the agent performed while answering.
type Source struct {
	Type      string      `json:"type"`
	Query     string      `json:"query"`
	Summary   string      `json:"summary,omitempty"`
	Citations []WebSource `json:"citations,omitempty"`
}

// Request is one chat turn. SessionID is optional; without it the turn
// is stateless and nothing is persisted. RegionContext carries the text
// of a page region the user selected in the viewer.
type Request struct {
	SessionID     string
	Message       string
	RegionContext string
}

// Reply is the agent's answer plus every source it consulted.
type Reply struct {
	SessionID string   `json:"session_id,omitempty"`
	Text      string   `json:"reply"`
	Sources   []Source `json:"sources"`
}

// Options tune the agent loop. Zero values fall back to defaults.
type Options struct {
	Model        string
	MaxSteps     int
	HistoryLimit int
	LocalTopK    int
}

// Agent answers questions about indexed documents, calling the local
// index and the web as tools until the model produces a final answer.
type Agent struct {
	llm   *gemini.Client
	local LocalSearcher
	web   WebSearcher
	chat  *store.ChatStore
	opts  Options
}

func New(llm *gemini.Client, local LocalSearcher, web WebSearcher, chat *store.ChatStore, opts Options) *Agent {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.LocalTopK <= 0 {
		opts.LocalTopK = defaultLocalTopK
	}
	return &Agent{llm: llm, local: local, web: web, chat: chat, opts: opts}
}

const systemPrompt = `You are a document assistant. You answer questions about the user's indexed PDF documents.
Use the search_local_index tool to look up passages and figures from the indexed documents.
Use the web_search tool only when the documents cannot answer the question.
Cite what you found; if neither source helps, say so plainly.`

func toolDeclarations() []gemini.Tool {
	return []gemini.Tool{{
		FunctionDeclarations: []gemini.FunctionDeclaration{
			{
				Name:        "search_local_index",
				Description: "Search the indexed documents for text passages and labeled figures matching a query.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "What to look for in the indexed documents.",
						},
						"top_k": map[string]interface{}{
							"type":        "integer",
							"description": "How many results to return.",
						},
						"mode": map[string]interface{}{
							"type":        "string",
							"description": "Retrieval mode: hybrid, keyword or semantic.",
						},
					},
					"required": []string{"query"},
				},
			},
			{
				Name:        "web_search",
				Description: "Search the web for information not present in the indexed documents.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "The web search query.",
						},
					},
					"required": []string{"query"},
				},
			},
		},
	}}
}

// Chat runs one agent turn. With a session id the last messages of the
// session are preloaded as context, and the user turn plus the final
// model turn are persisted; tool traffic never is.
func (a *Agent) Chat(ctx context.Context, req Request) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: empty message", core.ErrInvalidInput)
	}

	contents, err := a.buildContext(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	userText := message
	if req.RegionContext != "" {
		userText = fmt.Sprintf("The user has selected this region of a document:\n%s\n\n%s",
			req.RegionContext, message)
	}
	contents = append(contents, gemini.Content{Role: "user", Parts: []gemini.Part{{Text: userText}}})

	text, sources, err := a.runLoop(ctx, contents)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		if _, err := a.chat.AppendMessage(ctx, req.SessionID, "user", message); err != nil {
			return nil, fmt.Errorf("failed to persist user turn: %w", err)
		}
		if _, err := a.chat.AppendMessage(ctx, req.SessionID, "model", text); err != nil {
			return nil, fmt.Errorf("failed to persist model turn: %w", err)
		}
	}

	if sources == nil {
		sources = []Source{}
	}
	return &Reply{SessionID: req.SessionID, Text: text, Sources: sources}, nil
}

func (a *Agent) buildContext(ctx context.Context, sessionID string) ([]gemini.Content, error) {
	if sessionID == "" {
		return nil, nil
	}
	if _, err := a.chat.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	history, err := a.chat.RecentMessages(ctx, sessionID, a.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	contents := make([]gemini.Content, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, gemini.Content{
			Role:  msg.Role,
			Parts: []gemini.Part{{Text: msg.Content}},
		})
	}
	return contents, nil
}

func (a *Agent) runLoop(ctx context.Context, contents []gemini.Content) (string, []Source, error) {
	var sources []Source

	for step := 0; step < a.opts.MaxSteps; step++ {
		resp, err := a.llm.GenerateContent(ctx, a.opts.Model, &gemini.Request{
			Contents:          contents,
			Tools:             toolDeclarations(),
			SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: systemPrompt}}},
		})
		if err != nil {
			return "", nil, fmt.Errorf("agent step %d: %w", step+1, err)
		}
		if len(resp.Candidates) == 0 {
			return "", nil, fmt.Errorf("agent step %d: empty response", step+1)
		}
		candidate := resp.Candidates[0].Content

		var calls []*gemini.FunctionCall
		for _, part := range candidate.Parts {
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			}
		}

		if len(calls) == 0 {
			text, err := gemini.FirstText(resp)
			if err != nil {
				return "", nil, fmt.Errorf("agent step %d: %w", step+1, err)
			}
			return text, sources, nil
		}

		contents = append(contents, candidate)
		responses := make([]gemini.Part, 0, len(calls))
		for _, call := range calls {
			result, source := a.callTool(ctx, call)
			if source != nil {
				sources = append(sources, *source)
			}
			responses = append(responses, gemini.Part{
				FunctionResponse: &gemini.FunctionResponse{
					Name:     call.Name,
					Response: result,
				},
			})
		}
		contents = append(contents, gemini.Content{Role: "user", Parts: responses})
	}

	logger.Warn("agent exhausted its step budget", "steps", a.opts.MaxSteps)
	return "I could not finish answering within my tool budget. Try a more specific question.", sources, nil
}

// callTool dispatches one function call. Tool failures are reported
// back to the model rather than aborting the turn.
func (a *Agent) callTool(ctx context.Context, call *gemini.FunctionCall) (map[string]interface{}, *Source) {
	switch call.Name {
	case "search_local_index":
		return a.callLocalSearch(ctx, call.Args)
	case "web_search":
		return a.callWebSearch(ctx, call.Args)
	default:
		logger.Warn("model requested unknown tool", "tool", call.Name)
		return map[string]interface{}{"error": fmt.Sprintf("unknown tool %q", call.Name)}, nil
	}
}

func (a *Agent) callLocalSearch(ctx context.Context, args map[string]interface{}) (map[string]interface{}, *Source) {
	query, _ := args["query"].(string)
	if query == "" {
		return map[string]interface{}{"error": "query is required"}, nil
	}
	topK := a.opts.LocalTopK
	if v, ok := args["top_k"].(float64); ok && int(v) > 0 {
		topK = int(v)
	}
	mode := search.ModeHybrid
	if v, ok := args["mode"].(string); ok && v != "" {
		parsed, err := search.ParseMode(v)
		if err != nil {
			return map[string]interface{}{"error": err.Error()}, nil
		}
		mode = parsed
	}

	results, err := a.local.Search(ctx, query, mode, topK)
	if err != nil {
		logger.Warn("local search tool failed", "query", query, "error", err)
		return map[string]interface{}{"error": err.Error()}, nil
	}

	payload := make([]map[string]interface{}, 0, len(results))
	var summary strings.Builder
	for _, r := range results {
		entry := map[string]interface{}{
			"result_type":    r.Type,
			"document_id":    r.DocumentID,
			"document_title": r.DocumentTitle,
			"page_num":       r.PageNumber,
			"score":          r.Score,
			"snippet":        r.Snippet,
		}
		if r.Type == "image" {
			entry["region_id"] = r.RegionID
		}
		payload = append(payload, entry)

		if summary.Len() > 0 {
			summary.WriteString("; ")
		}
		summary.WriteString(r.Snippet)
	}

	return map[string]interface{}{"results": payload}, &Source{
		Type:    "local",
		Query:   query,
		Summary: truncateSummary(summary.String()),
	}
}

func (a *Agent) callWebSearch(ctx context.Context, args map[string]interface{}) (map[string]interface{}, *Source) {
	query, _ := args["query"].(string)
	if query == "" {
		return map[string]interface{}{"error": "query is required"}, nil
	}

	answer, citations, err := a.web.Search(ctx, query)
	if err != nil {
		logger.Warn("web search tool failed", "query", query, "error", err)
		return map[string]interface{}{"error": err.Error()}, nil
	}

	return map[string]interface{}{"answer": answer}, &Source{
		Type:      "web",
		Query:     query,
		Summary:   truncateSummary(answer),
		Citations: citations,
	}
}

func truncateSummary(s string) string {
	runes := []rune(s)
	if len(runes) <= maxSummaryLen {
		return s
	}
	return string(runes[:maxSummaryLen-3]) + "..."
}
