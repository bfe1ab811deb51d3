package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clusterchat/clusterchat/pkg/audit"
	"github.com/clusterchat/clusterchat/pkg/retrieval"
)

// SearchDocsName is the tool name the model uses to request documentation
// retrieval.
const SearchDocsName = "search_docs"

// Searcher is the retrieval capability SearchDocs delegates to.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) (*retrieval.Result, error)
}

// SearchDocs exposes the retrieval gateway as a model-invocable tool.
// Each successful search is recorded as a retrieval entry in the
// interaction log before the result is handed back.
type SearchDocs struct {
	searcher Searcher
	recorder audit.Recorder
	topK     int
}

// NewSearchDocs creates the search_docs tool.
func NewSearchDocs(searcher Searcher, recorder audit.Recorder, topK int) *SearchDocs {
	if topK <= 0 {
		topK = 4
	}
	return &SearchDocs{searcher: searcher, recorder: recorder, topK: topK}
}

// Name implements Handler.
func (s *SearchDocs) Name() string { return SearchDocsName }

// Definition implements Handler.
func (s *SearchDocs) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        SearchDocsName,
			Description: "Searches the cluster documentation and Q&A knowledge base for material relevant to the query.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "The search query to find relevant documents"
					}
				},
				"required": ["query"]
			}`),
		},
	}
}

type searchDocsArgs struct {
	Query string `json:"query"`
}

// Invoke implements Handler. The session ID carried on the context scopes
// the retrieval log entry to the turn that triggered it.
func (s *SearchDocs) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var parsed searchDocsArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("parse search_docs arguments: %w", err)
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return nil, retrieval.ErrEmptyQuery
	}

	result, err := s.searcher.Search(ctx, parsed.Query, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	s.recordRetrieval(ctx, result)
	return result, nil
}

func (s *SearchDocs) recordRetrieval(ctx context.Context, result *retrieval.Result) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return
	}

	sources := make([]string, 0, len(result.Documents))
	for _, doc := range result.Documents {
		sources = append(sources, doc.Source)
	}
	err := s.recorder.Record(ctx, sessionID, audit.KindRetrieval, map[string]any{
		"query":   result.Query,
		"count":   len(result.Documents),
		"sources": sources,
	})
	if err != nil {
		// A logging failure is secondary; the retrieval result still flows
		// back into the turn.
		log.Printf("audit: record retrieval for session %s: %v", sessionID, err)
	}
}
