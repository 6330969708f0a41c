package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

// Resolver implements ports.ContextResolver with a language model. It
// rewrites referential queries ("what about under $10") into
// self-contained ones using prior turns, and summarizes the context
// relevant to the rewritten query. Pure function of its inputs: no side
// effects on the session.
type Resolver struct {
	llm    ports.LanguageModel
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(llm ports.LanguageModel, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{llm: llm, logger: logger}
}

// Resolve rewrites the query against prior turns. Self-preference
// queries are returned verbatim: rewriting them would corrupt the
// literal phrasing the classifier's precedence check depends on.
func (r *Resolver) Resolve(ctx context.Context, query string, turns []entities.Turn, facts entities.SessionFacts) (string, string, error) {
	if IsSelfPreference(query) {
		return query, "", nil
	}
	if len(turns) == 0 && len(facts.UserAllergens) == 0 {
		// Nothing to resolve against.
		return query, "", nil
	}

	contextBlock := renderContext(turns, facts)

	resp, err := r.llm.Complete(ctx, rewritePrompt(query, contextBlock))
	if err != nil {
		return "", "", fmt.Errorf("rewriting query: %w", err)
	}
	resolved := strings.TrimSpace(resp)
	if resolved == "" {
		resolved = query
	}

	summary, err := r.llm.Complete(ctx, summaryPrompt(resolved, contextBlock))
	if err != nil {
		// The rewrite alone is still useful.
		r.logger.Warn("context summarization failed", zap.Error(err))
		return resolved, "", nil
	}

	return resolved, strings.TrimSpace(summary), nil
}

// renderContext flattens turns and session facts into the text block
// both prompts consume. Allergen facts come first, mirroring how the
// session store orders them.
func renderContext(turns []entities.Turn, facts entities.SessionFacts) string {
	var sb strings.Builder
	if len(facts.UserAllergens) > 0 {
		sb.WriteString("User is allergic to: " + strings.Join(facts.UserAllergens, ", ") + "\n")
	}
	for _, t := range turns {
		fmt.Fprintf(&sb, "Previous query: %s\nResult: %s\n", t.Query, t.Summary)
	}
	return sb.String()
}

func rewritePrompt(query, contextBlock string) string {
	var sb strings.Builder
	sb.WriteString(`You are a context resolver for a food assistant.
Your job is to interpret the current user query in the context of prior conversation.

User query: `)
	sb.WriteString(query)
	sb.WriteString("\n\nPrevious Context:\n")
	sb.WriteString(contextBlock)
	sb.WriteString(`
Task: Rewrite the query to be self-contained by incorporating relevant context.

Rules:
1. DO NOT rewrite user preference queries: if the query asks about the USER'S OWN preferences, allergens, or account info (e.g., "what am I allergic to?"), return it EXACTLY as-is without any changes.
2. If the user query refers to something previously mentioned (e.g., "that", "those", "it"), resolve what it refers to.
3. If the user query is a refinement (adds a constraint without mentioning a dish type):
   - Example: Previous query: "show me pizzas", Current query: "under $20" -> Rewrite to: "show me pizzas under $20"
   - Example: Previous query: "burgers", Current query: "gluten-free" -> Rewrite to: "show me gluten-free burgers"
4. If the user query is a new request (mentions a new dish type or topic), use it as-is.
5. If user allergens are in context, do not add them to the query (they are handled separately).

Return ONLY the rewritten query text, nothing else.`)
	return sb.String()
}

func summaryPrompt(query, contextBlock string) string {
	var sb strings.Builder
	sb.WriteString(`You are summarizing conversation context for another model.
Given the following context, extract only relevant information that might help answer the query below.

Context: `)
	sb.WriteString(contextBlock)
	sb.WriteString("\nQuery: ")
	sb.WriteString(query)
	sb.WriteString("\n\nReturn a short, factual summary (under 300 words) describing relevant dishes, filters, or results. If nothing is relevant, return an empty response.")
	return sb.String()
}
