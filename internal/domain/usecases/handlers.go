// Package usecases - handlers.go holds the per-category handlers the
// dispatcher fans out to.
package usecases

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/entities"
)

const irrelevantReply = "I can only help with questions about this menu or your saved preferences."

// handleItemSearch retrieves ranked items for each search clause. The
// resolved context summary is appended to the clause before retrieval
// so refinements like "under $10" carry their subject, but results stay
// keyed by the original clause text.
func (p *Pipeline) handleItemSearch(ctx context.Context, clauses []string, cls classifiedQuery) []entities.ClauseResult {
	results := make([]entities.ClauseResult, 0, len(clauses))
	for _, clause := range clauses {
		q := clause
		if cls.summary != "" {
			q = clause + "\n\nAdditional context:\n" + cls.summary
		}
		hits, err := p.retrieval.Retrieve(ctx, q, cls.query.ScopeID)
		if err != nil {
			p.logger.Error("item search failed", zap.String("clause", clause), zap.Error(err))
			results = append(results, entities.ClauseResult{
				Clause:   clause,
				Category: entities.CategoryItemSearch,
				Err:      err,
			})
			continue
		}
		results = append(results, entities.ClauseResult{
			Clause:   clause,
			Category: entities.CategoryItemSearch,
			Items:    hits,
		})
	}
	return results
}

// handleItemDetail answers questions about specific items. Questions
// that do not depend on catalog data at all ("does chocolate contain
// gluten?") are answered from general knowledge without a search;
// everything else retrieves the item first and extracts the requested
// detail from its data.
func (p *Pipeline) handleItemDetail(ctx context.Context, clauses []string, cls classifiedQuery) []entities.ClauseResult {
	results := make([]entities.ClauseResult, 0, len(clauses))
	for _, clause := range clauses {
		results = append(results, p.detailClause(ctx, clause, cls))
	}
	return results
}

func (p *Pipeline) detailClause(ctx context.Context, clause string, cls classifiedQuery) entities.ClauseResult {
	out := entities.ClauseResult{Clause: clause, Category: entities.CategoryItemDetail}

	needsMenu, err := p.requiresMenuData(ctx, clause)
	if err != nil {
		p.logger.Error("detail intent derivation failed", zap.String("clause", clause), zap.Error(err))
		out.Err = err
		return out
	}

	if !needsMenu {
		answer, err := p.llm.Complete(ctx, generalKnowledgePrompt(clause))
		if err != nil {
			out.Err = err
			return out
		}
		out.Answer = strings.TrimSpace(answer)
		return out
	}

	hits, err := p.retrieval.Retrieve(ctx, clause, cls.query.ScopeID)
	if err != nil {
		out.Err = err
		return out
	}
	out.Items = hits
	if len(hits) == 0 {
		out.Answer = "No matching items were found for that question."
		return out
	}

	answer, err := p.llm.Complete(ctx, detailPrompt(clause, hits))
	if err != nil {
		// The retrieved items still stand on their own.
		p.logger.Warn("detail extraction failed, returning items only", zap.Error(err))
		return out
	}
	out.Answer = strings.TrimSpace(answer)
	return out
}

// requiresMenuData decides whether a detail question depends on catalog
// data. Unparseable output defaults to consulting the menu, the safer
// direction.
func (p *Pipeline) requiresMenuData(ctx context.Context, clause string) (bool, error) {
	resp, err := p.llm.Complete(ctx, detailIntentPrompt(clause))
	if err != nil {
		return false, err
	}
	return !strings.Contains(strings.ToLower(resp), "general_knowledge"), nil
}

// handleSelfPreference answers questions about the user's own stored
// attributes from session facts. No vector search is involved.
func (p *Pipeline) handleSelfPreference(ctx context.Context, clauses []string, cls classifiedQuery) []entities.ClauseResult {
	results := make([]entities.ClauseResult, 0, len(clauses))
	for _, clause := range clauses {
		out := entities.ClauseResult{Clause: clause, Category: entities.CategorySelfPreference}
		out.Answer = p.preferenceAnswer(ctx, clause, cls.facts)
		results = append(results, out)
	}
	return results
}

func (p *Pipeline) preferenceAnswer(ctx context.Context, clause string, facts entities.SessionFacts) string {
	fallback := "You haven't set any allergen preferences yet."
	if len(facts.UserAllergens) > 0 {
		fallback = "You are allergic to: " + strings.Join(facts.UserAllergens, ", ") + "."
	}

	answer, err := p.llm.Complete(ctx, preferencePrompt(clause, facts.UserAllergens))
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			p.logger.Warn("preference phrasing failed, using fallback", zap.Error(err))
		}
		return fallback
	}
	return strings.TrimSpace(answer)
}

// handleIrrelevant produces the static polite rejection.
func (p *Pipeline) handleIrrelevant(clauses []string) []entities.ClauseResult {
	results := make([]entities.ClauseResult, 0, len(clauses))
	for _, clause := range clauses {
		results = append(results, entities.ClauseResult{
			Clause:   clause,
			Category: entities.CategoryIrrelevant,
			Answer:   irrelevantReply,
		})
	}
	return results
}

// synthesize turns the merged results into one best-effort answer
// string. Failures leave the structured results to speak for
// themselves.
func (p *Pipeline) synthesize(ctx context.Context, query string, results []entities.ClauseResult) string {
	answer, err := p.llm.Complete(ctx, synthesisPrompt(query, results))
	if err != nil {
		p.logger.Warn("response synthesis failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(answer)
}

func detailIntentPrompt(clause string) string {
	var sb strings.Builder
	sb.WriteString("You are an intent analyzer for a food assistant.\n\n")
	sb.WriteString("Given a question, decide whether answering it requires fetching restaurant menu data.\n\n")
	sb.WriteString("Reply with exactly one word:\n")
	sb.WriteString("- requires_menu_data if the question is about dishes, ingredients, allergens, calories, or menu items that might exist in the restaurant data.\n")
	sb.WriteString("- general_knowledge if the question is conceptual and does not depend on any restaurant data.\n\n")
	sb.WriteString("Question: " + clause)
	return sb.String()
}

func generalKnowledgePrompt(clause string) string {
	var sb strings.Builder
	sb.WriteString("You are a food assistant. Answer the following question using general food knowledge only. ")
	sb.WriteString("Do NOT assume restaurant-specific information unless explicitly mentioned.\n\n")
	sb.WriteString("Question: " + clause)
	return sb.String()
}

func detailPrompt(clause string, hits []entities.RankedHit) string {
	var sb strings.Builder
	sb.WriteString("You are a food information assistant. Using ONLY the following dish data, answer the user's question.\n\n")
	sb.WriteString("Question: " + clause + "\n\nDish Data:\n")
	for _, h := range hits {
		sb.WriteString("\n" + h.Item.CanonicalText())
	}
	return sb.String()
}

func preferencePrompt(clause string, allergens []string) string {
	list := "None set"
	if len(allergens) > 0 {
		list = strings.Join(allergens, ", ")
	}
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions about the user's preferences and account information.\n\n")
	sb.WriteString("User Question: " + clause + "\n\n")
	sb.WriteString("User Information:\n- Allergen Preferences: " + list + "\n\n")
	sb.WriteString("Provide a short, conversational answer. If they ask about allergens and the list is empty, ")
	sb.WriteString("tell them they haven't set any allergen preferences yet. Reply with the answer text only.")
	return sb.String()
}

func synthesisPrompt(query string, results []entities.ClauseResult) string {
	var sb strings.Builder
	sb.WriteString("You are a restaurant assistant. Compose one concise reply to the user's question from the data below. ")
	sb.WriteString("Do not invent dishes that are not listed.\n\n")
	sb.WriteString("User question: " + query + "\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "\nSub-request (%s): %s\n", r.Category, r.Clause)
		if r.Answer != "" {
			sb.WriteString("Answer: " + r.Answer + "\n")
		}
		for _, h := range r.Items {
			fmt.Fprintf(&sb, "- %s ($%.2f): %s\n", h.Item.Name, h.Item.Price, h.Item.Description)
		}
		if r.Err != nil {
			sb.WriteString("This part could not be answered.\n")
		}
	}
	return sb.String()
}
