package repository

import (
	"strings"

	"github.com/hashicorp/go-bexpr"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/models"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// evaluatorCache stores compiled go-bexpr evaluators keyed by expression
var evaluatorCache, _ = lru.New[string, *bexpr.Evaluator](256)

// compileFilter returns nil for an empty expression (no constraint).
func compileFilter(expr string) (*bexpr.Evaluator, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if cached, ok := evaluatorCache.Get(expr); ok {
		return cached, nil
	}

	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, domain.ErrValidation("filter", "invalid expression: %v", err)
	}
	evaluatorCache.Add(expr, evaluator)
	return evaluator, nil
}

// matches evaluates a compiled filter; a selector the datum lacks is a
// non-match rather than an error.
func matches(evaluator *bexpr.Evaluator, datum map[string]any) bool {
	if evaluator == nil {
		return true
	}
	ok, err := evaluator.Evaluate(datum)
	return err == nil && ok
}

func accountDatum(a *models.Account) map[string]any {
	return map[string]any{
		"id":     a.ID,
		"name":   a.Name,
		"email":  a.Email,
		"status": string(a.Status),
	}
}

func systemDatum(s *models.System) map[string]any {
	return map[string]any{
		"id":              s.ID,
		"name":            s.Name,
		"description":     s.Description,
		"available_roles": []string(s.AvailableRoles),
		"status":          string(s.Status),
	}
}

func filterAccounts(expr string, accounts []models.Account) ([]models.Account, error) {
	evaluator, err := compileFilter(expr)
	if err != nil || evaluator == nil {
		return accounts, err
	}
	out := accounts[:0]
	for i := range accounts {
		if matches(evaluator, accountDatum(&accounts[i])) {
			out = append(out, accounts[i])
		}
	}
	return out, nil
}

func filterSystems(expr string, systems []models.System) ([]models.System, error) {
	evaluator, err := compileFilter(expr)
	if err != nil || evaluator == nil {
		return systems, err
	}
	out := systems[:0]
	for i := range systems {
		if matches(evaluator, systemDatum(&systems[i])) {
			out = append(out, systems[i])
		}
	}
	return out, nil
}
