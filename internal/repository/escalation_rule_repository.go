package repository

import (
	"context"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// EscalationRuleRepository reads escalation routing configuration.
// Rules are administered outside this service; the engine only resolves
// them by scope specificity.
type EscalationRuleRepository interface {
	// Resolve returns the most specific rule at or below the requested
	// level: subcategory beats category beats domain beats global, and
	// a higher level beats a lower one. pgx.ErrNoRows when none match.
	Resolve(ctx context.Context, scope domain.RuleScope, level int) (*domain.EscalationRule, error)
}

type escalationRuleRepository struct {
	q Querier
}

// NewEscalationRuleRepository instantiates repository.
func NewEscalationRuleRepository(q Querier) EscalationRuleRepository {
	return &escalationRuleRepository{q: q}
}

func (r *escalationRuleRepository) Resolve(ctx context.Context, scope domain.RuleScope, level int) (*domain.EscalationRule, error) {
	const query = `
        SELECT id, domain_id, category_id, subcategory_id, level, escalate_to, tat_hours, notify_channel
        FROM escalation_rules
        WHERE level <= $1
          AND (subcategory_id IS NULL OR subcategory_id = $2)
          AND (category_id IS NULL OR category_id = $3)
          AND (domain_id IS NULL OR domain_id = $4)
        ORDER BY level DESC,
            (subcategory_id IS NOT NULL) DESC,
            (category_id IS NOT NULL) DESC,
            (domain_id IS NOT NULL) DESC
        LIMIT 1`
	var rule domain.EscalationRule
	if err := r.q.QueryRow(ctx, query, level, scope.SubcategoryID, scope.CategoryID, scope.DomainID).Scan(
		&rule.ID,
		&rule.DomainID,
		&rule.CategoryID,
		&rule.SubcategoryID,
		&rule.Level,
		&rule.EscalateTo,
		&rule.TATHours,
		&rule.NotifyChannel,
	); err != nil {
		return nil, err
	}
	return &rule, nil
}
