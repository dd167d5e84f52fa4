package domain

// RuleScope narrows escalation rules to a slice of the category tree.
// Each field may be nil; a more specific match wins over a broader one.
type RuleScope struct {
	DomainID      *string
	CategoryID    *string
	SubcategoryID *string
}

// EscalationRule is read-only configuration resolved per breach.
// Precedence: subcategory > category > domain > global default.
type EscalationRule struct {
	ID            string
	DomainID      *string
	CategoryID    *string
	SubcategoryID *string
	Level         int
	EscalateTo    string
	TATHours      int
	NotifyChannel string
}
