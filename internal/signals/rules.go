// Package signals summarises the activity of a lease, tenant or agency into
// per-category counts, trends and escalations such as repeated late rent.
package signals

import "time"

// Rule escalates a pattern of activity into a stronger signal.
type Rule struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	// Trigger is "count" or "cross_category".
	Trigger     string   `json:"trigger"`
	EventTypes  []string `json:"event_types,omitempty"`
	Category    string   `json:"category,omitempty"`
	Polarity    string   `json:"polarity,omitempty"`
	Count       int      `json:"count,omitempty"`
	WithinDays  int      `json:"within_days"`

	RequiredCategories []CategoryCount `json:"required_categories,omitempty"`

	EscalatedWeight      string `json:"escalated_weight"`
	EscalatedDescription string `json:"escalated_description"`
	RecommendedAction    string `json:"recommended_action"`
}

// CategoryCount is one requirement of a cross-category rule.
type CategoryCount struct {
	Category string `json:"category"`
	Polarity string `json:"polarity,omitempty"`
	MinCount int    `json:"min_count"`
}

// Escalation is a rule that fired.
type Escalation struct {
	Rule             Rule      `json:"rule"`
	TriggeringCount  int       `json:"triggering_count"`
	EarliestOccurred time.Time `json:"earliest_occurred"`
	LatestOccurred   time.Time `json:"latest_occurred"`
}

// Rules are the escalation rules evaluated by Aggregate.
var Rules = []Rule{
	{
		ID:                   "rent_late_pattern",
		Description:          "Repeated late rent indicates financial stress",
		Trigger:              "count",
		EventTypes:           []string{"period_marked_late"},
		Count:                3,
		WithinDays:           180,
		EscalatedWeight:      "major",
		EscalatedDescription: "3+ rent periods late in 6 months.",
		RecommendedAction:    "Contact the tenant and offer a payment plan.",
	},
	{
		ID:                   "rent_late_chronic",
		Description:          "Rent is late most months",
		Trigger:              "count",
		EventTypes:           []string{"period_marked_late"},
		Count:                6,
		WithinDays:           365,
		EscalatedWeight:      "critical",
		EscalatedDescription: "6+ rent periods late in 12 months.",
		RecommendedAction:    "Review the lease with the owner before renewal.",
	},
	{
		ID:                   "gateway_failures",
		Description:          "Online payments keep failing",
		Trigger:              "count",
		EventTypes:           []string{"payment_failed"},
		Count:                2,
		WithinDays:           30,
		EscalatedWeight:      "minor",
		EscalatedDescription: "2+ failed gateway payments in 30 days.",
		RecommendedAction:    "Suggest another payment method.",
	},
	{
		ID:          "late_fees_unpaid",
		Description: "Late fees pile up alongside failed or late payments",
		Trigger:     "cross_category",
		RequiredCategories: []CategoryCount{
			{Category: "late_fee", Polarity: "negative", MinCount: 2},
			{Category: "payment", Polarity: "negative", MinCount: 1},
		},
		WithinDays:           90,
		EscalatedWeight:      "major",
		EscalatedDescription: "Late fees and payment problems within 3 months.",
		RecommendedAction:    "Settle outstanding late fees before they grow.",
	},
}
