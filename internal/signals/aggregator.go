package signals

import (
	"slices"
	"sort"
	"time"

	"github.com/matthewbaird/rentflow/internal/types"
)

// CategorySummary counts the activity of one category.
type CategorySummary struct {
	Category         string         `json:"category"`
	SignalCount      int            `json:"signal_count"`
	ByWeight         map[string]int `json:"by_weight"`
	ByPolarity       map[string]int `json:"by_polarity"`
	DominantPolarity string         `json:"dominant_polarity"`
	Trend            string         `json:"trend"`
}

// Summary is the aggregated activity of one entity over a window.
type Summary struct {
	EntityType       string                     `json:"entity_type"`
	EntityID         string                     `json:"entity_id"`
	Since            time.Time                  `json:"since"`
	Until            time.Time                  `json:"until"`
	Categories       map[string]CategorySummary `json:"categories"`
	OverallSentiment string                     `json:"overall_sentiment"`
	SentimentReason  string                     `json:"sentiment_reason"`
	Escalations      []Escalation               `json:"escalations"`
}

// Aggregate produces a Summary from a set of activity entries within a time
// window. Escalation windows end at until.
func Aggregate(entries []types.ActivityEntry, entityType, entityID string, since, until time.Time) Summary {
	categories := make(map[string]*CategorySummary)

	for _, entry := range entries {
		cat := entry.Category
		cs, exists := categories[cat]
		if !exists {
			cs = &CategorySummary{
				Category:   cat,
				ByWeight:   make(map[string]int),
				ByPolarity: make(map[string]int),
			}
			categories[cat] = cs
		}
		cs.SignalCount++
		cs.ByWeight[entry.Weight]++
		cs.ByPolarity[entry.Polarity]++
	}

	result := make(map[string]CategorySummary, len(categories))
	for cat, cs := range categories {
		cs.DominantPolarity = dominantPolarity(cs.ByPolarity)
		cs.Trend = computeTrend(entries, cat, since, until)
		result[cat] = *cs
	}

	escalations := EvaluateEscalations(entries, until)
	sentiment, reason := computeSentiment(result, escalations)

	return Summary{
		EntityType:       entityType,
		EntityID:         entityID,
		Since:            since,
		Until:            until,
		Categories:       result,
		OverallSentiment: sentiment,
		SentimentReason:  reason,
		Escalations:      escalations,
	}
}

// EvaluateEscalations returns the rules that fire for entries in windows
// ending at now.
func EvaluateEscalations(entries []types.ActivityEntry, now time.Time) []Escalation {
	escalated := []Escalation{}
	for _, rule := range Rules {
		if es, ok := evaluateRule(rule, entries, now); ok {
			escalated = append(escalated, es)
		}
	}
	return escalated
}

func evaluateRule(rule Rule, entries []types.ActivityEntry, now time.Time) (Escalation, bool) {
	switch rule.Trigger {
	case "count":
		return evaluateCountRule(rule, entries, now)
	case "cross_category":
		return evaluateCrossCategoryRule(rule, entries, now)
	}
	return Escalation{}, false
}

func evaluateCountRule(rule Rule, entries []types.ActivityEntry, now time.Time) (Escalation, bool) {
	windowStart := now.AddDate(0, 0, -rule.WithinDays)

	var matching []types.ActivityEntry
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.OccurredAt.Before(windowStart) || e.OccurredAt.After(now) {
			continue
		}
		if len(rule.EventTypes) > 0 && !slices.Contains(rule.EventTypes, e.EventType) {
			continue
		}
		if rule.Category != "" && e.Category != rule.Category {
			continue
		}
		if rule.Polarity != "" && e.Polarity != rule.Polarity {
			continue
		}
		// An event indexed under several entities counts once.
		if seen[e.EventID] {
			continue
		}
		seen[e.EventID] = true
		matching = append(matching, e)
	}

	if len(matching) < rule.Count {
		return Escalation{}, false
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].OccurredAt.Before(matching[j].OccurredAt)
	})

	return Escalation{
		Rule:             rule,
		TriggeringCount:  len(matching),
		EarliestOccurred: matching[0].OccurredAt,
		LatestOccurred:   matching[len(matching)-1].OccurredAt,
	}, true
}

func evaluateCrossCategoryRule(rule Rule, entries []types.ActivityEntry, now time.Time) (Escalation, bool) {
	windowStart := now.AddDate(0, 0, -rule.WithinDays)

	counts := make(map[string]int)
	seen := make(map[string]bool)
	var earliest, latest time.Time

	for _, e := range entries {
		if e.OccurredAt.Before(windowStart) || e.OccurredAt.After(now) || seen[e.EventID] {
			continue
		}
		for _, req := range rule.RequiredCategories {
			if e.Category != req.Category || (req.Polarity != "" && e.Polarity != req.Polarity) {
				continue
			}
			seen[e.EventID] = true
			counts[req.Category]++
			if earliest.IsZero() || e.OccurredAt.Before(earliest) {
				earliest = e.OccurredAt
			}
			if e.OccurredAt.After(latest) {
				latest = e.OccurredAt
			}
		}
	}

	totalMatching := 0
	for _, req := range rule.RequiredCategories {
		if counts[req.Category] < req.MinCount {
			return Escalation{}, false
		}
		totalMatching += counts[req.Category]
	}

	return Escalation{
		Rule:             rule,
		TriggeringCount:  totalMatching,
		EarliestOccurred: earliest,
		LatestOccurred:   latest,
	}, true
}

// dominantPolarity returns the polarity with the highest count. Ties go to
// the alphabetically first polarity so the result is stable.
func dominantPolarity(byPolarity map[string]int) string {
	best := ""
	bestCount := 0
	for p, c := range byPolarity {
		if c > bestCount || (c == bestCount && p < best) {
			best = p
			bestCount = c
		}
	}
	return best
}

// computeTrend compares the category's volume in the two halves of the window.
func computeTrend(entries []types.ActivityEntry, category string, since, until time.Time) string {
	mid := since.Add(until.Sub(since) / 2)
	var firstHalf, secondHalf int
	for _, e := range entries {
		if e.Category != category {
			continue
		}
		if e.OccurredAt.Before(mid) {
			firstHalf++
		} else {
			secondHalf++
		}
	}

	if secondHalf > firstHalf+1 {
		return "increasing"
	}
	if firstHalf > secondHalf+1 {
		return "decreasing"
	}
	return "stable"
}

// computeSentiment determines overall sentiment from category summaries and escalations.
func computeSentiment(categories map[string]CategorySummary, escalations []Escalation) (string, string) {
	for _, e := range escalations {
		if e.Rule.EscalatedWeight == "critical" {
			return "critical", "Critical escalation triggered: " + e.Rule.EscalatedDescription
		}
	}

	var criticalCount, majorCount, negativeCount, positiveCount int
	for _, cs := range categories {
		criticalCount += cs.ByWeight["critical"]
		negativeCount += cs.ByPolarity["negative"]
		positiveCount += cs.ByPolarity["positive"]
	}
	for _, e := range escalations {
		if e.Rule.EscalatedWeight == "major" {
			majorCount++
		}
	}

	if criticalCount > 0 {
		return "critical", "Critical-weight activity requires immediate attention."
	}
	if majorCount > 0 || negativeCount > positiveCount*2 {
		return "concerning", "A major escalation fired or activity is predominantly negative."
	}
	if negativeCount > positiveCount {
		return "mixed", "More negative than positive activity, but no escalation."
	}
	return "positive", "Activity is predominantly positive or neutral."
}
