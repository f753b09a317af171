package signals

import (
	"fmt"
	"testing"
	"time"

	"github.com/matthewbaird/rentflow/internal/types"
)

var now = time.Date(2024, time.June, 30, 12, 0, 0, 0, time.UTC)

var seq int

func makeActivity(eventType, category, weight, polarity string, daysAgo int) types.ActivityEntry {
	seq++
	return types.ActivityEntry{
		EventID:           fmt.Sprintf("evt-%d", seq),
		EventType:         eventType,
		OccurredAt:        now.AddDate(0, 0, -daysAgo),
		IndexedEntityType: "lease",
		IndexedEntityID:   "test-lease",
		EntityRole:        "subject",
		Summary:           "test entry",
		Category:          category,
		Weight:            weight,
		Polarity:          polarity,
	}
}

func late(daysAgo int) types.ActivityEntry {
	return makeActivity("period_marked_late", "late_fee", "major", "negative", daysAgo)
}

func paid(daysAgo int) types.ActivityEntry {
	return makeActivity("payment_recorded", "payment", "major", "positive", daysAgo)
}

func hasEscalation(s Summary, id string) bool {
	for _, e := range s.Escalations {
		if e.Rule.ID == id {
			return true
		}
	}
	return false
}

func TestAggregate_CategoryCounts(t *testing.T) {
	entries := []types.ActivityEntry{paid(10), paid(40), late(5)}
	summary := Aggregate(entries, "lease", "test-lease", now.AddDate(0, -6, 0), now)

	if len(summary.Categories) != 2 {
		t.Errorf("got %d categories, want 2", len(summary.Categories))
	}
	if summary.Categories["payment"].SignalCount != 2 {
		t.Errorf("payment count = %d, want 2", summary.Categories["payment"].SignalCount)
	}
	if summary.Categories["late_fee"].ByWeight["major"] != 1 {
		t.Errorf("late_fee major = %d, want 1", summary.Categories["late_fee"].ByWeight["major"])
	}
	if summary.OverallSentiment != "positive" {
		t.Errorf("sentiment = %q, want positive", summary.OverallSentiment)
	}
}

func TestAggregate_LatePattern(t *testing.T) {
	entries := []types.ActivityEntry{late(20), late(50), late(80), paid(10)}
	summary := Aggregate(entries, "lease", "test-lease", now.AddDate(0, -6, 0), now)

	if !hasEscalation(summary, "rent_late_pattern") {
		t.Fatalf("expected rent_late_pattern, got %+v", summary.Escalations)
	}
	if hasEscalation(summary, "rent_late_chronic") {
		t.Error("rent_late_chronic should need six late periods")
	}
	if summary.OverallSentiment != "concerning" {
		t.Errorf("sentiment = %q, want concerning", summary.OverallSentiment)
	}
}

func TestAggregate_LateOutsideWindow(t *testing.T) {
	entries := []types.ActivityEntry{late(20), late(200), late(300)}
	summary := Aggregate(entries, "lease", "test-lease", now.AddDate(-1, 0, 0), now)
	if hasEscalation(summary, "rent_late_pattern") {
		t.Error("entries older than 180 days must not count")
	}
}

func TestAggregate_ChronicIsCritical(t *testing.T) {
	var entries []types.ActivityEntry
	for i := 0; i < 6; i++ {
		entries = append(entries, late(30+i*50))
	}
	summary := Aggregate(entries, "lease", "test-lease", now.AddDate(-1, 0, 0), now)
	if summary.OverallSentiment != "critical" {
		t.Errorf("sentiment = %q, want critical", summary.OverallSentiment)
	}
}

func TestEvaluateEscalations_SameEventCountsOnce(t *testing.T) {
	e := late(10)
	tenantCopy := e
	tenantCopy.IndexedEntityType = "tenant"
	entries := []types.ActivityEntry{e, tenantCopy, late(40)}
	for _, es := range EvaluateEscalations(entries, now) {
		if es.Rule.ID == "rent_late_pattern" {
			t.Fatal("two distinct events must not trigger a rule needing three")
		}
	}
}

func TestEvaluateEscalations_CrossCategory(t *testing.T) {
	entries := []types.ActivityEntry{
		late(10),
		late(40),
		makeActivity("payment_failed", "payment", "minor", "negative", 5),
	}
	found := false
	for _, es := range EvaluateEscalations(entries, now) {
		if es.Rule.ID == "late_fees_unpaid" {
			found = true
			if es.TriggeringCount != 3 {
				t.Errorf("triggering count = %d, want 3", es.TriggeringCount)
			}
		}
	}
	if !found {
		t.Error("expected late_fees_unpaid")
	}
}

func TestComputeTrend(t *testing.T) {
	since := now.AddDate(0, 0, -100)
	entries := []types.ActivityEntry{late(5), late(10), late(20), late(90)}
	if got := computeTrend(entries, "late_fee", since, now); got != "increasing" {
		t.Errorf("trend = %q, want increasing", got)
	}
	if got := computeTrend(entries, "payment", since, now); got != "stable" {
		t.Errorf("trend = %q, want stable", got)
	}
}
