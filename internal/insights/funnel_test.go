package insights

import (
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeFunnelAveragesStagePairs(t *testing.T) {
	journeys := []LeadJourney{
		{
			CreatedAt: day(1),
			Events: []StageEvent{
				{Status: "novo_lead", At: day(1)},
				{Status: "contato_realizado", At: day(3)},
				{Status: "qualificacao", At: day(6)},
			},
		},
		{
			CreatedAt: day(1),
			Events: []StageEvent{
				{Status: "novo_lead", At: day(1)},
				{Status: "contato_realizado", At: day(5)},
			},
		},
	}
	report := ComputeFunnel(journeys)

	if len(report.Stages) != 5 {
		t.Fatalf("expected 5 stage buckets, got %d", len(report.Stages))
	}
	first := report.Stages[0]
	if first.Bucket != "lead_to_contact" || first.FromStage != "novo_lead" || first.ToStage != "contato_realizado" {
		t.Fatalf("unexpected first bucket: %+v", first)
	}
	if first.Samples != 2 || !almostEqual(first.AverageDays, 3) {
		t.Fatalf("lead_to_contact should average (2+4)/2 = 3 days, got %+v", first)
	}
	second := report.Stages[1]
	if second.Samples != 1 || !almostEqual(second.AverageDays, 3) {
		t.Fatalf("contact_to_qualified should average 3 days over 1 sample, got %+v", second)
	}
}

func TestComputeFunnelOnlyCountsAdjacentTransitions(t *testing.T) {
	// A detour through fechado_perdido sits between novo_lead and
	// contato_realizado, so neither adjacent pair matches the table and
	// lead_to_contact must stay empty.
	journeys := []LeadJourney{
		{
			CreatedAt: day(1),
			Events: []StageEvent{
				{Status: "novo_lead", At: day(1)},
				{Status: "fechado_perdido", At: day(3)},
				{Status: "contato_realizado", At: day(11)},
			},
		},
	}
	report := ComputeFunnel(journeys)
	for _, stage := range report.Stages {
		if stage.Samples != 0 || stage.AverageDays != 0 {
			t.Fatalf("detoured journey must not contribute to %s: %+v", stage.Bucket, stage)
		}
	}
}

func TestComputeFunnelCountsRepeatVisits(t *testing.T) {
	journeys := []LeadJourney{
		{
			CreatedAt: day(1),
			Events: []StageEvent{
				{Status: "novo_lead", At: day(1)},
				{Status: "contato_realizado", At: day(2)},
				{Status: "novo_lead", At: day(4)},
				{Status: "contato_realizado", At: day(7)},
			},
		},
	}
	report := ComputeFunnel(journeys)
	first := report.Stages[0]
	if first.Samples != 2 || !almostEqual(first.AverageDays, 2) {
		t.Fatalf("repeat visits should each sample lead_to_contact, (1+3)/2 = 2 days, got %+v", first)
	}
	// The backwards contato_realizado -> novo_lead hop matches no pair.
	for _, stage := range report.Stages[1:] {
		if stage.Samples != 0 {
			t.Fatalf("unexpected samples in %s: %+v", stage.Bucket, stage)
		}
	}
}

func TestComputeFunnelSkippedStagesExcluded(t *testing.T) {
	// Jumped straight from new to proposal: no intermediate events.
	journeys := []LeadJourney{
		{
			CreatedAt: day(1),
			Events: []StageEvent{
				{Status: "novo_lead", At: day(1)},
				{Status: "proposta", At: day(4)},
			},
		},
	}
	report := ComputeFunnel(journeys)
	for _, stage := range report.Stages {
		if stage.Samples != 0 {
			t.Fatalf("skipped stages must not contribute samples: %+v", stage)
		}
		if stage.AverageDays != 0 {
			t.Fatalf("empty bucket must report 0, got %+v", stage)
		}
	}
}

func TestComputeFunnelEmptyInput(t *testing.T) {
	report := ComputeFunnel(nil)
	if len(report.Stages) != 5 {
		t.Fatalf("buckets must always be present, got %d", len(report.Stages))
	}
	for _, stage := range report.Stages {
		if stage.AverageDays != 0 || stage.Samples != 0 {
			t.Fatalf("empty input should yield zeroed buckets, got %+v", stage)
		}
	}
	if report.AvgSalesCycleDays != 0 || report.WonLeads != 0 {
		t.Fatalf("empty input should yield zero sales cycle, got %+v", report)
	}
}

func TestComputeFunnelSalesCycle(t *testing.T) {
	won1 := day(11)
	won2 := day(21)
	journeys := []LeadJourney{
		{CreatedAt: day(1), ClosedWonAt: &won1},
		{CreatedAt: day(1), ClosedWonAt: &won2},
		{CreatedAt: day(1)}, // still open
	}
	report := ComputeFunnel(journeys)
	if report.WonLeads != 2 {
		t.Fatalf("expected 2 won leads, got %d", report.WonLeads)
	}
	if !almostEqual(report.AvgSalesCycleDays, 15) {
		t.Fatalf("sales cycle should average (10+20)/2 = 15 days, got %v", report.AvgSalesCycleDays)
	}
}
