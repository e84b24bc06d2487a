package insights

import "time"

// stagePairs are the pipeline transitions the funnel report measures, in
// pipeline order. The vocabulary matches the normalized lead status values.
var stagePairs = []struct {
	bucket string
	from   string
	to     string
}{
	{"lead_to_contact", "novo_lead", "contato_realizado"},
	{"contact_to_qualified", "contato_realizado", "qualificacao"},
	{"qualified_to_proposal", "qualificacao", "proposta"},
	{"proposal_to_negotiation", "proposta", "negociacao"},
	{"negotiation_to_closed", "negociacao", "fechado_ganho"},
}

// StageEvent is one status a lead entered, in the order it happened. The
// first event is the status the lead was created with.
type StageEvent struct {
	Status string
	At     time.Time
}

// LeadJourney is one lead's pipeline history: its status events in
// ascending time order, plus the creation and closed-won timestamps.
type LeadJourney struct {
	CreatedAt   time.Time
	ClosedWonAt *time.Time
	Events      []StageEvent
}

// StageTiming is one funnel transition's aggregate.
type StageTiming struct {
	Bucket      string  `json:"bucket"`
	FromStage   string  `json:"from_stage"`
	ToStage     string  `json:"to_stage"`
	AverageDays float64 `json:"average_days"`
	Samples     int     `json:"samples"`
}

// FunnelReport is the full conversion-timing report for a set of leads.
type FunnelReport struct {
	Stages            []StageTiming `json:"stages"`
	AvgSalesCycleDays float64       `json:"avg_sales_cycle_days"`
	WonLeads          int           `json:"won_leads"`
}

// ComputeFunnel measures the mean days each pipeline transition takes.
//
// Only transitions between consecutive events count: each adjacent event
// pair in a lead's history is matched against the stage table, so a lead
// that detours through another status between two pipeline stages
// contributes nothing to that pair, while every repeat visit contributes
// its own sample. A stage with no samples reports an average of 0, not
// NaN. The sales cycle is measured from creation to the closed-won
// timestamp over won leads only.
func ComputeFunnel(journeys []LeadJourney) FunnelReport {
	type bucketSum struct {
		totalDays float64
		samples   int
	}
	sums := make([]bucketSum, len(stagePairs))
	bucketIndex := make(map[[2]string]int, len(stagePairs))
	for i, pair := range stagePairs {
		bucketIndex[[2]string{pair.from, pair.to}] = i
	}

	for _, journey := range journeys {
		for i := 0; i+1 < len(journey.Events); i++ {
			cur := journey.Events[i]
			next := journey.Events[i+1]
			idx, ok := bucketIndex[[2]string{cur.Status, next.Status}]
			if !ok || next.At.Before(cur.At) {
				continue
			}
			sums[idx].totalDays += next.At.Sub(cur.At).Hours() / 24
			sums[idx].samples++
		}
	}

	report := FunnelReport{Stages: make([]StageTiming, 0, len(stagePairs))}
	for i, pair := range stagePairs {
		timing := StageTiming{
			Bucket:    pair.bucket,
			FromStage: pair.from,
			ToStage:   pair.to,
			Samples:   sums[i].samples,
		}
		if sums[i].samples > 0 {
			timing.AverageDays = sums[i].totalDays / float64(sums[i].samples)
		}
		report.Stages = append(report.Stages, timing)
	}

	var cycleDays float64
	for _, journey := range journeys {
		if journey.ClosedWonAt == nil || journey.ClosedWonAt.Before(journey.CreatedAt) {
			continue
		}
		cycleDays += journey.ClosedWonAt.Sub(journey.CreatedAt).Hours() / 24
		report.WonLeads++
	}
	if report.WonLeads > 0 {
		report.AvgSalesCycleDays = cycleDays / float64(report.WonLeads)
	}
	return report
}
