// Package insights aggregates daily ad performance rows into the metric
// shapes the dashboard and reporting endpoints expose. All ratio metrics
// are recomputed from summed bases; per-row ratios are never averaged.
package insights

import (
	"sort"
)

// Row is one stored daily insight for one entity (campaign, ad set or ad).
type Row struct {
	EntityID    string  `json:"entity_id"`
	EntityName  string  `json:"entity_name"`
	Date        string  `json:"date"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Reach       int64   `json:"reach"`
	Frequency   float64 `json:"frequency"`
	Leads       int64   `json:"leads"`

	QualityRanking        string `json:"quality_ranking,omitempty"`
	EngagementRateRanking string `json:"engagement_rate_ranking,omitempty"`
	ConversionRateRanking string `json:"conversion_rate_ranking,omitempty"`
}

// Metrics is an aggregate over a set of daily rows. Ratio fields are nil
// when their denominator summed to zero, so a dashboard can distinguish
// "no data" from a genuine zero. Frequency is not a ratio over summed
// bases and always carries a value, 0 when there are no rows.
type Metrics struct {
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Reach       int64   `json:"reach"`
	Leads       int64   `json:"leads"`

	CTR       *float64 `json:"ctr"`
	CPC       *float64 `json:"cpc"`
	CPM       *float64 `json:"cpm"`
	CPL       *float64 `json:"cpl"`
	Frequency float64  `json:"frequency"`

	QualityRanking        string `json:"quality_ranking,omitempty"`
	EngagementRateRanking string `json:"engagement_rate_ranking,omitempty"`
	ConversionRateRanking string `json:"conversion_rate_ranking,omitempty"`
}

// Aggregate collapses daily rows into one metric set.
//
// Sums are taken first and every ratio is derived from them: averaging the
// daily CTRs of a cheap day and an expensive day would weight them equally,
// which is wrong. Frequency is the one exception, reported as the simple
// mean over every row (zero-frequency days included) because its reach
// base is not additive across days; it is 0 when there are no rows.
// Ranking labels come from the most recent date present; when several rows
// share that date the last one in input order wins.
func Aggregate(rows []Row) Metrics {
	var m Metrics
	var freqSum float64
	rankingDate := ""

	for _, row := range rows {
		m.Spend += row.Spend
		m.Impressions += row.Impressions
		m.Clicks += row.Clicks
		m.Reach += row.Reach
		m.Leads += row.Leads
		freqSum += row.Frequency
		if row.Date >= rankingDate {
			rankingDate = row.Date
			m.QualityRanking = row.QualityRanking
			m.EngagementRateRanking = row.EngagementRateRanking
			m.ConversionRateRanking = row.ConversionRateRanking
		}
	}

	if m.Impressions > 0 {
		ctr := float64(m.Clicks) / float64(m.Impressions) * 100
		cpm := m.Spend / float64(m.Impressions) * 1000
		m.CTR = &ctr
		m.CPM = &cpm
	}
	if m.Clicks > 0 {
		cpc := m.Spend / float64(m.Clicks)
		m.CPC = &cpc
	}
	if m.Leads > 0 {
		cpl := m.Spend / float64(m.Leads)
		m.CPL = &cpl
	}
	if len(rows) > 0 {
		m.Frequency = freqSum / float64(len(rows))
	}
	return m
}

// EntityMetrics is one entity's aggregate in a grouped report.
type EntityMetrics struct {
	EntityID   string  `json:"entity_id"`
	EntityName string  `json:"entity_name"`
	Metrics    Metrics `json:"metrics"`
}

// AggregateByEntity groups rows by entity id and aggregates each group,
// returning entities ordered by total spend descending. Entities with equal
// spend keep their first-seen input order.
func AggregateByEntity(rows []Row) []EntityMetrics {
	grouped := make(map[string][]Row)
	var order []string
	for _, row := range rows {
		if _, seen := grouped[row.EntityID]; !seen {
			order = append(order, row.EntityID)
		}
		grouped[row.EntityID] = append(grouped[row.EntityID], row)
	}

	out := make([]EntityMetrics, 0, len(order))
	for _, id := range order {
		group := grouped[id]
		out = append(out, EntityMetrics{
			EntityID:   id,
			EntityName: group[len(group)-1].EntityName,
			Metrics:    Aggregate(group),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metrics.Spend > out[j].Metrics.Spend
	})
	return out
}
