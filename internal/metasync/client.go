// Package metasync pulls daily ad performance from the Meta Graph API into
// the local insight tables.
package metasync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// APIVersion pins the Graph API version every request uses.
	APIVersion = "v24.0"

	defaultBaseURL = "https://graph.facebook.com/" + APIVersion

	backoffTries = 3
	backoffStep  = 500 * time.Millisecond

	pageLimit = 1000
)

// leadActionTypes are the Graph action_type values counted as a lead. The
// first matching action wins; values are never summed across types.
var leadActionTypes = map[string]bool{
	"lead":                               true,
	"leads":                              true,
	"leadgen.other":                      true,
	"onsite_conversion.lead_grouped":     true,
	"onsite_conversion.lead_form.submit": true,
}

// ErrRateLimited is returned when Meta keeps answering 429 (or its
// application-level rate limit codes 4, 17, 613) after all retries.
var ErrRateLimited = fmt.Errorf("meta api rate limit reached")

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	sleep      func(time.Duration)
}

func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// WithBaseURL redirects requests, e.g. at an httptest server.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

// fetchWithBackoff retries only on HTTP 429, waiting 500ms, then 1s, then
// 1.5s. After the retries are spent one final request is issued and its
// response returned as-is, whatever the status.
func (c *Client) fetchWithBackoff(ctx context.Context, rawURL string) (*http.Response, error) {
	for attempt := 0; attempt < backoffTries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if res.StatusCode != http.StatusTooManyRequests {
			return res, nil
		}
		res.Body.Close()
		c.sleep(backoffStep * time.Duration(attempt+1))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// InsightRecord is one daily row for one entity, already parsed out of the
// Graph API's all-strings encoding.
type InsightRecord struct {
	CampaignID   string
	CampaignName string
	AdsetID      string
	AdsetName    string
	AdID         string
	AdName       string
	Date         string
	Spend        float64
	Impressions  int64
	Clicks       int64
	Reach        int64
	Frequency    float64
	Leads        int64

	QualityRanking        string
	EngagementRateRanking string
	ConversionRateRanking string
}

type graphAction struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type graphInsight struct {
	CampaignID   string        `json:"campaign_id"`
	CampaignName string        `json:"campaign_name"`
	AdsetID      string        `json:"adset_id"`
	AdsetName    string        `json:"adset_name"`
	AdID         string        `json:"ad_id"`
	AdName       string        `json:"ad_name"`
	DateStart    string        `json:"date_start"`
	Spend        string        `json:"spend"`
	Impressions  string        `json:"impressions"`
	Clicks       string        `json:"clicks"`
	Reach        string        `json:"reach"`
	Frequency    string        `json:"frequency"`
	Actions      []graphAction `json:"actions"`

	QualityRanking        string `json:"quality_ranking"`
	EngagementRateRanking string `json:"engagement_rate_ranking"`
	ConversionRateRanking string `json:"conversion_rate_ranking"`
}

type graphPage struct {
	Data   []graphInsight `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Error *graphError `json:"error"`
}

type graphError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func levelFields(level string) string {
	switch level {
	case "adset":
		return "adset_id,adset_name,campaign_id,date_start,spend,impressions,clicks,reach,frequency,actions"
	case "ad":
		return "ad_id,ad_name,adset_id,campaign_id,date_start,spend,impressions,clicks,reach,frequency,actions," +
			"quality_ranking,engagement_rate_ranking,conversion_rate_ranking"
	default:
		return "campaign_id,campaign_name,date_start,spend,impressions,clicks,reach,frequency,actions"
	}
}

// FetchDailyInsights pulls one date window at one level for one ad account,
// following pagination until exhausted. Dates are inclusive YYYY-MM-DD.
func (c *Client) FetchDailyInsights(ctx context.Context, token, adAccountID, level, since, until string) ([]InsightRecord, error) {
	params := url.Values{}
	params.Set("fields", levelFields(level))
	params.Set("level", level)
	params.Set("time_increment", "1")
	params.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`, since, until))
	params.Set("limit", strconv.Itoa(pageLimit))
	params.Set("access_token", token)

	next := fmt.Sprintf("%s/act_%s/insights?%s", c.baseURL, adAccountID, params.Encode())

	var out []InsightRecord
	for next != "" {
		res, err := c.fetchWithBackoff(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("fetch insights: %w", err)
		}
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read insights response: %w", err)
		}

		if res.StatusCode != http.StatusOK {
			var page graphPage
			_ = json.Unmarshal(body, &page)
			if page.Error != nil {
				code := page.Error.Code
				if code == 4 || code == 17 || code == 613 || res.StatusCode == http.StatusTooManyRequests {
					return nil, ErrRateLimited
				}
				return nil, fmt.Errorf("meta api error %d: %s", code, page.Error.Message)
			}
			if res.StatusCode == http.StatusTooManyRequests {
				return nil, ErrRateLimited
			}
			return nil, fmt.Errorf("meta api status %d", res.StatusCode)
		}

		var page graphPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode insights response: %w", err)
		}
		for _, insight := range page.Data {
			out = append(out, mapInsight(insight))
		}
		next = page.Paging.Next
	}
	return out, nil
}

func mapInsight(g graphInsight) InsightRecord {
	record := InsightRecord{
		CampaignID:            g.CampaignID,
		CampaignName:          g.CampaignName,
		AdsetID:               g.AdsetID,
		AdsetName:             g.AdsetName,
		AdID:                  g.AdID,
		AdName:                g.AdName,
		Date:                  g.DateStart,
		Spend:                 parseGraphFloat(g.Spend),
		Impressions:           parseGraphInt(g.Impressions),
		Clicks:                parseGraphInt(g.Clicks),
		Reach:                 parseGraphInt(g.Reach),
		Frequency:             parseGraphFloat(g.Frequency),
		QualityRanking:        g.QualityRanking,
		EngagementRateRanking: g.EngagementRateRanking,
		ConversionRateRanking: g.ConversionRateRanking,
	}
	for _, action := range g.Actions {
		if leadActionTypes[action.ActionType] {
			record.Leads = parseGraphInt(action.Value)
			break
		}
	}
	return record
}

func parseGraphFloat(s string) float64 {
	if s == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseGraphInt(s string) int64 {
	if s == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
