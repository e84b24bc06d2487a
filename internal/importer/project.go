package importer

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// RawRow is one spreadsheet row as parsed: header name to raw cell value
// (string, float64 or nil). It only lives for the duration of one import.
type RawRow map[string]any

// ColumnMapping maps canonical CRM field names to spreadsheet headers.
// Keys under the "custom_fields." namespace land in the payload's custom
// fields map instead of a schema column.
type ColumnMapping map[string]string

// Defaults supplies fallback values applied when a column is unmapped or its
// value cannot be normalized, plus the clock used for default timestamps so
// projection stays deterministic.
type Defaults struct {
	Status string
	Source string
}

// LeadPayload is the normalized, CRM-shaped record for one imported lead.
// Optional fields are pointers so absent stays distinct from zero.
type LeadPayload struct {
	Title                 string         `json:"title"`
	OrganizationID        string         `json:"organization_id"`
	Description           *string        `json:"description,omitempty"`
	Status                *string        `json:"status,omitempty"`
	Source                *string        `json:"source,omitempty"`
	Value                 *float64       `json:"value,omitempty"`
	ContractValue         *float64       `json:"contract_value,omitempty"`
	ContractMonths        *int           `json:"contract_months,omitempty"`
	ContractType          *string        `json:"contract_type,omitempty"`
	Priority              *string        `json:"priority,omitempty"`
	LeadScore             *int           `json:"lead_score,omitempty"`
	ConversionProbability *float64       `json:"conversion_probability,omitempty"`
	ExpectedCloseDate     *string        `json:"expected_close_date,omitempty"`
	NextFollowUpDate      *string        `json:"next_follow_up_date,omitempty"`
	LastContactDate       *string        `json:"last_contact_date,omitempty"`
	DueDate               *string        `json:"due_date,omitempty"`
	ProductInterest       *string        `json:"product_interest,omitempty"`
	LeadSourceDetail      *string        `json:"lead_source_detail,omitempty"`
	CampaignID            *string        `json:"campaign_id,omitempty"`
	ExternalLeadID        *string        `json:"external_lead_id,omitempty"`
	AdsetID               *string        `json:"adset_id,omitempty"`
	AdID                  *string        `json:"ad_id,omitempty"`
	ClosedWonAt           *string        `json:"closed_won_at,omitempty"`
	ClosedLostAt          *string        `json:"closed_lost_at,omitempty"`
	LostReason            *string        `json:"lost_reason,omitempty"`
	CustomFields          map[string]any `json:"custom_fields,omitempty"`
}

// Projection is the outcome for one row: a payload, or the row-level errors
// that rejected it. Never both.
type Projection struct {
	Payload *LeadPayload
	Errors  []string
}

// companyFieldLabels maps the auto-mappable company registry fields to the
// display labels used inside custom_fields, matching what spreadsheet users
// see in the lead detail view.
var companyFieldLabels = []struct{ field, label string }{
	{"cnpj", "CNPJ"},
	{"razao_social", "Razão Social"},
	{"porte", "Porte"},
	{"capital_social", "Capital Social"},
	{"data_abertura", "Data de Abertura"},
	{"nome_fantasia", "Nome Fantasia"},
	{"telefone_principal", "Telefone Principal"},
	{"telefone_secundario", "Telefone Secundário"},
	{"logradouro", "Logradouro"},
	{"numero", "Número"},
	{"complemento", "Complemento"},
	{"bairro", "Bairro"},
	{"cidade", "Cidade"},
	{"estado", "Estado"},
	{"cep", "CEP"},
	{"atividade_principal", "Atividade Principal"},
}

// Project applies a confirmed column mapping to one raw row and produces the
// normalized lead payload or the row's validation errors. The only hard-fail
// condition is a missing or blank title; every other field degrades
// gracefully. Pure: same row, mapping and defaults always produce the same
// result.
func Project(row RawRow, mapping ColumnMapping, organizationID string, defaults Defaults) Projection {
	title := cellText(row, mapping, "title")
	if title == "" {
		return Projection{Errors: []string{"title: ausente"}}
	}

	payload := &LeadPayload{Title: title, OrganizationID: organizationID}

	if description := cellText(row, mapping, "description"); description != "" {
		payload.Description = &description
	}

	status := NormalizeStatus(cellText(row, mapping, "status"))
	if status == "" {
		status = defaults.Status
	}
	if status != "" {
		payload.Status = &status
	}

	source := NormalizeSource(cellText(row, mapping, "source"), defaults.Source)
	if source != "" {
		payload.Source = &source
	}

	if value, ok := cellNumber(row, mapping, "value"); ok {
		payload.Value = &value
	}
	if contractValue, ok := cellNumber(row, mapping, "contract_value"); ok {
		payload.ContractValue = &contractValue
	}
	if months, ok := cellInteger(row, mapping, "contract_months"); ok {
		payload.ContractMonths = &months
	}
	if contractType := NormalizeContractType(cellText(row, mapping, "contract_type")); contractType != "" {
		payload.ContractType = &contractType
	}
	if priority := NormalizePriority(cellText(row, mapping, "priority")); priority != "" {
		payload.Priority = &priority
	}
	if score, ok := cellInteger(row, mapping, "lead_score"); ok {
		if clamped, ok := ClampPercentage(float64(score)); ok {
			rounded := int(clamped)
			payload.LeadScore = &rounded
		}
	}
	if probability, ok := cellNumber(row, mapping, "conversion_probability"); ok {
		if clamped, ok := ClampPercentage(probability); ok {
			payload.ConversionProbability = &clamped
		}
	}

	setDate(row, mapping, "expected_close_date", &payload.ExpectedCloseDate)
	setDate(row, mapping, "next_follow_up_date", &payload.NextFollowUpDate)
	setDate(row, mapping, "last_contact_date", &payload.LastContactDate)
	setDate(row, mapping, "due_date", &payload.DueDate)
	setDate(row, mapping, "closed_won_at", &payload.ClosedWonAt)
	setDate(row, mapping, "closed_lost_at", &payload.ClosedLostAt)

	setText(row, mapping, "product_interest", &payload.ProductInterest)
	setText(row, mapping, "lead_source_detail", &payload.LeadSourceDetail)
	setText(row, mapping, "campaign_id", &payload.CampaignID)
	setText(row, mapping, "external_lead_id", &payload.ExternalLeadID)
	setText(row, mapping, "adset_id", &payload.AdsetID)
	setText(row, mapping, "ad_id", &payload.AdID)
	setText(row, mapping, "lost_reason", &payload.LostReason)

	custom := map[string]any{}
	for _, company := range companyFieldLabels {
		if value := cellText(row, mapping, company.field); value != "" {
			custom[company.label] = value
		}
	}
	for field := range mapping {
		suffix, ok := strings.CutPrefix(field, "custom_fields.")
		if !ok || suffix == "" {
			continue
		}
		if value := cellText(row, mapping, field); value != "" {
			custom[suffix] = value
		}
	}
	if len(custom) > 0 {
		payload.CustomFields = custom
	}

	return Projection{Payload: payload}
}

// Extras are side-channel values captured for lead_source_detail enrichment
// even though the lead schema has no matching column.
type Extras struct {
	Email     string
	Phone     string
	AdsetName string
	AdName    string
}

// CaptureExtras pulls the cross-reference columns out of a raw row.
func CaptureExtras(row RawRow, mapping ColumnMapping) Extras {
	return Extras{
		Email:     cellText(row, mapping, "email"),
		Phone:     cellText(row, mapping, "phone"),
		AdsetName: cellText(row, mapping, "adset_name"),
		AdName:    cellText(row, mapping, "ad_name"),
	}
}

// Annotation renders the extras as the semicolon-joined note appended to
// lead_source_detail. Empty when nothing was captured.
func (e Extras) Annotation() string {
	parts := make([]string, 0, 4)
	if e.Email != "" {
		parts = append(parts, "email:"+e.Email)
	}
	if e.Phone != "" {
		parts = append(parts, "phone:"+e.Phone)
	}
	if e.AdsetName != "" {
		parts = append(parts, "adset:"+e.AdsetName)
	}
	if e.AdName != "" {
		parts = append(parts, "ad:"+e.AdName)
	}
	return strings.Join(parts, "; ")
}

func cellValue(row RawRow, mapping ColumnMapping, field string) any {
	header, ok := mapping[field]
	if !ok || header == "" {
		return nil
	}
	return row[header]
}

func cellText(row RawRow, mapping ColumnMapping, field string) string {
	switch v := cellValue(row, mapping, field).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func cellNumber(row RawRow, mapping ColumnMapping, field string) (float64, bool) {
	if v, ok := cellValue(row, mapping, field).(float64); ok {
		return v, true
	}
	return ParseLocaleNumber(cellText(row, mapping, field))
}

func cellInteger(row RawRow, mapping ColumnMapping, field string) (int, bool) {
	parsed, ok := cellNumber(row, mapping, field)
	if !ok {
		return 0, false
	}
	return int(math.Round(parsed)), true
}

func setText(row RawRow, mapping ColumnMapping, field string, dst **string) {
	if value := cellText(row, mapping, field); value != "" {
		*dst = &value
	}
}

func setDate(row RawRow, mapping ColumnMapping, field string, dst **string) {
	if iso, ok := ToISODate(cellText(row, mapping, field)); ok {
		*dst = &iso
	}
}

// FormatTimestamp renders the timestamp format persisted for date columns.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
