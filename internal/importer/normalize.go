package importer

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Canonical lead statuses. Unknown-but-present values pass through as their
// normalized key so no spreadsheet status is silently dropped.
var statusAliases = map[string]string{
	"novo_lead":           "novo_lead",
	"novo":                "novo_lead",
	"contato_realizado":   "contato_realizado",
	"contato":             "contato_realizado",
	"qualificacao":        "qualificacao",
	"qualificacao_lead":   "qualificacao",
	"qualificado":         "qualificacao",
	"proposta":            "proposta",
	"negociacao":          "negociacao",
	"fechado_ganho":       "fechado_ganho",
	"ganho":               "fechado_ganho",
	"fechado_perdido":     "fechado_perdido",
	"perdido":             "fechado_perdido",
	"follow_up":           "follow_up",
	"follow":              "follow_up",
	"aguardando_resposta": "aguardando_resposta",
	"aguardando":          "aguardando_resposta",
}

// Priorities are a closed enumeration: an unrecognized value resolves to
// empty rather than guessing.
var priorityAliases = map[string]string{
	"baixa":   "low",
	"low":     "low",
	"media":   "medium",
	"medio":   "medium",
	"medium":  "medium",
	"alta":    "high",
	"high":    "high",
	"urgente": "urgent",
	"urgent":  "urgent",
}

var sourceAliases = map[string]string{
	"manual":     "manual",
	"meta_ads":   "meta_ads",
	"meta":       "meta_ads",
	"whatsapp":   "whatsapp",
	"google_ads": "google_ads",
	"google":     "google_ads",
	"site":       "site",
	"website":    "site",
	"email":      "email",
	"telefone":   "telefone",
	"phone":      "telefone",
	"indicacao":  "indicacao",
	"referencia": "indicacao",
	"evento":     "evento",
	"event":      "evento",
}

var contractTypeAliases = map[string]string{
	"mensal":   "monthly",
	"month":    "monthly",
	"monthly":  "monthly",
	"anual":    "annual",
	"anualy":   "annual",
	"annual":   "annual",
	"unico":    "one_time",
	"once":     "one_time",
	"one_time": "one_time",
	"one time": "one_time",
}

// StripAccents removes combining marks after NFD decomposition, so
// "negociação" compares equal to "negociacao".
func StripAccents(value string) string {
	decomposed := norm.NFD.String(value)
	out := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// NormalizeKey canonicalizes free text before any alias lookup: lowercase,
// accents stripped, runs of whitespace and hyphens collapsed to underscore.
// Idempotent: NormalizeKey(NormalizeKey(x)) == NormalizeKey(x).
func NormalizeKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	lowered := StripAccents(strings.ToLower(trimmed))
	var b strings.Builder
	b.Grow(len(lowered))
	pendingSep := false
	for _, r := range lowered {
		if unicode.IsSpace(r) || r == '-' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// ParseLocaleNumber parses a currency/quantity cell that may carry symbols,
// thousands separators and either decimal convention. A comma anywhere means
// comma is the decimal separator. Returns (0, false) on empty or unparseable
// input; never NaN.
func ParseLocaleNumber(value string) (float64, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return 0, false
	}
	hasComma := strings.Contains(text, ",")
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if hasComma {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

// ParseInteger rounds the locale-parsed number to the nearest integer.
func ParseInteger(value string) (int, bool) {
	parsed, ok := ParseLocaleNumber(value)
	if !ok {
		return 0, false
	}
	return int(math.Round(parsed)), true
}

// ClampPercentage bounds a score to [0, 100]. NaN yields (0, false).
func ClampPercentage(value float64) (float64, bool) {
	if math.IsNaN(value) {
		return 0, false
	}
	return math.Max(0, math.Min(100, value)), true
}

// dateLayouts mirror the formats seen in customer spreadsheets. Day-first
// layouts come after ISO so unambiguous dates win.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"01/02/2006",
	"2006/01/02",
}

// ToISODate parses a free-text date cell into RFC 3339 UTC. Invalid input
// yields ("", false), never an "invalid date" sentinel string.
func ToISODate(value string) (string, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, text)
		if err != nil {
			continue
		}
		return parsed.UTC().Format(time.RFC3339), true
	}
	return "", false
}

// NormalizeStatus resolves a raw status cell to its canonical value.
// Unrecognized statuses degrade to their normalized key form.
func NormalizeStatus(value string) string {
	canonical := NormalizeKey(value)
	if canonical == "" {
		return ""
	}
	if alias, ok := statusAliases[canonical]; ok {
		return alias
	}
	return canonical
}

// NormalizePriority resolves a raw priority cell. Strict enumeration:
// unknown values resolve to empty.
func NormalizePriority(value string) string {
	return priorityAliases[NormalizeKey(value)]
}

// NormalizeSource resolves a raw source cell, falling back to the supplied
// default when the value is absent or unrecognized.
func NormalizeSource(value, fallback string) string {
	canonical := NormalizeKey(value)
	if canonical == "" {
		return fallback
	}
	if alias, ok := sourceAliases[canonical]; ok {
		return alias
	}
	return fallback
}

// NormalizeContractType resolves a raw contract-type cell. Strict
// enumeration like priority.
func NormalizeContractType(value string) string {
	return contractTypeAliases[NormalizeKey(value)]
}

