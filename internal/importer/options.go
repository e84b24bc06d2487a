package importer

import "strings"

// FieldOption is one selectable choice on a lead-form select field.
type FieldOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SlugifyKey turns a free-text label into a storage-safe key: accents
// stripped, lowercased, non-alphanumeric runs collapsed to underscore.
func SlugifyKey(value string) string {
	lowered := strings.ToLower(StripAccents(strings.TrimSpace(value)))
	var b strings.Builder
	b.Grow(len(lowered))
	pendingSep := false
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// ParseOptions parses the newline-separated option list of a select field.
// Each line is either "Label|value" or a bare label, in which case the value
// is the slugified label ("Não" becomes value "nao").
func ParseOptions(raw string) []FieldOption {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var options []FieldOption
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if label, value, ok := strings.Cut(line, "|"); ok {
			label = strings.TrimSpace(label)
			value = strings.TrimSpace(value)
			if value == "" {
				value = SlugifyKey(label)
			}
			options = append(options, FieldOption{Label: label, Value: value})
			continue
		}
		options = append(options, FieldOption{Label: line, Value: SlugifyKey(line)})
	}
	return options
}
