package importer

import "testing"

func TestParseOptionsExplicitAndSlugifiedValues(t *testing.T) {
	options := ParseOptions("Sim|yes\nNão\n\n  Talvez Depois  ")
	want := []FieldOption{
		{Label: "Sim", Value: "yes"},
		{Label: "Não", Value: "nao"},
		{Label: "Talvez Depois", Value: "talvez_depois"},
	}
	if len(options) != len(want) {
		t.Fatalf("expected %d options, got %d: %v", len(want), len(options), options)
	}
	for i := range want {
		if options[i] != want[i] {
			t.Errorf("option %d = %+v, want %+v", i, options[i], want[i])
		}
	}
}

func TestParseOptionsEmptyInput(t *testing.T) {
	if options := ParseOptions("   \n  "); options != nil {
		t.Fatalf("expected nil for blank input, got %v", options)
	}
}

func TestSlugifyKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Não", "nao"},
		{"Razão Social", "razao_social"},
		{"CEP / Código Postal", "cep_codigo_postal"},
		{"  já!  ", "ja"},
	}
	for _, tc := range cases {
		if got := SlugifyKey(tc.in); got != tc.want {
			t.Errorf("SlugifyKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
