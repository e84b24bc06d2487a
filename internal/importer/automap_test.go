package importer

import (
	"reflect"
	"testing"
)

func TestAutoMapColumnsBrazilianHeaders(t *testing.T) {
	headers := []string{"Nome", "E-mail", "Telefone", "Origem", "Valor", "Status"}
	mapping := AutoMapColumns(headers)

	want := ColumnMapping{
		"title":  "Nome",
		"email":  "E-mail",
		"phone":  "Telefone",
		"source": "Origem",
		"value":  "Valor",
		"status": "Status",
	}
	if !reflect.DeepEqual(mapping, want) {
		t.Fatalf("mapping = %v, want %v", mapping, want)
	}
}

func TestAutoMapColumnsSubstringMatch(t *testing.T) {
	mapping := AutoMapColumns([]string{"Nome do Cliente", "Valor do Contrato"})
	if mapping["title"] != "Nome do Cliente" {
		t.Fatalf("expected title mapped by substring, got %v", mapping)
	}
	if mapping["value"] != "Valor do Contrato" {
		t.Fatalf("expected value mapped by substring, got %v", mapping)
	}
}

func TestAutoMapColumnsClaimsHeaderOnce(t *testing.T) {
	// "Telefone" satisfies both phone and telefone_principal; the earlier
	// field in declaration order wins and the later one stays unmapped.
	mapping := AutoMapColumns([]string{"Nome", "Telefone"})
	if mapping["phone"] != "Telefone" {
		t.Fatalf("expected phone to claim Telefone, got %v", mapping)
	}
	if _, ok := mapping["telefone_principal"]; ok {
		t.Fatalf("expected telefone_principal unmapped, got %v", mapping)
	}
}

func TestAutoMapColumnsCompanyFields(t *testing.T) {
	headers := []string{"Razão Social", "CNPJ", "Cidade", "UF", "CEP"}
	mapping := AutoMapColumns(headers)

	for field, header := range map[string]string{
		"razao_social": "Razão Social",
		"cnpj":         "CNPJ",
		"cidade":       "Cidade",
		"estado":       "UF",
		"cep":          "CEP",
	} {
		if mapping[field] != header {
			t.Errorf("expected %s -> %s, got %q", field, header, mapping[field])
		}
	}
}

func TestAutoMapColumnsIsDeterministic(t *testing.T) {
	headers := []string{"Nome", "Contato", "Telefone", "Origem"}
	first := AutoMapColumns(headers)
	for i := 0; i < 10; i++ {
		if again := AutoMapColumns(headers); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
}
