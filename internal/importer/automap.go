package importer

import "strings"

// autoMapFields fixes the declaration order so ties between fields resolve
// deterministically: the first field in this list claims a header first.
var autoMapFields = []string{
	"title",
	"email",
	"phone",
	"source",
	"description",
	"status",
	"value",
	"cnpj",
	"razao_social",
	"porte",
	"capital_social",
	"data_abertura",
	"nome_fantasia",
	"telefone_principal",
	"telefone_secundario",
	"logradouro",
	"numero",
	"complemento",
	"bairro",
	"cidade",
	"estado",
	"cep",
	"atividade_principal",
}

// autoMapPatterns lists, per canonical field, the header synonyms seen in
// customer spreadsheets. Matching happens on normalized keys.
var autoMapPatterns = map[string][]string{
	"title":               {"nome", "titulo", "title", "lead", "name", "cliente", "customer", "nome completo"},
	"email":               {"email", "e-mail", "mail", "correio", "endereço de email"},
	"phone":               {"telefone", "phone", "celular", "whatsapp", "mobile", "tel", "fone", "contato"},
	"source":              {"origem", "source", "canal", "fonte"},
	"description":         {"descricao", "description", "observacao", "obs", "notas", "detalhes"},
	"status":              {"status", "etapa", "fase", "situacao"},
	"value":               {"valor", "value", "amount", "receita"},
	"cnpj":                {"cnpj", "cnpj/cpf", "documento", "cpf/cnpj"},
	"razao_social":        {"razao social", "razão social", "razaosocial", "nome empresarial", "empresa"},
	"porte":               {"porte", "porte empresa", "tamanho", "porte da empresa"},
	"capital_social":      {"capital social", "capitalsocial", "capital", "capital inicial"},
	"data_abertura":       {"data de abertura", "dataabertura", "abertura", "data abertura", "dt abertura"},
	"nome_fantasia":       {"nome fantasia", "nomefantasia", "fantasia", "nome comercial"},
	"telefone_principal":  {"telefone principal", "telefoneprincipal", "tel principal", "telefone 1", "fone principal"},
	"telefone_secundario": {"telefone secundario", "telefone secundário", "tel secundario", "telefone 2", "fone secundario"},
	"logradouro":          {"logradouro", "endereco", "endereço", "rua", "rua/avenida", "endereço completo"},
	"numero":              {"numero", "número", "num", "nº", "nro", "número do endereço"},
	"complemento":         {"complemento", "compl", "complemento endereco"},
	"bairro":              {"bairro", "distrito", "zona"},
	"cidade":              {"cidade", "municipio", "município", "localidade"},
	"estado":              {"estado", "uf", "estado/uf", "unidade federativa"},
	"cep":                 {"cep", "código postal", "codigo postal", "postal code"},
	"atividade_principal": {"atividade principal", "atividadeprincipal", "cnae", "cnae principal", "ramo de atividade"},
}

// AutoMapColumns proposes a ColumnMapping for the given spreadsheet headers.
// For each canonical field in declaration order it claims the first header
// whose normalized form equals, contains, or is contained by one of the
// field's patterns. Each header is claimed at most once. Pure: the input is
// never mutated and repeated calls give the same result.
func AutoMapColumns(headers []string) ColumnMapping {
	mapping := ColumnMapping{}
	used := make(map[string]bool, len(headers))

	for _, field := range autoMapFields {
		patterns := autoMapPatterns[field]
		for _, header := range headers {
			if used[header] {
				continue
			}
			if !headerMatches(header, patterns) {
				continue
			}
			mapping[field] = header
			used[header] = true
			break
		}
	}
	return mapping
}

func headerMatches(header string, patterns []string) bool {
	normalizedHeader := NormalizeKey(header)
	if normalizedHeader == "" {
		return false
	}
	for _, pattern := range patterns {
		normalizedPattern := NormalizeKey(pattern)
		if normalizedHeader == normalizedPattern ||
			strings.Contains(normalizedHeader, normalizedPattern) ||
			strings.Contains(normalizedPattern, normalizedHeader) {
			return true
		}
	}
	return false
}
