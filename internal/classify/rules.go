package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/fyrsmithlabs/facturad/internal/invoice"
)

// ruleGroup maps one category to its keyword set. Within a group the
// longest, most specific phrases come first so a multi-word match is
// preferred over a fragment that could belong to another category.
type ruleGroup struct {
	category invoice.Category
	keywords []string
}

// defaultRules is the ordered rule dictionary. Group order matters:
// the first group with a matching keyword wins.
var defaultRules = []ruleGroup{
	{
		category: invoice.CategorySalud,
		keywords: []string{
			"farmacias fybeca", "farmacias sana sana", "laboratorio clinico",
			"consulta medica", "fybeca", "pharmacys", "medicity",
			"farmacia", "clinica", "hospital", "odontolog", "oftalmolog",
			"veris",
		},
	},
	{
		category: invoice.CategoryAlimentacion,
		keywords: []string{
			"mi comisariato", "almacenes tia", "santa maria",
			"supermaxi", "megamaxi", "supermercado", "restaurante",
			"panaderia", "cafeteria", "pizzeria", "viveres", "abarrotes",
			"fruteria", "carniceria",
		},
	},
	{
		category: invoice.CategoryEducacion,
		keywords: []string{
			"unidad educativa", "instituto tecnologico", "universidad",
			"colegio", "escuela", "academia", "libreria", "matricula",
			"pension estudiantil", "curso de",
		},
	},
	{
		category: invoice.CategoryVivienda,
		keywords: []string{
			"empresa electrica", "agua potable", "arriendo", "alquiler",
			"inmobiliaria", "condominio", "interagua", "etapa ep", "cnel",
			"ferreteria", "hipotecario",
		},
	},
	{
		category: invoice.CategoryVestimenta,
		keywords: []string{
			"marathon sports", "etafashion", "de prati", "zapateria",
			"boutique", "calzado", "ropa", "textil",
		},
	},
	{
		category: invoice.CategoryTurismo,
		keywords: []string{
			"agencia de viajes", "pasaje aereo", "hosteria", "hostal",
			"hotel", "aerolinea", "latam", "avianca",
		},
	},
}

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lower-cases s and strips diacritics so rule keywords match
// regardless of accents ("Panadería" -> "panaderia").
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// RuleClassifier is the deterministic first tier.
type RuleClassifier struct {
	rules []ruleGroup
}

// NewRuleClassifier creates a rule classifier with the default
// dictionary.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{rules: defaultRules}
}

// Classify tests the issuer name and line descriptions against the
// rule dictionary. The boolean reports whether a rule matched; on a
// miss the provisional category is Otros and the caller escalates to
// the fallback tier.
func (r *RuleClassifier) Classify(issuerName string, descriptions []string) (invoice.Category, bool) {
	text := Fold(issuerName + " " + strings.Join(descriptions, " "))

	for _, group := range r.rules {
		for _, keyword := range group.keywords {
			if strings.Contains(text, keyword) {
				return group.category, true
			}
		}
	}
	return invoice.CategoryOtros, false
}
