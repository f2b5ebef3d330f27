package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/facturad/internal/invoice"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "panaderia", Fold("Panadería"))
	assert.Equal(t, "educacion basica", Fold("EDUCACIÓN BÁSICA"))
	assert.Equal(t, "nino", Fold("NIÑO"))
}

func TestRuleClassifier_Classify(t *testing.T) {
	rc := NewRuleClassifier()

	tests := []struct {
		name         string
		issuer       string
		descriptions []string
		want         invoice.Category
		wantMatch    bool
	}{
		{
			name:      "supermaxi is food",
			issuer:    "Supermaxi",
			want:      invoice.CategoryAlimentacion,
			wantMatch: true,
		},
		{
			name:      "issuer with diacritics",
			issuer:    "PANADERÍA EL TRIGAL",
			want:      invoice.CategoryAlimentacion,
			wantMatch: true,
		},
		{
			name:      "pharmacy is health",
			issuer:    "FARMACIAS FYBECA S.A.",
			want:      invoice.CategorySalud,
			wantMatch: true,
		},
		{
			name:         "description drives the match",
			issuer:       "COMERCIAL XYZ",
			descriptions: []string{"Matricula segundo semestre", "Universidad Central"},
			want:         invoice.CategoryEducacion,
			wantMatch:    true,
		},
		{
			name:      "utility is housing",
			issuer:    "EMPRESA ELECTRICA QUITO",
			want:      invoice.CategoryVivienda,
			wantMatch: true,
		},
		{
			name:      "clothing retailer",
			issuer:    "ETAFASHION CIA LTDA",
			want:      invoice.CategoryVestimenta,
			wantMatch: true,
		},
		{
			name:      "hotel is tourism",
			issuer:    "HOTEL ORO VERDE",
			want:      invoice.CategoryTurismo,
			wantMatch: true,
		},
		{
			name:      "unknown issuer misses",
			issuer:    "IMPORTADORA TECNOGLOBAL",
			want:      invoice.CategoryOtros,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := rc.Classify(tt.issuer, tt.descriptions)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMatch, matched)
		})
	}
}

func TestRuleClassifier_IsDeterministic(t *testing.T) {
	rc := NewRuleClassifier()
	for i := 0; i < 10; i++ {
		got, matched := rc.Classify("Supermaxi", nil)
		assert.Equal(t, invoice.CategoryAlimentacion, got)
		assert.True(t, matched)
	}
}
