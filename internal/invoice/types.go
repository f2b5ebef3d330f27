// Package invoice defines the invoice domain: typed records extracted
// from electronic-invoice markup, spending categories, and the
// normalization and parsing steps that turn raw document bytes into
// validated candidates.
package invoice

// Category is a spending category assigned to an invoice.
type Category string

// Spending categories. Otros is the catch-all for anything the
// classifier cannot resolve.
const (
	CategoryVivienda     Category = "Vivienda"
	CategoryEducacion    Category = "Educacion"
	CategoryAlimentacion Category = "Alimentacion"
	CategoryVestimenta   Category = "Vestimenta"
	CategorySalud        Category = "Salud"
	CategoryTurismo      Category = "Turismo"
	CategoryOtros        Category = "Otros"
)

// Categories returns every valid category, deductible ones first.
func Categories() []Category {
	return []Category{
		CategoryVivienda,
		CategoryEducacion,
		CategoryAlimentacion,
		CategoryVestimenta,
		CategorySalud,
		CategoryTurismo,
		CategoryOtros,
	}
}

// Valid reports whether c is a member of the category enumeration.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Deductible reports whether invoices in this category count toward
// personal deductions. Otros is the non-deductible catch-all.
func (c Category) Deductible() bool {
	return c.Valid() && c != CategoryOtros
}

// Candidate is a parsed, validated invoice awaiting classification.
type Candidate struct {
	IssuerTaxID      string
	IssuerName       string
	IssueDate        string // YYYY-MM-DD
	TotalAmount      float64
	AccessKey        string
	LineDescriptions []string
	DocTypeCode      string
}

// Classified is a candidate with its final category.
type Classified struct {
	Candidate
	Category   Category
	Deductible bool
}

// Record is the persisted form of a classified invoice.
type Record struct {
	Classified
	UserID       string
	Source       string
	ReceiptCount int
}

// SourceMailSync marks records created by the mailbox pipeline.
const SourceMailSync = "mail-sync"

// NewRecord builds the persisted record for a classified invoice.
func NewRecord(userID string, inv Classified) Record {
	return Record{
		Classified:   inv,
		UserID:       userID,
		Source:       SourceMailSync,
		ReceiptCount: 1,
	}
}
