// Package classify assigns a spending category to each invoice. It is
// a two-tier design: a deterministic rule dictionary resolves the
// common case, and the long tail is escalated in bounded batches to an
// external text-classification service whose output is strictly
// validated against the category enumeration. The fallback tier never
// fails a run; every failure mode degrades to the Otros catch-all.
package classify

import (
	"context"

	"github.com/fyrsmithlabs/facturad/internal/invoice"
)

// Item is one invoice summarized for the classification service.
type Item struct {
	IssuerName  string
	IssuerTaxID string
	Description string
}

// ItemFromCandidate summarizes a candidate for classification.
func ItemFromCandidate(c *invoice.Candidate) Item {
	desc := ""
	if len(c.LineDescriptions) > 0 {
		desc = c.LineDescriptions[0]
		for _, d := range c.LineDescriptions[1:] {
			desc += "; " + d
		}
	}
	return Item{
		IssuerName:  c.IssuerName,
		IssuerTaxID: c.IssuerTaxID,
		Description: desc,
	}
}

// BatchClassifier resolves invoices the rule tier could not. It must
// return exactly one category per input item, in order, and must not
// fail: items it cannot classify come back as CategoryOtros.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, items []Item) []invoice.Category

	// Available returns true if the classifier is configured and ready.
	Available() bool
}
