package classify

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/facturad/internal/config"
	"github.com/fyrsmithlabs/facturad/internal/invoice"
	"github.com/fyrsmithlabs/facturad/internal/logging"
)

// NewBatchClassifier creates the fallback-tier classifier from
// configuration.
func NewBatchClassifier(cfg config.ClassifierConfig, logger *logging.Logger) (BatchClassifier, error) {
	switch cfg.Provider {
	case "", "disabled":
		return &NoOpClassifier{}, nil
	case "openai":
		return NewModelClassifier(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown classifier provider: %s", cfg.Provider)
	}
}

// NoOpClassifier leaves every escalated invoice in the catch-all
// category. Used when no classification service is configured.
type NoOpClassifier struct{}

// ClassifyBatch returns Otros for every item.
func (n *NoOpClassifier) ClassifyBatch(ctx context.Context, items []Item) []invoice.Category {
	categories := make([]invoice.Category, len(items))
	for i := range categories {
		categories[i] = invoice.CategoryOtros
	}
	return categories
}

// Available returns false for NoOpClassifier.
func (n *NoOpClassifier) Available() bool {
	return false
}

var _ BatchClassifier = (*NoOpClassifier)(nil)
