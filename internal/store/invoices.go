package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/facturad/internal/invoice"
)

// InsertInvoice writes one invoice record. The write is keyed on
// (user_id, access_key); a conflicting write returns ErrDuplicate and
// leaves the existing row untouched, which is what makes re-processing
// the same document safe.
func (s *Store) InsertInvoice(ctx context.Context, rec invoice.Record) error {
	accessKey := rec.AccessKey
	if accessKey == "" {
		accessKey = surrogateKey(rec)
	}

	deductible := 0
	if rec.Deductible {
		deductible = 1
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices
         (user_id, access_key, issuer_tax_id, issuer_name, issue_date,
          total_amount, doc_type_code, category, deductible, source,
          receipt_count, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(user_id, access_key) DO NOTHING;`,
		rec.UserID,
		accessKey,
		rec.IssuerTaxID,
		rec.IssuerName,
		rec.IssueDate,
		rec.TotalAmount,
		rec.DocTypeCode,
		string(rec.Category),
		deductible,
		rec.Source,
		rec.ReceiptCount,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert invoice: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDuplicate
	}
	return nil
}

// CountInvoices returns the number of stored invoices for a user.
func (s *Store) CountInvoices(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE user_id = ?;`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return n, nil
}

// StoredInvoice is one persisted invoice row.
type StoredInvoice struct {
	AccessKey   string
	IssuerTaxID string
	IssuerName  string
	IssueDate   string
	TotalAmount float64
	DocTypeCode string
	Category    invoice.Category
	Deductible  bool
}

// ListInvoices returns a user's invoices ordered by issue date.
func (s *Store) ListInvoices(ctx context.Context, userID string) ([]StoredInvoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT access_key, issuer_tax_id, issuer_name, issue_date,
                total_amount, doc_type_code, category, deductible
         FROM invoices WHERE user_id = ? ORDER BY issue_date, id;`, userID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []StoredInvoice
	for rows.Next() {
		var inv StoredInvoice
		var deductible int
		var category string
		if err := rows.Scan(&inv.AccessKey, &inv.IssuerTaxID, &inv.IssuerName,
			&inv.IssueDate, &inv.TotalAmount, &inv.DocTypeCode, &category, &deductible); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.Category = invoice.Category(category)
		inv.Deductible = deductible == 1
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// surrogateKey derives a stable dedup key for invoices whose markup
// carried no access key, so the uniqueness invariant holds for every
// record.
func surrogateKey(rec invoice.Record) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%.2f", rec.IssuerTaxID, rec.IssueDate, rec.TotalAmount))
	return "sha256:" + hex.EncodeToString(h[:16])
}
