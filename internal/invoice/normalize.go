package invoice

import (
	"errors"
	"strings"
)

// ErrNotInvoice marks documents that decoded fine but are not
// electronic invoices (sharing notifications, HTML pages). This is
// expected filtering, not a processing failure.
var ErrNotInvoice = errors.New("document is not an invoice")

// Issuing systems wrap the same invoice markup in three shapes:
// a CDATA section inside an authorization envelope, an envelope whose
// body is entity-escaped markup, or the bare markup itself. Normalize
// runs a detector chain over the three shapes and returns one
// canonical markup string.
func Normalize(data []byte) (string, error) {
	doc := strings.TrimSpace(string(data))
	if doc == "" {
		return "", ErrNotInvoice
	}

	lower := strings.ToLower(doc)
	if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") {
		return "", ErrNotInvoice
	}

	if inner, ok := unwrapCDATA(doc); ok {
		doc = inner
	} else if inner, ok := unwrapEntities(doc); ok {
		doc = inner
	}

	if !looksLikeInvoice(doc) {
		return "", ErrNotInvoice
	}
	return doc, nil
}

// unwrapCDATA extracts the interior of the first CDATA section that
// itself holds markup.
func unwrapCDATA(doc string) (string, bool) {
	const open, close = "<![CDATA[", "]]>"

	rest := doc
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			return "", false
		}
		end := strings.Index(rest[start+len(open):], close)
		if end < 0 {
			return "", false
		}
		inner := rest[start+len(open) : start+len(open)+end]
		if strings.Contains(inner, "<") {
			return strings.TrimSpace(inner), true
		}
		rest = rest[start+len(open)+end+len(close):]
	}
}

// entityReplacer un-escapes the five standard entities. The ampersand
// is replaced last so already-unescaped entities are not double-decoded.
var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
)

// unwrapEntities detects an envelope whose body is entity-escaped
// markup and un-escapes it.
func unwrapEntities(doc string) (string, bool) {
	if !strings.Contains(doc, "&lt;") {
		return "", false
	}
	unescaped := entityReplacer.Replace(doc)
	unescaped = strings.ReplaceAll(unescaped, "&amp;", "&")

	// Strip the envelope: keep from the first unescaped tag that opens
	// the embedded document.
	if start := strings.Index(unescaped, "<?xml"); start > 0 {
		unescaped = unescaped[start:]
	}
	return strings.TrimSpace(unescaped), true
}

// invoiceMarkers identify invoice-like markup. A document carrying
// none of them is an unrelated envelope.
var invoiceMarkers = []string{
	"<factura",
	"<notacredito",
	"<notadebito",
	"<comprobanteretencion",
	"<infotributaria",
}

func looksLikeInvoice(doc string) bool {
	lower := strings.ToLower(doc)
	for _, marker := range invoiceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
