package invoice

import (
	"regexp"
	"strconv"
	"strings"
)

// issuerNameTags is the fallback chain of tag names different issuers
// use for the issuer's legal name, most common first.
var issuerNameTags = []string{"razonSocial", "nombreComercial", "razonSocialEmisor"}

// issuerTaxIDTags is the fallback chain for the issuer's tax id.
var issuerTaxIDTags = []string{"ruc", "rucEmisor"}

// allowedDocTypes are the invoice-like document type codes: factura,
// liquidacion de compra, nota de credito, nota de debito, guia de
// remision, retencion.
var allowedDocTypes = map[string]bool{
	"01": true,
	"03": true,
	"04": true,
	"05": true,
	"06": true,
	"07": true,
}

var slashDate = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// Parse extracts the invoice fields from canonical markup and validates
// them against the target fiscal year. Candidates failing validation
// are dropped: the return is nil, never an error, because rejection is
// expected filtering.
func Parse(markup string, targetYear int) *Candidate {
	c := &Candidate{
		IssuerTaxID:      firstTagValue(markup, issuerTaxIDTags),
		IssuerName:       firstTagValue(markup, issuerNameTags),
		IssueDate:        normalizeDate(tagValue(markup, "fechaEmision")),
		AccessKey:        tagValue(markup, "claveAcceso"),
		DocTypeCode:      tagValue(markup, "codDoc"),
		LineDescriptions: tagValues(markup, "descripcion"),
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(tagValue(markup, "importeTotal")), 64)
	if err != nil || amount <= 0 {
		return nil
	}
	c.TotalAmount = amount

	if c.IssuerTaxID == "" {
		return nil
	}
	if c.DocTypeCode != "" && !allowedDocTypes[c.DocTypeCode] {
		return nil
	}
	if !strings.HasPrefix(c.IssueDate, strconv.Itoa(targetYear)+"-") {
		return nil
	}

	return c
}

// tagValue returns the text content of the first occurrence of the
// named tag, or "" when absent.
func tagValue(markup, name string) string {
	rest := markup
	for {
		start := strings.Index(rest, "<"+name)
		if start < 0 {
			return ""
		}
		after := rest[start+len(name)+1:]
		// Reject prefix matches like <rucEmisor> when looking for <ruc>.
		if len(after) > 0 && after[0] != '>' && after[0] != ' ' && after[0] != '\t' && after[0] != '\n' && after[0] != '/' {
			rest = after
			continue
		}
		open := strings.Index(after, ">")
		if open < 0 {
			return ""
		}
		if open > 0 && after[open-1] == '/' {
			return "" // self-closing, no content
		}
		body := after[open+1:]
		end := strings.Index(body, "</"+name+">")
		if end < 0 {
			return ""
		}
		return strings.TrimSpace(body[:end])
	}
}

// firstTagValue walks a fallback chain of tag names and returns the
// first non-empty value.
func firstTagValue(markup string, names []string) string {
	for _, name := range names {
		if v := tagValue(markup, name); v != "" {
			return v
		}
	}
	return ""
}

// tagValues returns the text content of every occurrence of the named
// tag, in document order. Empty occurrences are skipped, not treated
// as the end of the document.
func tagValues(markup, name string) []string {
	var values []string
	closeTag := "</" + name + ">"
	rest := markup
	for {
		end := strings.Index(rest, closeTag)
		if end < 0 {
			return values
		}
		if v := tagValue(rest[:end+len(closeTag)], name); v != "" {
			values = append(values, v)
		}
		rest = rest[end+len(closeTag):]
	}
}

// normalizeDate converts DD/MM/YYYY dates to YYYY-MM-DD. Dates already
// in canonical form pass through unchanged.
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if m := slashDate.FindStringSubmatch(date); m != nil {
		return m[3] + "-" + m[2] + "-" + m[1]
	}
	return date
}
