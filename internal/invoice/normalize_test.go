package invoice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkup = `<?xml version="1.0" encoding="UTF-8"?>
<factura id="comprobante" version="1.1.0">
  <infoTributaria>
    <ruc>1790000000001</ruc>
    <razonSocial>Supermercados La Favorita C.A.</razonSocial>
    <claveAcceso>1503202501179000000000110010010000000011234567813</claveAcceso>
    <codDoc>01</codDoc>
  </infoTributaria>
  <infoFactura>
    <fechaEmision>15/03/2025</fechaEmision>
    <importeTotal>45.50</importeTotal>
  </infoFactura>
  <detalles>
    <detalle><descripcion>Viveres y abarrotes</descripcion></detalle>
  </detalles>
</factura>`

func escapeEntities(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}

func TestNormalize_ThreeShapesAreEquivalent(t *testing.T) {
	direct := []byte(sampleMarkup)
	cdata := []byte(`<autorizacion><estado>AUTORIZADO</estado><comprobante><![CDATA[` + sampleMarkup + `]]></comprobante></autorizacion>`)
	escaped := []byte(`<autorizacion><comprobante>` + escapeEntities(sampleMarkup) + `</comprobante></autorizacion>`)

	var candidates []*Candidate
	for _, data := range [][]byte{direct, cdata, escaped} {
		markup, err := Normalize(data)
		require.NoError(t, err)
		c := Parse(markup, 2025)
		require.NotNil(t, c)
		candidates = append(candidates, c)
	}

	for _, c := range candidates[1:] {
		assert.Equal(t, candidates[0], c)
	}
	assert.Equal(t, "1790000000001", candidates[0].IssuerTaxID)
	assert.Equal(t, "2025-03-15", candidates[0].IssueDate)
	assert.Equal(t, 45.50, candidates[0].TotalAmount)
}

func TestNormalize_RejectsHTML(t *testing.T) {
	_, err := Normalize([]byte(`<!DOCTYPE html><html><body>Su comprobante</body></html>`))
	assert.ErrorIs(t, err, ErrNotInvoice)

	_, err = Normalize([]byte(`<html lang="es"><body></body></html>`))
	assert.ErrorIs(t, err, ErrNotInvoice)
}

func TestNormalize_RejectsSharingNotification(t *testing.T) {
	notification := []byte(`<notificacion><mensaje>Se ha compartido un documento con usted</mensaje></notificacion>`)
	_, err := Normalize(notification)
	assert.ErrorIs(t, err, ErrNotInvoice)
}

func TestNormalize_RejectsEmpty(t *testing.T) {
	_, err := Normalize([]byte("  \n "))
	assert.ErrorIs(t, err, ErrNotInvoice)
}

func TestNormalize_DirectPassThrough(t *testing.T) {
	markup, err := Normalize([]byte(sampleMarkup))
	require.NoError(t, err)
	assert.Equal(t, sampleMarkup, markup)
}
