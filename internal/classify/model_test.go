package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/facturad/internal/config"
	"github.com/fyrsmithlabs/facturad/internal/invoice"
	"github.com/fyrsmithlabs/facturad/internal/logging"
)

// fakeService captures chat-completion requests and replies with
// canned label arrays.
type fakeService struct {
	t       *testing.T
	calls   int
	sizes   []int
	respond func(call, size int) (status int, body string)
}

func (f *fakeService) handler(w http.ResponseWriter, r *http.Request) {
	f.calls++

	var req chatRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	require.Len(f.t, req.Messages, 2)

	// Count numbered lines in the user message to learn the batch size.
	size := 0
	for _, line := range splitLines(req.Messages[1].Content) {
		if line != "" {
			size++
		}
	}
	f.sizes = append(f.sizes, size)

	status, body := f.respond(f.calls, size)
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func chatBody(labels []string) string {
	data, _ := json.Marshal(labels)
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": string(data)}},
		},
	}
	out, _ := json.Marshal(resp)
	return string(out)
}

func newTestClassifier(t *testing.T, url string, batchSize int) *ModelClassifier {
	t.Helper()
	m, err := NewModelClassifier(config.ClassifierConfig{
		Provider:  "openai",
		APIKey:    "test-key",
		Model:     "gpt-4o-mini",
		BaseURL:   url,
		BatchSize: batchSize,
		Timeout:   config.Duration(5 * time.Second),
	}, logging.NewNop())
	require.NoError(t, err)
	// Tests should not sleep through retry backoff.
	m.maxRetries = 0
	return m
}

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{IssuerName: fmt.Sprintf("Issuer %d", i), IssuerTaxID: "1790000000001"}
	}
	return items
}

func TestClassifyBatch_BoundedChunks(t *testing.T) {
	svc := &fakeService{t: t, respond: func(call, size int) (int, string) {
		labels := make([]string, size)
		for i := range labels {
			labels[i] = string(invoice.CategorySalud)
		}
		return http.StatusOK, chatBody(labels)
	}}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	defer srv.Close()

	m := newTestClassifier(t, srv.URL, 50)
	got := m.ClassifyBatch(context.Background(), makeItems(137))

	require.Len(t, got, 137)
	assert.Equal(t, 3, svc.calls)
	assert.Equal(t, []int{50, 50, 37}, svc.sizes)
	for _, c := range got {
		assert.Equal(t, invoice.CategorySalud, c)
	}
}

func TestClassifyBatch_UnknownLabelDefaultsToOtros(t *testing.T) {
	svc := &fakeService{t: t, respond: func(call, size int) (int, string) {
		return http.StatusOK, chatBody([]string{"Salud", "Mascotas", "Vivienda"})
	}}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	defer srv.Close()

	m := newTestClassifier(t, srv.URL, 50)
	got := m.ClassifyBatch(context.Background(), makeItems(3))

	assert.Equal(t, []invoice.Category{
		invoice.CategorySalud,
		invoice.CategoryOtros,
		invoice.CategoryVivienda,
	}, got)
}

func TestClassifyBatch_CountMismatchFailsWholeBatch(t *testing.T) {
	svc := &fakeService{t: t, respond: func(call, size int) (int, string) {
		return http.StatusOK, chatBody([]string{"Salud"})
	}}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	defer srv.Close()

	m := newTestClassifier(t, srv.URL, 50)
	got := m.ClassifyBatch(context.Background(), makeItems(3))

	for _, c := range got {
		assert.Equal(t, invoice.CategoryOtros, c)
	}
}

func TestClassifyBatch_ServiceErrorDefaultsBatch(t *testing.T) {
	svc := &fakeService{t: t, respond: func(call, size int) (int, string) {
		return http.StatusBadRequest, `{"error":{"message":"bad request"}}`
	}}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	defer srv.Close()

	m := newTestClassifier(t, srv.URL, 50)
	got := m.ClassifyBatch(context.Background(), makeItems(5))

	require.Len(t, got, 5)
	for _, c := range got {
		assert.Equal(t, invoice.CategoryOtros, c)
	}
}

func TestClassifyBatch_MalformedContentDefaultsBatch(t *testing.T) {
	svc := &fakeService{t: t, respond: func(call, size int) (int, string) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "I think these are all food purchases."}},
			},
		}
		out, _ := json.Marshal(resp)
		return http.StatusOK, string(out)
	}}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	defer srv.Close()

	m := newTestClassifier(t, srv.URL, 50)
	got := m.ClassifyBatch(context.Background(), makeItems(2))

	for _, c := range got {
		assert.Equal(t, invoice.CategoryOtros, c)
	}
}

func TestClassifyBatch_StripsMarkdownFences(t *testing.T) {
	svc := &fakeService{t: t, respond: func(call, size int) (int, string) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "```json\n[\"Educacion\"]\n```"}},
			},
		}
		out, _ := json.Marshal(resp)
		return http.StatusOK, string(out)
	}}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	defer srv.Close()

	m := newTestClassifier(t, srv.URL, 50)
	got := m.ClassifyBatch(context.Background(), makeItems(1))
	assert.Equal(t, []invoice.Category{invoice.CategoryEducacion}, got)
}

func TestNewBatchClassifier_Providers(t *testing.T) {
	nop, err := NewBatchClassifier(config.ClassifierConfig{Provider: "disabled"}, nil)
	require.NoError(t, err)
	assert.False(t, nop.Available())

	got := nop.ClassifyBatch(context.Background(), makeItems(2))
	assert.Equal(t, []invoice.Category{invoice.CategoryOtros, invoice.CategoryOtros}, got)

	_, err = NewBatchClassifier(config.ClassifierConfig{Provider: "cohere"}, nil)
	require.Error(t, err)

	_, err = NewBatchClassifier(config.ClassifierConfig{
		Provider:  "openai",
		APIKey:    "k",
		BatchSize: 10,
	}, nil)
	require.NoError(t, err)
}

func TestItemFromCandidate(t *testing.T) {
	item := ItemFromCandidate(&invoice.Candidate{
		IssuerName:       "Comercial XYZ",
		IssuerTaxID:      "1790000000001",
		LineDescriptions: []string{"Cuaderno", "Esferos"},
	})
	assert.Equal(t, "Comercial XYZ", item.IssuerName)
	assert.Equal(t, "Cuaderno; Esferos", item.Description)
}
