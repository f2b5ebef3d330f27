package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/facturad/internal/config"
	"github.com/fyrsmithlabs/facturad/internal/invoice"
	"github.com/fyrsmithlabs/facturad/internal/logging"
)

// Default configuration values.
const (
	defaultMaxTokens   = 1024
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// ModelClassifier escalates unresolved invoices to an OpenAI-style
// chat-completions endpoint in bounded batches.
type ModelClassifier struct {
	model      string
	apiKey     string
	baseURL    string
	batchSize  int
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *logging.Logger
}

// NewModelClassifier creates a classifier backed by the configured
// classification service.
func NewModelClassifier(cfg config.ClassifierConfig, logger *logging.Logger) (*ModelClassifier, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("classifier API key required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	batchSize := cfg.BatchSize
	if batchSize < 1 || batchSize > 50 {
		batchSize = 50
	}

	return &ModelClassifier{
		model:     cfg.Model,
		apiKey:    cfg.APIKey.Value(),
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.Duration(),
		},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
		logger:     logger.Named("classifier"),
	}, nil
}

// classifyPrompt enumerates the exact allowed category strings with a
// few worked examples per category. The service must answer with one
// label per input, in order.
const classifyPrompt = `You classify Ecuadorian electronic invoices into personal spending categories for tax deduction purposes.

The ONLY allowed categories are, exactly as written:
- Vivienda (housing: rent, utilities, home maintenance. e.g. "EMPRESA ELECTRICA QUITO", "INMOBILIARIA DEL SOL arriendo marzo")
- Educacion (education: tuition, school supplies, books. e.g. "UNIVERSIDAD SAN FRANCISCO matricula", "LIBRERIA ESPANOLA texto escolar")
- Alimentacion (food: groceries, restaurants. e.g. "CORPORACION FAVORITA viveres", "RESTAURANTE LA CASONA almuerzo")
- Vestimenta (clothing and footwear. e.g. "ETAFASHION camisa", "CALZADO PONY zapatos")
- Salud (health: medicine, doctors, labs. e.g. "FARMACIAS FYBECA paracetamol", "CLINICA PICHINCHA consulta")
- Turismo (tourism: lodging, travel. e.g. "HOTEL ORO VERDE hospedaje", "LATAM AIRLINES pasaje")
- Otros (anything that fits none of the above)

You will receive a numbered list of invoices as (issuer, tax id, description) tuples.
Respond ONLY with a JSON array of category strings, one per invoice, in the same order. No additional text.`

// chatRequest is the request format for the chat-completions API.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the response from the chat-completions API.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ClassifyBatch splits items into bounded chunks and classifies each
// chunk with one service call. A failed chunk defaults every item in
// it to Otros; a single invalid label defaults only that item. The
// returned slice always has exactly one category per item.
func (m *ModelClassifier) ClassifyBatch(ctx context.Context, items []Item) []invoice.Category {
	categories := make([]invoice.Category, len(items))
	for i := range categories {
		categories[i] = invoice.CategoryOtros
	}

	for start := 0; start < len(items); start += m.batchSize {
		end := start + m.batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		labels, err := m.classifyChunk(ctx, chunk)
		if err != nil {
			m.logger.Warn(ctx, "classification batch failed, defaulting to Otros",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(chunk)),
				zap.Error(err))
			continue
		}

		for i, label := range labels {
			category := invoice.Category(label)
			if !category.Valid() {
				m.logger.Warn(ctx, "classification service returned unknown label",
					zap.String("label", label),
					zap.String("issuer", chunk[i].IssuerName))
				continue // stays Otros
			}
			categories[start+i] = category
		}
	}

	return categories
}

// classifyChunk sends one bounded batch and parses the ordered label
// list. Any malformed response is an error for the whole chunk.
func (m *ModelClassifier) classifyChunk(ctx context.Context, chunk []Item) ([]string, error) {
	var b strings.Builder
	for i, item := range chunk {
		fmt.Fprintf(&b, "%d. (%s, %s, %s)\n", i+1, item.IssuerName, item.IssuerTaxID, item.Description)
	}

	req := chatRequest{
		Model:       m.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0, // deterministic labels
		Messages: []chatMessage{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: b.String()},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		labels, err := m.doRequest(ctx, req, len(chunk))
		if err == nil {
			return labels, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs the HTTP request and validates the label count.
func (m *ModelClassifier) doRequest(ctx context.Context, req chatRequest, wantLabels int) ([]string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp chatError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	labels, err := parseLabelArray(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(labels) != wantLabels {
		return nil, fmt.Errorf("label count mismatch: got %d, want %d", len(labels), wantLabels)
	}
	return labels, nil
}

// parseLabelArray parses the model output as a JSON array of strings.
// Models sometimes wrap JSON in markdown code fences.
func parseLabelArray(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var labels []string
	if err := json.Unmarshal([]byte(content), &labels); err != nil {
		return nil, fmt.Errorf("failed to parse label array: %w", err)
	}
	return labels, nil
}

// Available returns true if the classifier is configured.
func (m *ModelClassifier) Available() bool {
	return m.apiKey != ""
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		if unwrapper, ok := e.(interface{ Unwrap() error }); ok {
			e = unwrapper.Unwrap()
		} else {
			break
		}
	}
	return false
}

var _ BatchClassifier = (*ModelClassifier)(nil)
