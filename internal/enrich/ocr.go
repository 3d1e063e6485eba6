package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/harvest"
)

// HTTPRecognizer recovers a contact field from an image by calling an
// external OCR service. Any failure — network, decode, empty result — is
// reported as "field absent"; OCR is strictly best effort and never fails
// the pipeline.
type HTTPRecognizer struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

var _ harvest.Recognizer = (*HTTPRecognizer)(nil)

// NewHTTPRecognizer builds a recognizer against the given service endpoint.
func NewHTTPRecognizer(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRecognizer{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Recover asks the OCR service to read imageRef.
func (r *HTTPRecognizer) Recover(ctx context.Context, imageRef string) (string, bool) {
	if imageRef == "" || r.endpoint == "" {
		return "", false
	}

	body := strings.NewReader(url.Values{"image": {imageRef}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Debug("ocr request failed", zap.String("image", imageRef), zap.Error(err))
		return "", false
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("ocr non-200", zap.Int("status", resp.StatusCode))
		return "", false
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		r.logger.Debug("ocr decode failed", zap.Error(err))
		return "", false
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", false
	}
	return text, true
}

// NoopRecognizer always reports the field absent. Used when no OCR
// service is configured.
type NoopRecognizer struct{}

var _ harvest.Recognizer = NoopRecognizer{}

// Recover reports the field absent.
func (NoopRecognizer) Recover(context.Context, string) (string, bool) {
	return "", false
}
