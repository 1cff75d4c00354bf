// -----------------------------------------------------------------------
// DeepL - subtitle translation with cached quota checks
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

const deepLBaseURL = "https://api-free.deepl.com/v2"

// batchSize bounds lines per translate request; DeepL accepts up to 50 text
// parameters per call.
const batchSize = 50

// usageCacheTTL bounds how stale the cached quota may be. One check per job
// is the goal; per-line checks would burn the quota themselves.
const usageCacheTTL = 10 * time.Minute

// DeepL translates subtitle lines. Quota is checked against /usage and
// cached so a drained account fails fast instead of erroring per batch.
type DeepL struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger

	mu            sync.Mutex
	usageChecked  time.Time
	usageExceeded bool
}

// NewDeepL creates a translator. An empty key disables it.
func NewDeepL(apiKey string, logger *log.Logger) *DeepL {
	return &DeepL{
		apiKey:  apiKey,
		baseURL: deepLBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		logger:  logger,
	}
}

// Enabled reports whether the translator is configured and has quota.
func (d *DeepL) Enabled(ctx context.Context) bool {
	if d.apiKey == "" {
		return false
	}
	return !d.quotaExceeded(ctx)
}

type usageResponse struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

func (d *DeepL) quotaExceeded(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.usageChecked) < usageCacheTTL {
		return d.usageExceeded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/usage", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn().Err(err).Msg("deepl usage check failed")
		return false
	}
	defer resp.Body.Close()

	var usage usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return false
	}

	d.usageChecked = time.Now()
	d.usageExceeded = usage.CharacterLimit > 0 && usage.CharacterCount >= usage.CharacterLimit
	if d.usageExceeded {
		d.logger.Warn().
			Int64("used", usage.CharacterCount).
			Int64("limit", usage.CharacterLimit).
			Msg("deepl quota exhausted")
	}
	return d.usageExceeded
}

type translateResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

// TranslateLines translates text lines preserving count and order, so the
// caller can map them back onto SRT segments one to one.
func (d *DeepL) TranslateLines(ctx context.Context, lines []string, sourceLang, targetLang string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for start := 0; start < len(lines); start += batchSize {
		end := start + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		translated, err := d.translateBatch(ctx, lines[start:end], sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		out = append(out, translated...)
	}
	return out, nil
}

func (d *DeepL) translateBatch(ctx context.Context, lines []string, sourceLang, targetLang string) ([]string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	for _, line := range lines {
		form.Add("text", line)
	}
	form.Set("source_lang", strings.ToUpper(sourceLang))
	form.Set("target_lang", strings.ToUpper(targetLang))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepl translate failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 456 {
		// 456 is DeepL's quota-exceeded status.
		d.mu.Lock()
		d.usageExceeded = true
		d.usageChecked = time.Now()
		d.mu.Unlock()
		return nil, fmt.Errorf("deepl quota exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepl translate returned %d", resp.StatusCode)
	}

	var parsed translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse deepl response: %w", err)
	}
	if len(parsed.Translations) != len(lines) {
		return nil, fmt.Errorf("deepl returned %d translations for %d lines", len(parsed.Translations), len(lines))
	}

	out := make([]string, len(parsed.Translations))
	for i, t := range parsed.Translations {
		out[i] = t.Text
	}
	return out, nil
}
