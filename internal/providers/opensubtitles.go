// -----------------------------------------------------------------------
// OpenSubtitles - REST client for subtitle search and download
// -----------------------------------------------------------------------

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/subfetch/subfetch/internal/subtitles"
)

const openSubtitlesBaseURL = "https://api.opensubtitles.com/api/v1"

// OpenSubtitles is a client for the OpenSubtitles REST API. Requests are
// rate limited client-side; the free tier allows 5 requests per second.
type OpenSubtitles struct {
	apiKey    string
	userAgent string
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *log.Logger
}

// NewOpenSubtitles creates a client. An empty API key disables the provider.
func NewOpenSubtitles(apiKey string, logger *log.Logger) *OpenSubtitles {
	return &OpenSubtitles{
		apiKey:    apiKey,
		userAgent: "subfetch v1",
		baseURL:   openSubtitlesBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		logger:    logger,
	}
}

// Enabled reports whether the provider is configured.
func (c *OpenSubtitles) Enabled() bool {
	return c.apiKey != ""
}

type searchResponse struct {
	Data []struct {
		Attributes struct {
			Language          string `json:"language"`
			Release           string `json:"release"`
			MachineTranslated bool   `json:"machine_translated"`
			HearingImpaired   bool   `json:"hearing_impaired"`
			FromTrusted       bool   `json:"from_trusted"`
			DownloadCount     int    `json:"download_count"`
			FeatureDetails    struct {
				SeasonNumber  int `json:"season_number"`
				EpisodeNumber int `json:"episode_number"`
			} `json:"feature_details"`
			Files []struct {
				FileID   int    `json:"file_id"`
				FileName string `json:"file_name"`
			} `json:"files"`
		} `json:"attributes"`
	} `json:"data"`
}

// SearchResult pairs a scoreable candidate with its download reference.
type SearchResult struct {
	Candidate subtitles.Candidate
	FileID    int
}

// Search queries by identity: IMDb id when known, otherwise title, with
// season and episode for series content.
func (c *OpenSubtitles) Search(ctx context.Context, identity subtitles.MediaIdentity, lang string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("languages", lang)
	if identity.ImdbID != "" {
		q.Set("imdb_id", identity.ImdbID)
	} else {
		q.Set("query", identity.Title)
	}
	if identity.IsEpisode() {
		q.Set("season_number", strconv.Itoa(identity.Season))
		q.Set("episode_number", strconv.Itoa(identity.Episode))
	}
	if identity.Year > 0 {
		q.Set("year", strconv.Itoa(identity.Year))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/subtitles?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opensubtitles search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opensubtitles search returned %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse opensubtitles response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		attr := item.Attributes
		if len(attr.Files) == 0 {
			continue
		}
		results = append(results, SearchResult{
			FileID: attr.Files[0].FileID,
			Candidate: subtitles.Candidate{
				Name:              attr.Files[0].FileName,
				Release:           attr.Release,
				Language:          attr.Language,
				Season:            attr.FeatureDetails.SeasonNumber,
				Episode:           attr.FeatureDetails.EpisodeNumber,
				Trusted:           attr.FromTrusted,
				MachineTranslated: attr.MachineTranslated,
				HearingImpaired:   attr.HearingImpaired,
				DownloadCount:     attr.DownloadCount,
			},
		})
	}

	c.logger.Debug().
		Str("title", identity.Title).
		Str("lang", lang).
		Int("results", len(results)).
		Msg("opensubtitles search")
	return results, nil
}

type downloadLinkResponse struct {
	Link string `json:"link"`
}

// Download fetches the subtitle file content and writes it to outPath.
func (c *OpenSubtitles) Download(ctx context.Context, fileID int, outPath string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]int{"file_id": fileID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensubtitles download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensubtitles download returned %d", resp.StatusCode)
	}

	var link downloadLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return fmt.Errorf("failed to parse download link: %w", err)
	}

	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, link.Link, nil)
	if err != nil {
		return err
	}
	fileResp, err := c.client.Do(fileReq)
	if err != nil {
		return fmt.Errorf("subtitle download failed: %w", err)
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		return fmt.Errorf("subtitle download returned %d", fileResp.StatusCode)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, fileResp.Body); err != nil {
		return fmt.Errorf("failed to write subtitle file: %w", err)
	}
	return nil
}

func (c *OpenSubtitles) decorate(req *http.Request) {
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
}
