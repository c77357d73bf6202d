package score

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/attnx/tournament-engine/internal/model"
)

// HTTPProvider reads scores from the trends service:
//
//	GET {baseURL}/api/v1/scores/{targetID} -> {"target": "...", "score": "123.45", "as_of": "..."}
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for baseURL. A nil client gets a 10s timeout.
func NewHTTPProvider(baseURL string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{baseURL: baseURL, httpClient: httpClient}
}

func (p *HTTPProvider) CurrentScore(ctx context.Context, targetID string) (Score, error) {
	u, err := url.JoinPath(p.baseURL, "api", "v1", "scores", targetID)
	if err != nil {
		return Score{}, fmt.Errorf("build score url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Score{}, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Score{}, fmt.Errorf("%w: %v", model.ErrScoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Score{}, fmt.Errorf("%w: score service returned status %d: %s",
			model.ErrScoreUnavailable, resp.StatusCode, string(body))
	}

	var s Score
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Score{}, fmt.Errorf("%w: decode score: %v", model.ErrScoreUnavailable, err)
	}
	if s.TargetID == "" {
		s.TargetID = targetID
	}
	return s, nil
}
