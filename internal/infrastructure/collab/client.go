package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codepair/matching-service/internal/config"
	"github.com/codepair/matching-service/internal/domain"
)

// Client calls the session-creation service that allocates a collaborative
// workspace and a problem for a committed pairing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// SessionRequest is the outbound contract for creating a session.
type SessionRequest struct {
	Difficulty domain.Difficulty `json:"difficulty"`
	UserIDs    []string          `json:"userIds"`
	Topics     []string          `json:"topics"`
	Languages  []string          `json:"languages"`
	AuthToken  string            `json:"authToken,omitempty"`
}

func NewClient(cfg *config.CollabConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			// a stuck session-creation call must not block other pairing
			// attempts; past this it is treated as a normal failure
			Timeout: cfg.Timeout,
		},
	}
}

// CreateSession allocates a session for the two matched users.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*domain.SessionInfo, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: session service returned %d: %s", domain.ErrUpstream, resp.StatusCode, body)
	}

	var info domain.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode session response: %v", domain.ErrUpstream, err)
	}
	if info.SessionID == "" {
		return nil, fmt.Errorf("%w: session service returned no sessionId", domain.ErrUpstream)
	}
	return &info, nil
}

// DeleteSession tears down an orphaned session after a failed commit.
// Best-effort; callers log failures and move on.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/sessions/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("build session delete: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: session delete returned %d", domain.ErrUpstream, resp.StatusCode)
	}
	return nil
}
