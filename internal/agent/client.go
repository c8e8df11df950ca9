package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/meltforce/cast2md/internal/logger"
)

// claimedJob is the server's view of a job handed to this agent, as
// returned by claim.
type claimedJob struct {
	JobID        uuid.UUID
	EpisodeID    uuid.UUID
	EpisodeTitle string
	AudioURL     string
}

// client is the agent's plain net/http connection to the node protocol.
// Unlike the server, the agent is a separate binary with no router to
// build, so it stays a thin REST client rather than reaching for gin.
type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newClient(baseLog *logger.Logger, baseURL, apiKey string, timeout time.Duration) *client {
	return &client{
		log:        baseLog.With("component", "agent.client"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *client) setAPIKey(apiKey string) { c.apiKey = apiKey }

func (c *client) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("agent: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Transcriber-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: %s %s: %w", method, path, err)
	}

	if out != nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp, fmt.Errorf("agent: decode response: %w", err)
			}
		}
	}
	return resp, nil
}

func (c *client) register(ctx context.Context, name, model, backend string) (uuid.UUID, string, error) {
	var out struct {
		NodeID uuid.UUID `json:"node_id"`
		APIKey string    `json:"api_key"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/nodes/register", payload{"name": name, "model": model, "backend": backend}, &out)
	if err != nil {
		return uuid.Nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return uuid.Nil, "", fmt.Errorf("agent: register failed: http %d", resp.StatusCode)
	}
	return out.NodeID, out.APIKey, nil
}

func (c *client) heartbeat(ctx context.Context, nodeID uuid.UUID, model, backend string) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/nodes/%s/heartbeat", nodeID), payload{"model": model, "backend": backend}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: heartbeat failed: http %d", resp.StatusCode)
	}
	return nil
}

func (c *client) claim(ctx context.Context, nodeID uuid.UUID) (*claimedJob, bool, error) {
	var out struct {
		HasJob       bool      `json:"has_job"`
		JobID        uuid.UUID `json:"job_id"`
		EpisodeID    uuid.UUID `json:"episode_id"`
		EpisodeTitle string    `json:"episode_title"`
		AudioURL     string    `json:"audio_url"`
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/nodes/%s/claim", nodeID), nil, &out)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("agent: claim failed: http %d", resp.StatusCode)
	}
	if !out.HasJob {
		return nil, false, nil
	}
	return &claimedJob{JobID: out.JobID, EpisodeID: out.EpisodeID, EpisodeTitle: out.EpisodeTitle, AudioURL: out.AudioURL}, true, nil
}

func (c *client) fetchAudio(ctx context.Context, audioURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+audioURL, nil)
	if err != nil {
		return fmt.Errorf("agent: build audio request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Transcriber-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent: fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: fetch audio: http %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("agent: create audio staging file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("agent: write audio staging file: %w", err)
	}
	return f.Sync()
}

func (c *client) progress(ctx context.Context, jobID uuid.UUID, percent int) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/nodes/jobs/%s/progress", jobID), payload{"progress_percent": percent}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) complete(ctx context.Context, jobID uuid.UUID, transcriptText, model string) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/nodes/jobs/%s/complete", jobID), payload{"transcript_text": transcriptText, "model": model}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: complete failed: http %d", resp.StatusCode)
	}
	return nil
}

func (c *client) fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/nodes/jobs/%s/fail", jobID), payload{"error_message": errMsg}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *client) release(ctx context.Context, jobID uuid.UUID) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/nodes/jobs/%s/release", jobID), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// payload is a tiny map-to-JSON-object alias for request bodies, without
// importing gin into a binary that deliberately has no HTTP server.
type payload map[string]any
