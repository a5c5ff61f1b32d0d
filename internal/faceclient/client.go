package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoMatch is returned when the gallery search finds nobody in the image.
var ErrNoMatch = errors.New("no enrolled face matched")

// FaceQuality is the service's assessment of the best face in a frame.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// SearchMatch is one gallery hit. UserID is the roll number the face was
// enrolled under.
type SearchMatch struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// SearchResult is the /search response, best match first.
type SearchResult struct {
	Matches       []SearchMatch `json:"matches"`
	FacesDetected int           `json:"faces_detected"`
	Quality       *FaceQuality  `json:"quality"`
}

type LivenessResult struct {
	IsLive     bool    `json:"is_live"`
	Confidence float64 `json:"confidence"`
}

// Detection is what the kiosk learns from one captured frame.
type Detection struct {
	Identifier string
	Similarity float64
	Live       bool
}

// Client calls the face recognition microservice. With Skip set it never
// touches the network and "detects" MockIdentifier after MockDelay.
type Client struct {
	BaseURL        string
	HTTP           *http.Client
	Skip           bool
	MockIdentifier string
	MockDelay      time.Duration
}

// New returns a client for the service at baseURL.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health reports whether the service answers GET /health.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

// Identify resolves the best gallery match for an image and runs the
// liveness check on it.
func (c *Client) Identify(ctx context.Context, imageURL string) (Detection, error) {
	if c.Skip {
		if err := c.mockWait(ctx); err != nil {
			return Detection{}, err
		}
		if c.MockIdentifier == "" {
			return Detection{}, ErrNoMatch
		}
		return Detection{Identifier: c.MockIdentifier, Similarity: 0.92, Live: true}, nil
	}
	if imageURL == "" {
		return Detection{}, fmt.Errorf("image url required")
	}

	found, err := c.Search(ctx, imageURL, 1, 0)
	if err != nil {
		return Detection{}, err
	}
	if len(found.Matches) == 0 {
		return Detection{}, ErrNoMatch
	}
	live, err := c.Liveness(ctx, imageURL)
	if err != nil {
		return Detection{}, err
	}
	best := found.Matches[0]
	return Detection{Identifier: best.UserID, Similarity: best.Similarity, Live: live.IsLive}, nil
}

func (c *Client) mockWait(ctx context.Context) error {
	if c.MockDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.MockDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search runs a 1:N gallery search. A zero threshold leaves the service
// default in place.
func (c *Client) Search(ctx context.Context, imageURL string, topK int, threshold float64) (*SearchResult, error) {
	if c.Skip {
		return &SearchResult{
			Matches:       []SearchMatch{{UserID: c.MockIdentifier, Similarity: 0.92}},
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, IsFrontal: true},
		}, nil
	}

	req := struct {
		ImageURL  string  `json:"image_url"`
		TopK      int     `json:"top_k"`
		Threshold float64 `json:"threshold,omitempty"`
	}{ImageURL: imageURL, TopK: topK, Threshold: threshold}

	var out SearchResult
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return &out, nil
}

// Liveness runs the anti-spoofing check on imageURL.
func (c *Client) Liveness(ctx context.Context, imageURL string) (*LivenessResult, error) {
	if c.Skip {
		return &LivenessResult{IsLive: true, Confidence: 0.85}, nil
	}
	var out LivenessResult
	if err := c.post(ctx, "/liveness", map[string]string{"image_url": imageURL}, &out); err != nil {
		return nil, fmt.Errorf("liveness: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("face service %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
