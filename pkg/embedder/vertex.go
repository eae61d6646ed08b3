package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/pagelens/pagelens/pkg/core"
	"github.com/pagelens/pagelens/pkg/log"
)

// Embedder produces fixed-dimension embeddings for text and images in
// a shared vector space.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, png []byte) ([]float32, error)
	Dimension() int
}

// Vertex calls the multimodal embedding model over the aiplatform
// :predict REST endpoint.
type Vertex struct {
	projectID   string
	location    string
	model       string
	dimension   int
	tokenSource oauth2.TokenSource
	baseURL     string
	httpClient  *http.Client
	backoffBase time.Duration
}

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	maxAttempts        = 5
)

func NewVertex(ctx context.Context, projectID, location, credentialsFile, model string, dimension int) (*Vertex, error) {
	if projectID == "" {
		return nil, fmt.Errorf("gcp project id is required")
	}
	if location == "" {
		location = "us-central1"
	}

	var ts oauth2.TokenSource
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials: %w", err)
		}
		ts = creds.TokenSource
	} else {
		var err error
		ts, err = google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to build default token source: %w", err)
		}
	}

	return &Vertex{
		projectID:   projectID,
		location:    location,
		model:       model,
		dimension:   dimension,
		tokenSource: ts,
		baseURL:     fmt.Sprintf("https://%s-aiplatform.googleapis.com", location),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		backoffBase: time.Second,
	}, nil
}

// WithBaseURL overrides the endpoint, used by tests.
func (v *Vertex) WithBaseURL(url string) *Vertex {
	v.baseURL = url
	return v
}

// WithTokenSource overrides auth, used by tests.
func (v *Vertex) WithTokenSource(ts oauth2.TokenSource) *Vertex {
	v.tokenSource = ts
	return v
}

func (v *Vertex) Dimension() int { return v.dimension }

type predictRequest struct {
	Instances  []predictInstance  `json:"instances"`
	Parameters *predictParameters `json:"parameters,omitempty"`
}

type predictInstance struct {
	Text  string        `json:"text,omitempty"`
	Image *predictImage `json:"image,omitempty"`
}

type predictImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type predictParameters struct {
	Dimension int `json:"dimension,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		TextEmbedding  []float32 `json:"textEmbedding"`
		ImageEmbedding []float32 `json:"imageEmbedding"`
	} `json:"predictions"`
}

func (v *Vertex) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := v.predict(ctx, predictInstance{Text: text})
	if err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 || len(resp.Predictions[0].TextEmbedding) == 0 {
		return nil, fmt.Errorf("%w: no text embedding in response", core.ErrEmbeddingFailed)
	}
	return resp.Predictions[0].TextEmbedding, nil
}

func (v *Vertex) EmbedImage(ctx context.Context, png []byte) ([]float32, error) {
	resp, err := v.predict(ctx, predictInstance{
		Image: &predictImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(png)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 || len(resp.Predictions[0].ImageEmbedding) == 0 {
		return nil, fmt.Errorf("%w: no image embedding in response", core.ErrEmbeddingFailed)
	}
	return resp.Predictions[0].ImageEmbedding, nil
}

// predict posts one instance, retrying quota errors with exponential
// backoff (2^attempt seconds, up to 5 attempts).
func (v *Vertex) predict(ctx context.Context, instance predictInstance) (*predictResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * v.backoffBase
			log.Warn("embedding quota exhausted, backing off", "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := v.predictOnce(ctx, instance)
		if err == nil {
			return resp, nil
		}
		if !core.IsQuotaError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxAttempts, lastErr)
}

func (v *Vertex) predictOnce(ctx context.Context, instance predictInstance) (*predictResponse, error) {
	reqBody := predictRequest{
		Instances:  []predictInstance{instance},
		Parameters: &predictParameters{Dimension: v.dimension},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		v.baseURL, v.projectID, v.location, v.model)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := v.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch access token: %w", err)
	}
	token.SetAuthHeader(httpReq)

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: vertex api: %s", core.ErrQuotaExceeded, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vertex api error %d: %s", resp.StatusCode, string(body))
	}

	var predictResp predictResponse
	if err := json.Unmarshal(body, &predictResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &predictResp, nil
}
