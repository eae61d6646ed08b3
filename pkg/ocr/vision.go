package ocr

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
)

// Result is the OCR outcome for one image. Metadata is a JSON blob of
// per-page detection detail, stored verbatim alongside the text.
type Result struct {
	Text     string
	Metadata string
}

// Client performs batch OCR. Implemented by Vision and by test fakes.
type Client interface {
	AnnotateBatch(ctx context.Context, images [][]byte) ([]Result, error)
}

// Vision calls the Cloud Vision images:annotate endpoint with
// DOCUMENT_TEXT_DETECTION. Up to 16 images go in one request.
type Vision struct {
	tokenSource oauth2.TokenSource
	baseURL     string
	httpClient  *http.Client
}

const (
	visionScope   = "https://www.googleapis.com/auth/cloud-vision"
	maxBatchSize  = 16
	defaultVision = "https://vision.googleapis.com"
)

func NewVision(ctx context.Context, credentialsFile string) (*Vision, error) {
	var ts oauth2.TokenSource
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, visionScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials: %w", err)
		}
		ts = creds.TokenSource
	} else {
		var err error
		ts, err = google.DefaultTokenSource(ctx, visionScope)
		if err != nil {
			return nil, fmt.Errorf("failed to build default token source: %w", err)
		}
	}

	return &Vision{
		tokenSource: ts,
		baseURL:     defaultVision,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// WithBaseURL overrides the endpoint, used by tests.
func (v *Vision) WithBaseURL(url string) *Vision {
	v.baseURL = url
	return v
}

// WithTokenSource overrides auth, used by tests.
func (v *Vision) WithTokenSource(ts oauth2.TokenSource) *Vision {
	v.tokenSource = ts
	return v
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text  string          `json:"text"`
			Pages json.RawMessage `json:"pages"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// AnnotateBatch runs OCR over up to 16 images and returns one result
// per image, in order. A per-image error yields an empty result for
// that slot rather than failing the batch.
func (v *Vision) AnnotateBatch(ctx context.Context, images [][]byte) ([]Result, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if len(images) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds vision limit of %d",
			core.ErrInvalidInput, len(images), maxBatchSize)
	}

	reqBody := annotateRequest{Requests: make([]imageRequest, 0, len(images))}
	for _, img := range images {
		reqBody.Requests = append(reqBody.Requests, imageRequest{
			Image:    imageContent{Content: base64.StdEncoding.EncodeToString(img)},
			Features: []feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := v.baseURL + "/v1/images:annotate"
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
		return nil, fmt.Errorf("%w: vision api: %s", core.ErrQuotaExceeded, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision api error %d: %s", resp.StatusCode, string(body))
	}

	var annotateResp annotateResponse
	if err := json.Unmarshal(body, &annotateResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(annotateResp.Responses) != len(images) {
		return nil, fmt.Errorf("vision returned %d responses for %d images",
			len(annotateResp.Responses), len(images))
	}

	results := make([]Result, len(images))
	for i, r := range annotateResp.Responses {
		if r.Error != nil || r.FullTextAnnotation == nil {
			continue
		}
		results[i].Text = r.FullTextAnnotation.Text
		if len(r.FullTextAnnotation.Pages) > 0 {
			meta, err := json.Marshal(map[string]json.RawMessage{"pages": r.FullTextAnnotation.Pages})
			if err == nil {
				results[i].Metadata = string(meta)
			}
		}
	}
	return results, nil
}
