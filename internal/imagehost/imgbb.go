package imagehost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ImgBB uploads images through the ImgBB API
type ImgBB struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type imgbbResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// NewImgBB creates an ImgBB client whose requests are bounded by timeout
func NewImgBB(endpoint, apiKey string, timeout time.Duration) *ImgBB {
	return &ImgBB{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Upload posts the base64 encoded image and returns the hosted URL
func (i *ImgBB) Upload(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if i.apiKey == "" {
		return "", fmt.Errorf("imgbb: api key is not configured")
	}

	endpoint, err := url.Parse(i.endpoint)
	if err != nil {
		return "", fmt.Errorf("imgbb: invalid endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("key", i.apiKey)
	endpoint.RawQuery = query.Encode()

	form := url.Values{
		"image": {base64.StdEncoding.EncodeToString(data)},
		"name":  {name},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("imgbb: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("imgbb: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("imgbb: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("imgbb: unexpected status %s", resp.Status)
	}

	var parsed imgbbResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("imgbb: failed to decode response: %w", err)
	}
	if parsed.Data.URL == "" {
		return "", fmt.Errorf("imgbb: response carries no image url")
	}

	return parsed.Data.URL, nil
}
