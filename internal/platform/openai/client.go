package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/chorus-backend/internal/pkg/httpx"
	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

// maxImageBytes caps a downloaded image so a bad URL cannot fill memory.
const maxImageBytes = 32 << 20

type ImageGeneration struct {
	Bytes         []byte
	MimeType      string
	RevisedPrompt string
}

// ImageClient generates one image per prompt.
type ImageClient interface {
	GenerateImage(ctx context.Context, model string, prompt string) (ImageGeneration, error)
}

type ImageConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Size         string
	Timeout      time.Duration
	MaxRetries   int
}

func LoadImageConfig() ImageConfig {
	return ImageConfig{
		BaseURL:      envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		APIKey:       envutil.String("OPENAI_API_KEY", ""),
		DefaultModel: envutil.String("IMAGE_MODEL", "gpt-image-1"),
		Size:         envutil.String("OPENAI_IMAGE_SIZE", "1024x1024"),
		Timeout:      envutil.Duration("OPENAI_TIMEOUT_SECONDS", 180*time.Second),
		MaxRetries:   envutil.Int("OPENAI_MAX_RETRIES", 2),
	}
}

type imageClient struct {
	log        *logger.Logger
	cfg        ImageConfig
	httpClient *http.Client
}

// NewImageClient returns (nil, nil) when OPENAI_API_KEY is unset, which
// leaves the image tool unregistered.
func NewImageClient(log *logger.Logger) (ImageClient, error) {
	cfg := LoadImageConfig()
	if cfg.APIKey == "" {
		return nil, nil
	}
	return NewImageClientWithConfig(log, cfg)
}

func NewImageClientWithConfig(log *logger.Logger, cfg ImageConfig) (ImageClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing api key")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-image-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &imageClient{
		log:        log.With("service", "OpenAIImageClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("openai images: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *statusError) HTTPStatusCode() int { return e.StatusCode }

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type generationResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (c *imageClient) GenerateImage(ctx context.Context, model string, prompt string) (ImageGeneration, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ImageGeneration{}, errors.New("image prompt required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = c.cfg.DefaultModel
	}
	req := generationRequest{Model: model, Prompt: prompt, N: 1, Size: c.cfg.Size}
	// gpt-image models always answer in base64 and reject response_format.
	if !strings.HasPrefix(strings.ToLower(model), "gpt-image-") {
		req.ResponseFormat = "b64_json"
	}

	var resp generationResponse
	if err := c.postWithRetry(ctx, "/v1/images/generations", req, &resp); err != nil {
		return ImageGeneration{}, err
	}
	if len(resp.Data) == 0 {
		return ImageGeneration{}, errors.New("openai images: empty response")
	}
	item := resp.Data[0]
	out := ImageGeneration{RevisedPrompt: strings.TrimSpace(item.RevisedPrompt)}

	switch {
	case strings.TrimSpace(item.B64JSON) != "":
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(item.B64JSON))
		if err != nil {
			return ImageGeneration{}, fmt.Errorf("decode image base64: %w", err)
		}
		out.Bytes = raw
	case strings.TrimSpace(item.URL) != "":
		raw, ct, err := c.download(ctx, strings.TrimSpace(item.URL))
		if err != nil {
			return ImageGeneration{}, fmt.Errorf("download generated image: %w", err)
		}
		out.Bytes = raw
		out.MimeType = strings.TrimSpace(strings.Split(ct, ";")[0])
	default:
		return ImageGeneration{}, errors.New("openai images: response has neither b64_json nor url")
	}
	if len(out.Bytes) == 0 {
		return ImageGeneration{}, errors.New("openai images: empty image")
	}
	if out.MimeType == "" || out.MimeType == "application/octet-stream" {
		out.MimeType = http.DetectContentType(out.Bytes)
	}
	return out, nil
}

func (c *imageClient) postWithRetry(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		resp, raw, err := c.post(ctx, path, payload)
		if err == nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("openai images decode: %w", err)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI images retrying", "attempt", attempt+1, "sleep", sleepFor.String(), "error", err)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (c *imageClient) post(ctx context.Context, path string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &statusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *imageClient) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &statusError{StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	return b, resp.Header.Get("Content-Type"), err
}
