package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"intake/internal/logger"
)

// ClientConfig configures the Graph API client.
type ClientConfig struct {
	BaseURL      string
	APIVersion   string
	AccessToken  string
	RateLimit    float64 // Requests per second
	MaxBodyBytes int64
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client calls the WhatsApp Cloud API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	token      string
	maxBytes   int64
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// Media is a downloaded attachment.
type Media struct {
	ID       string
	MIMEType string
	SHA256   string
	Content  []byte
}

type mediaInfo struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

type graphErrorBody struct {
	Error struct {
		Message   string `json:"message"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             TextBody `json:"text"`
}

// NewClient creates a Graph API client.
func NewClient(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
		burst = int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		version:    strings.Trim(config.APIVersion, "/"),
		token:      config.AccessToken,
		maxBytes:   config.MaxBodyBytes,
		limiter:    rate.NewLimiter(limit, burst),
		log:        logger.WithComponent("whatsapp"),
	}
}

// DownloadMedia resolves the media ID to a download URL and fetches the bytes.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) (*Media, error) {
	const op = "DownloadMedia"

	if c.token == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingToken)
	}
	if mediaID == "" {
		return nil, fmt.Errorf("%s: media ID is required", op)
	}

	var info mediaInfo
	resp, err := c.do(ctx, op, http.MethodGet, c.endpoint(mediaID), nil)
	if err != nil {
		return nil, err
	}
	err = json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode media info: %w", op, err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("%s: media %s: %w", op, mediaID, ErrNoDownloadURL)
	}
	if c.maxBytes > 0 && info.FileSize > c.maxBytes {
		return nil, fmt.Errorf("%s: media %s is %d bytes: %w", op, mediaID, info.FileSize, ErrMediaTooLarge)
	}

	// The download URL requires the same bearer token
	resp, err = c.do(ctx, op, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := c.readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: media %s: %w", op, mediaID, err)
	}

	mimeType := info.MIMEType
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}

	c.log.Debug().
		Str("media_id", mediaID).
		Str("mime_type", mimeType).
		Int("bytes", len(content)).
		Msg("Downloaded media")

	return &Media{ID: mediaID, MIMEType: mimeType, SHA256: info.SHA256, Content: content}, nil
}

// SendText sends a text message from the business number to a user.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) error {
	const op = "SendText"

	if c.token == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingToken)
	}
	if phoneNumberID == "" || to == "" {
		return fmt.Errorf("%s: phone number ID and recipient are required", op)
	}

	payload, err := json.Marshal(textMessage{
		MessagingProduct: ProductWhatsApp,
		RecipientType:    "individual",
		To:               to,
		Type:             MessageTypeText,
		Text:             TextBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("%s: failed to encode message: %w", op, err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, c.endpoint(phoneNumberID, "messages"), payload)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	c.log.Debug().Str("to", to).Msg("Sent text message")
	return nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/" + c.version + "/" + strings.Join(parts, "/")
}

// do waits for the limiter, sends an authenticated request and converts
// non-2xx responses into *APIError. The caller closes the body on success.
func (c *Client) do(ctx context.Context, op, method, url string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}

		var graphErr graphErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &graphErr) == nil && graphErr.Error.Message != "" {
			apiErr.Message = graphErr.Error.Message
			apiErr.Code = graphErr.Error.Code
			apiErr.TraceID = graphErr.Error.FBTraceID
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}

	return resp, nil
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.maxBytes <= 0 {
		return io.ReadAll(r)
	}

	content, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > c.maxBytes {
		return nil, ErrMediaTooLarge
	}
	return content, nil
}
