// Package greenapi is the Green API WhatsApp gateway client.
package greenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/messaging"
	"github.com/ignite/wa-dispatch/internal/pkg/httpretry"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/pkg/retry"
)

// DefaultBaseURL is the public Green API host.
const DefaultBaseURL = "https://api.green-api.com"

// Client talks to one gateway instance.
type Client struct {
	baseURL    string
	instanceID string
	token      string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a client for the given instance. A nil doer gets a
// RetryClient with the given timeout; sends are never retried by it.
func NewClient(baseURL, instanceID, token string, doer httpretry.HTTPDoer, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		doer = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instanceID: instanceID,
		token:      token,
		httpClient: doer,
	}
}

// InstanceID returns the gateway instance the client is bound to.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// doRequest makes an HTTP request against /waInstance{id}/{method}.
func (c *Client) doRequest(ctx context.Context, method, apiMethod string, body, out interface{}) error {
	fullURL := fmt.Sprintf("%s/waInstance%s/%s", c.baseURL, url.PathEscape(c.instanceID), apiMethod)

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshaling request body: %w", err))
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("executing request: %w", err)
		}
		return retry.Transient(fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("greenapi: request failed", "method", apiMethod, "status", resp.StatusCode, "instance", c.instanceID)
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// SendText sends a text message and returns the gateway message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	var resp SendResponse
	req := SendMessageRequest{ChatID: messaging.ChatID(to), Message: body}
	if err := c.doRequest(ctx, http.MethodPost, "sendMessage", req, &resp); err != nil {
		return "", err
	}
	return resp.idOrError()
}

// SendMedia sends a file by URL with an optional caption.
func (c *Client) SendMedia(ctx context.Context, to, mediaURL string, kind domain.MediaKind, caption string) (string, error) {
	var resp SendResponse
	req := SendFileByURLRequest{
		ChatID:   messaging.ChatID(to),
		URLFile:  mediaURL,
		FileName: FileName(mediaURL, kind),
		Caption:  caption,
	}
	if err := c.doRequest(ctx, http.MethodPost, "sendFileByUrl", req, &resp); err != nil {
		return "", err
	}
	return resp.idOrError()
}

// GetStateInstance returns the instance authorization state.
func (c *Client) GetStateInstance(ctx context.Context) (StateInstance, error) {
	var st StateInstance
	err := c.doRequest(ctx, http.MethodGet, "getStateInstance", nil, &st)
	return st, err
}

// GetSettings returns the instance settings.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.doRequest(ctx, http.MethodGet, "getSettings", nil, &s)
	return s, err
}

// SetWebhook points the instance webhooks at webhookURL and enables the
// notifications the reconciler consumes.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	var resp SetSettingsResponse
	s := Settings{
		WebhookURL:             webhookURL,
		IncomingWebhook:        "yes",
		OutgoingWebhook:        "yes",
		OutgoingMessageWebhook: "yes",
		StateWebhook:           "yes",
	}
	if err := c.doRequest(ctx, http.MethodPost, "setSettings", s, &resp); err != nil {
		return err
	}
	if !resp.SaveSettings {
		return fmt.Errorf("greenapi: settings not saved")
	}
	return nil
}

func (r SendResponse) idOrError() (string, error) {
	if r.IDMessage == "" {
		return "", retry.Permanent(fmt.Errorf("greenapi: response missing idMessage"))
	}
	return r.IDMessage, nil
}

// FileName derives the fileName the gateway requires from the media URL,
// falling back to a name by kind.
func FileName(mediaURL string, kind domain.MediaKind) string {
	if u, err := url.Parse(mediaURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	switch kind {
	case domain.MediaImage:
		return "image.jpg"
	case domain.MediaVideo:
		return "video.mp4"
	case domain.MediaAudio:
		return "audio.mp3"
	default:
		return "file"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
