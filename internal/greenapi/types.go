package greenapi

import (
	"errors"
	"fmt"

	"github.com/ignite/wa-dispatch/internal/pkg/retry"
)

// ErrPermanent marks gateway failures that will not succeed on retry
// (bad credentials, unknown chat, rejected payload).
var ErrPermanent = errors.New("greenapi: permanent failure")

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("greenapi: API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying (429 and 5xx).
func (e *APIError) Temporary() bool {
	return retry.IsRetryableStatus(e.StatusCode)
}

// Is lets errors.Is(err, ErrPermanent) match non-retryable statuses.
func (e *APIError) Is(target error) bool {
	return target == ErrPermanent && !e.Temporary()
}

// SendMessageRequest is the body of /sendMessage.
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// SendFileByURLRequest is the body of /sendFileByUrl.
type SendFileByURLRequest struct {
	ChatID   string `json:"chatId"`
	URLFile  string `json:"urlFile"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}

// SendResponse is returned by every send endpoint.
type SendResponse struct {
	IDMessage string `json:"idMessage"`
}

// StateInstance is the authorization state of a gateway instance.
type StateInstance struct {
	StateInstance string `json:"stateInstance"`
}

// Gateway instance states.
const (
	StateAuthorized    = "authorized"
	StateNotAuthorized = "notAuthorized"
	StateBlocked       = "blocked"
	StateStarting      = "starting"
)

// Authorized reports whether the instance can send.
func (s StateInstance) Authorized() bool {
	return s.StateInstance == StateAuthorized
}

// Settings is the subset of instance settings the dispatcher manages.
type Settings struct {
	WebhookURL                   string `json:"webhookUrl"`
	WebhookURLToken              string `json:"webhookUrlToken,omitempty"`
	IncomingWebhook              string `json:"incomingWebhook,omitempty"`
	OutgoingWebhook              string `json:"outgoingWebhook,omitempty"`
	OutgoingMessageWebhook       string `json:"outgoingMessageWebhook,omitempty"`
	StateWebhook                 string `json:"stateWebhook,omitempty"`
	DelaySendMessagesMillisecond int    `json:"delaySendMessagesMilliseconds,omitempty"`
}

// SetSettingsResponse is returned by /setSettings.
type SetSettingsResponse struct {
	SaveSettings bool `json:"saveSettings"`
}
