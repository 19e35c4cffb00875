package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/messaging"
)

// Kind is the normalized webhook event kind.
type Kind string

const (
	KindMessageReceived       Kind = "message_received"
	KindMessageSent           Kind = "message_sent"
	KindMessageRead           Kind = "message_read"
	KindMessageFailed         Kind = "message_failed"
	KindInstanceStatusChanged Kind = "instance_status_changed"
	KindContactAdded          Kind = "contact_added"
	KindUnknown               Kind = "unknown"
)

// InstanceID accepts the gateway's instance id as a JSON number or string.
type InstanceID string

func (id *InstanceID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = InstanceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("instance id: %w", err)
	}
	*id = InstanceID(n.String())
	return nil
}

// InstanceData identifies the gateway instance that emitted the event.
type InstanceData struct {
	IDInstance   InstanceID `json:"idInstance"`
	Wid          string     `json:"wid"`
	TypeInstance string     `json:"typeInstance"`
	// Legacy instance status fields.
	State  string `json:"state"`
	ChatID string `json:"chatId"`
}

// SenderData describes the author of an incoming message.
type SenderData struct {
	ChatID     string `json:"chatId"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
}

// FileData is an attachment on an incoming message.
type FileData struct {
	DownloadURL string `json:"downloadUrl"`
	FileURL     string `json:"fileUrl"`
	FileUnique  string `json:"fileUniqueId"`
	Caption     string `json:"caption"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
}

// MessageData is the body of an incoming message, in either the current
// (typeMessage/*Data) or the legacy (type/textMessage/fileMessage) shape.
type MessageData struct {
	TypeMessage     string `json:"typeMessage"`
	TextMessageData *struct {
		TextMessage string `json:"textMessage"`
	} `json:"textMessageData"`
	ExtendedTextMessageData *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessageData"`
	FileMessageData *FileData `json:"fileMessageData"`

	Sender      string `json:"sender"`
	Type        string `json:"type"`
	TextMessage *struct {
		Text string `json:"text"`
	} `json:"textMessage"`
	FileMessage *FileData `json:"fileMessage"`
}

// ContactData is the payload of a contact-added event.
type ContactData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Payload is the raw gateway webhook body.
type Payload struct {
	TypeWebhook   string       `json:"typeWebhook"`
	Type          string       `json:"type"`
	InstanceData  InstanceData `json:"instanceData"`
	Timestamp     int64        `json:"timestamp"`
	IDMessage     string       `json:"idMessage"`
	ChatID        string       `json:"chatId"`
	Status        string       `json:"status"`
	Description   string       `json:"description"`
	StateInstance string       `json:"stateInstance"`
	SenderData    SenderData   `json:"senderData"`
	MessageData   MessageData  `json:"messageData"`
	Contact       ContactData  `json:"contact"`
}

// Event is a parsed webhook with its normalized kind.
type Event struct {
	Kind    Kind
	Payload Payload
}

// Parse decodes a webhook body. Unrecognized kinds parse successfully as
// KindUnknown.
func Parse(body []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	return Event{Kind: kindOf(p), Payload: p}, nil
}

func kindOf(p Payload) Kind {
	switch p.TypeWebhook {
	case "incomingMessageReceived":
		return KindMessageReceived
	case "outgoingMessageStatus":
		switch strings.ToLower(p.Status) {
		case "sent", "delivered":
			return KindMessageSent
		case "read":
			return KindMessageRead
		case "failed", "noaccount", "notingroup":
			return KindMessageFailed
		}
		return KindUnknown
	case "stateInstanceChanged":
		return KindInstanceStatusChanged
	}
	switch p.Type {
	case "messageReceived":
		return KindMessageReceived
	case "messageSent":
		return KindMessageSent
	case "messageRead":
		return KindMessageRead
	case "instanceStatusChanged":
		return KindInstanceStatusChanged
	case "contactAdded":
		return KindContactAdded
	}
	return KindUnknown
}

// Name returns the raw event type as sent by the gateway.
func (e Event) Name() string {
	if e.Payload.TypeWebhook != "" {
		return e.Payload.TypeWebhook
	}
	return e.Payload.Type
}

// InstanceID returns the routing key carried in the payload, if any.
func (e Event) InstanceID() string {
	return string(e.Payload.InstanceData.IDInstance)
}

// OccurredAt returns the event timestamp, or fallback when absent.
func (e Event) OccurredAt(fallback time.Time) time.Time {
	if e.Payload.Timestamp > 0 {
		return time.Unix(e.Payload.Timestamp, 0).UTC()
	}
	return fallback
}

// SenderChatID returns the gateway chat id of the sender of an incoming message.
func (e Event) SenderChatID() string {
	if s := e.Payload.SenderData.Sender; s != "" {
		return s
	}
	if s := e.Payload.SenderData.ChatID; s != "" {
		return s
	}
	return e.Payload.MessageData.Sender
}

// Text returns the text or caption of an incoming message.
func (e Event) Text() string {
	md := e.Payload.MessageData
	switch {
	case md.TextMessageData != nil:
		return md.TextMessageData.TextMessage
	case md.ExtendedTextMessageData != nil:
		return md.ExtendedTextMessageData.Text
	case md.TextMessage != nil:
		return md.TextMessage.Text
	}
	if f := e.file(); f != nil {
		return f.Caption
	}
	return ""
}

func (e Event) file() *FileData {
	if e.Payload.MessageData.FileMessageData != nil {
		return e.Payload.MessageData.FileMessageData
	}
	return e.Payload.MessageData.FileMessage
}

// Media returns the attachment url and id of an incoming message.
func (e Event) Media() (url, id string) {
	f := e.file()
	if f == nil {
		return "", ""
	}
	url = f.DownloadURL
	if url == "" {
		url = f.FileURL
	}
	return url, f.FileUnique
}

// MessageType maps the gateway message type to a domain type.
func (e Event) MessageType() domain.MessageType {
	t := e.Payload.MessageData.TypeMessage
	if t == "" {
		t = e.Payload.MessageData.Type
	}
	switch strings.TrimSuffix(t, "Message") {
	case "", "text", "extendedText":
		return domain.MessageTypeText
	case "image":
		return domain.MessageTypeImage
	case "video":
		return domain.MessageTypeVideo
	case "document":
		return domain.MessageTypeDocument
	case "audio":
		return domain.MessageTypeAudio
	case "location":
		return domain.MessageTypeLocation
	case "contact":
		return domain.MessageTypeContact
	case "sticker":
		return domain.MessageTypeSticker
	}
	return domain.MessageType(t)
}

// ContactPhone returns the normalized phone of a contact-added event.
func (e Event) ContactPhone() string {
	return messaging.NormalizePhone(e.Payload.Contact.ID)
}
