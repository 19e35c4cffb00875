package domain

import "time"

// Direction distinguishes messages we send from messages we receive.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus enumerates the lifecycle of a single WhatsApp message.
//
// Outbound messages move forward along queued → sent → delivered → read,
// or to failed from any non-terminal state. Inbound messages are created
// as received and never change.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageReceived  MessageStatus = "received"
)

var messageRank = map[MessageStatus]int{
	MessageQueued:    1,
	MessageSent:      2,
	MessageDelivered: 3,
	MessageRead:      4,
}

// IsTerminal returns true once the status can no longer change.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageRead || s == MessageFailed || s == MessageReceived
}

// CanAdvance reports whether s may move to next without regressing.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == MessageFailed {
		return true
	}
	from, ok1 := messageRank[s]
	to, ok2 := messageRank[next]
	return ok1 && ok2 && to > from
}

// StatusesBefore returns every outbound status that may advance to next.
// Repositories use it as the compare-and-set guard.
func StatusesBefore(next MessageStatus) []MessageStatus {
	var out []MessageStatus
	for _, s := range []MessageStatus{MessageQueued, MessageSent, MessageDelivered} {
		if s.CanAdvance(next) {
			out = append(out, s)
		}
	}
	return out
}

// AdvanceDelta returns the campaign counter increments implied by moving a
// message from one status to another. Skipped intermediate states are
// counted so that sent >= delivered >= read always holds. A message already
// counted as sent is not counted again as failed.
func AdvanceDelta(from, to MessageStatus) CounterDelta {
	var d CounterDelta
	if to == MessageFailed {
		if from == MessageQueued {
			d.Failed = 1
		}
		return d
	}
	f, t := messageRank[from], messageRank[to]
	if f < messageRank[MessageSent] && t >= messageRank[MessageSent] {
		d.Sent = 1
	}
	if f < messageRank[MessageDelivered] && t >= messageRank[MessageDelivered] {
		d.Delivered = 1
	}
	if f < messageRank[MessageRead] && t >= messageRank[MessageRead] {
		d.Read = 1
	}
	return d
}

// MessageType is the content type reported by or sent to the gateway.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeLocation MessageType = "location"
	MessageTypeContact  MessageType = "contact"
	MessageTypeSticker  MessageType = "sticker"
)

// MessageTypeFor maps an outbound attachment kind to its message type.
func MessageTypeFor(kind MediaKind) MessageType {
	switch kind {
	case MediaImage:
		return MessageTypeImage
	case MediaVideo:
		return MessageTypeVideo
	case MediaAudio:
		return MessageTypeAudio
	case MediaDocument:
		return MessageTypeDocument
	}
	return MessageTypeText
}

// PhoneSelf is the placeholder phone for the tenant's own WhatsApp number.
const PhoneSelf = "self"

// Message is one inbound or outbound WhatsApp message.
type Message struct {
	ID         string      `json:"id" db:"id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	CampaignID *string     `json:"campaign_id" db:"campaign_id"`
	ContactID  *string     `json:"contact_id" db:"contact_id"`
	Direction  Direction   `json:"direction" db:"direction"`
	Type       MessageType `json:"message_type" db:"message_type"`

	Content   string    `json:"content" db:"content"`
	MediaURL  string    `json:"media_url" db:"media_url"`
	MediaKind MediaKind `json:"media_kind" db:"media_kind"`
	MediaID   string    `json:"media_id" db:"media_id"`

	PhoneFrom string `json:"phone_from" db:"phone_from"`
	PhoneTo   string `json:"phone_to" db:"phone_to"`

	Status            MessageStatus `json:"status" db:"status"`
	StatusDescription string        `json:"status_description" db:"status_description"`
	GatewayMessageID  string        `json:"gateway_message_id" db:"gateway_message_id"`
	GatewayChatID     string        `json:"gateway_chat_id" db:"gateway_chat_id"`

	SendAttempts int        `json:"send_attempts" db:"send_attempts"`
	LockedUntil  *time.Time `json:"-" db:"locked_until"`

	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at" db:"delivered_at"`
	ReadAt      *time.Time `json:"read_at" db:"read_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Recipient returns the phone the gateway should deliver to.
func (m *Message) Recipient() string {
	if m.Direction == DirectionOutbound {
		return m.PhoneTo
	}
	return m.PhoneFrom
}

// HasMedia reports whether the message carries an attachment.
func (m *Message) HasMedia() bool {
	return m.MediaURL != ""
}

// Transition is the outcome of a compare-and-set status update.
type Transition struct {
	Applied bool
	From    MessageStatus
	To      MessageStatus
}
