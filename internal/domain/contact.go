package domain

import "time"

// Contact is a tenant-scoped WhatsApp recipient keyed by normalized phone.
type Contact struct {
	ID           string            `json:"id" db:"id"`
	TenantID     string            `json:"tenant_id" db:"tenant_id"`
	PhoneNumber  string            `json:"phone_number" db:"phone_number"`
	Name         string            `json:"name" db:"name"`
	Email        string            `json:"email" db:"email"`
	Company      string            `json:"company" db:"company"`
	Position     string            `json:"position" db:"position"`
	Tags         []string          `json:"tags" db:"tags"`
	Metadata     map[string]string `json:"metadata" db:"metadata"`
	IsBlocked    bool              `json:"is_blocked" db:"is_blocked"`
	IsSubscribed bool              `json:"is_subscribed" db:"is_subscribed"`
	Source       string            `json:"source" db:"source"`
	WaID         string            `json:"wa_id" db:"wa_id"`

	MessagesReceived int        `json:"messages_received" db:"messages_received"`
	MessagesSent     int        `json:"messages_sent" db:"messages_sent"`
	LastMessageAt    *time.Time `json:"last_message_at" db:"last_message_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Contact sources.
const (
	ContactSourceManual = "manual"
	ContactSourceImport = "import"
	ContactSourceChat   = "chat"
)

// ChatStatus enumerates the states of a conversation summary.
type ChatStatus string

const (
	ChatOpen     ChatStatus = "open"
	ChatClosed   ChatStatus = "closed"
	ChatArchived ChatStatus = "archived"
)

// ChatPreviewMax bounds the stored last-message preview, in runes.
const ChatPreviewMax = 200

// Chat summarizes a conversation with one phone number.
type Chat struct {
	ID                 string     `json:"id" db:"id"`
	TenantID           string     `json:"tenant_id" db:"tenant_id"`
	PhoneNumber        string     `json:"phone_number" db:"phone_number"`
	ContactName        string     `json:"contact_name" db:"contact_name"`
	Status             ChatStatus `json:"status" db:"status"`
	UnreadCount        int        `json:"unread_count" db:"unread_count"`
	LastMessagePreview string     `json:"last_message_preview" db:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at" db:"last_message_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Preview truncates text to the stored preview length.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= ChatPreviewMax {
		return text
	}
	return string(r[:ChatPreviewMax])
}
