package messaging

import "strings"

const (
	personalSuffix = "@c.us"
	groupSuffix    = "@g.us"
)

// NormalizePhone strips everything but digits and prefixes a "+", the form
// contacts are stored under. It returns "" when no digits remain.
func NormalizePhone(raw string) string {
	raw = StripChatSuffix(raw)
	var b strings.Builder
	b.Grow(len(raw) + 1)
	b.WriteByte('+')
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}

// StripChatSuffix removes the gateway's @c.us / @g.us chat suffix.
func StripChatSuffix(chatID string) string {
	chatID = strings.TrimSuffix(chatID, personalSuffix)
	return strings.TrimSuffix(chatID, groupSuffix)
}

// IsGroupChat reports whether a gateway chat id names a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

// ChatID converts a stored phone number to the gateway's personal chat id.
func ChatID(phone string) string {
	if strings.HasSuffix(phone, personalSuffix) || strings.HasSuffix(phone, groupSuffix) {
		return phone
	}
	return strings.TrimPrefix(NormalizePhone(phone), "+") + personalSuffix
}
