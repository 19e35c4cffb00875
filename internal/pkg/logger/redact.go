package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone keeps the last four digits of a phone or chat id.
// "79001234567@c.us" → "***4567@c.us"
func RedactPhone(phone string) string {
	suffix := ""
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone, suffix = phone[:i], phone[i:]
	}
	if len(phone) <= 4 {
		return "***" + suffix
	}
	return "***" + phone[len(phone)-4:] + suffix
}
