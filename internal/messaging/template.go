package messaging

import (
	"regexp"
	"strings"

	"github.com/ignite/wa-dispatch/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// ExtractVariables returns the placeholder names in tpl, unique, in order of
// first appearance.
func ExtractVariables(tpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tpl, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Render substitutes every placeholder in tpl. Campaign variables win over
// contact fields, which win over contact metadata.
func Render(tpl string, vars map[string]string, contact *domain.Contact) string {
	if !strings.Contains(tpl, "{") {
		return tpl
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := Resolve(name, vars, contact); ok {
			return v
		}
		return match
	})
}

// Resolve looks up a single placeholder value.
func Resolve(name string, vars map[string]string, contact *domain.Contact) (string, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	if contact == nil {
		return "", false
	}
	if v, ok := contactField(name, contact); ok {
		return v, true
	}
	if v, ok := contact.Metadata[name]; ok {
		return v, true
	}
	return "", false
}

// contactField is the whitelist of contact attributes usable in templates.
func contactField(name string, c *domain.Contact) (string, bool) {
	switch name {
	case "name":
		return c.Name, true
	case "first_name":
		if f := strings.Fields(c.Name); len(f) > 0 {
			return f[0], true
		}
		return "", true
	case "phone", "phone_number":
		return c.PhoneNumber, true
	case "email":
		return c.Email, true
	case "company":
		return c.Company, true
	case "position":
		return c.Position, true
	case "wa_id":
		return c.WaID, true
	}
	return "", false
}
