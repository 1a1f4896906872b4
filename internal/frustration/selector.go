package frustration

import (
	"strings"
)

// UnknownTarget stands in for clicks whose target could not be resolved.
const UnknownTarget = "unknown"

// maxClasses is how many class tokens take part in a selector.
const maxClasses = 2

// Target describes the element a click landed on.
type Target struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

// Selector builds a short structural fingerprint such as
// "button#checkout.btn.primary". It is only compared for equality.
func Selector(t Target) string {
	tag := strings.ToLower(strings.TrimSpace(t.Tag))
	if tag == "" {
		return UnknownTarget
	}

	var b strings.Builder
	b.WriteString(tag)
	if id := strings.TrimSpace(t.ID); id != "" {
		b.WriteByte('#')
		b.WriteString(id)
	}

	n := 0
	for _, c := range t.Classes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		b.WriteByte('.')
		b.WriteString(c)
		n++
		if n == maxClasses {
			break
		}
	}
	return b.String()
}
