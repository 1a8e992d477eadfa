package task

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Fingerprint derives a stable digest of the editorial context. Sub-tasks
// sharing a language and fingerprint can be reviewed in the same batch under
// identical instructions.
func (e EditorialContext) Fingerprint() string {
	normalize := func(v string) string {
		return strings.ToLower(strings.Join(strings.Fields(v), " "))
	}
	h := fnv.New64a()
	for i, field := range []string{e.Tone, e.Audience, e.Style, e.StyleGuide} {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(normalize(field)))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
