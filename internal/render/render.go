// Package render expands {{RANDOM}} and named tag placeholders in
// outgoing subject, body and sender strings. Rendering happens once
// per recipient, immediately before the send.
package render

import (
	"math/rand/v2"
	"regexp"
)

// placeholder pattern: {{NAME}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// RandomToken is the reserved placeholder that expands to a fresh
// random alphanumeric string on every occurrence. Operators use it to
// defeat sender-address de-duplication.
const RandomToken = "RANDOM"

const (
	randomLength   = 8
	randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// TagSource supplies one single-use value per draw. ok=false means the
// tag is unknown or exhausted and the placeholder stays verbatim.
type TagSource interface {
	TakeNext(tagName string) (string, bool, error)
}

type resolverFunc func(name string) (string, bool)

// Renderer substitutes placeholders using a fixed table of resolvers:
// reserved tokens first, then the tag source. Unknown placeholders are
// left untouched.
type Renderer struct {
	reserved map[string]resolverFunc
	tags     TagSource
}

func New(tags TagSource) *Renderer {
	r := &Renderer{tags: tags}
	r.reserved = map[string]resolverFunc{
		RandomToken: func(string) (string, bool) {
			return randomString(randomLength), true
		},
	}
	return r
}

// Render expands all placeholders left to right. Repeated occurrences
// of the same tag each consume a separate value.
func (r *Renderer) Render(text string) string {
	if text == "" {
		return text
	}

	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-2]

		if resolve, ok := r.reserved[name]; ok {
			if value, ok := resolve(name); ok {
				return value
			}
			return match
		}

		if r.tags != nil {
			value, ok, err := r.tags.TakeNext(name)
			if err == nil && ok {
				return value
			}
		}

		// Keep original if the placeholder cannot be resolved
		return match
	})
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randomAlphabet[rand.IntN(len(randomAlphabet))]
	}
	return string(b)
}
