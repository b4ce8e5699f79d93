// Package sentinel inspects delivery failures for provider rate-limit
// and blacklist signatures. Matching is deliberately conservative: a
// missed signature only costs a few more failed sends, while a false
// positive aborts a whole job.
package sentinel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// smtpCodePattern matches SMTP reply codes at word boundaries.
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// Signal describes a recognized abort condition.
type Signal struct {
	Code    int
	Keyword string
}

func (s *Signal) String() string {
	if s.Code != 0 {
		return fmt.Sprintf("rate limit signature: code %d, keyword %q", s.Code, s.Keyword)
	}
	return fmt.Sprintf("rate limit signature: keyword %q", s.Keyword)
}

// Sentinel holds the recognized failure signatures.
type Sentinel struct {
	keywords []string
	codes    map[int]bool
}

// New builds a sentinel from a keyword list and a set of temporary
// SMTP reply codes. Keywords are matched case-insensitively.
func New(keywords []string, codes []int) *Sentinel {
	s := &Sentinel{
		codes: make(map[int]bool, len(codes)),
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			s.keywords = append(s.keywords, kw)
		}
	}
	for _, code := range codes {
		s.codes[code] = true
	}
	return s
}

// Inspect checks one delivery error text. A non-nil signal means the
// running job must abort. A keyword alone is enough; a reply code
// alone is not, because plain 4xx deferrals are ordinary failures.
func (s *Sentinel) Inspect(errText string) *Signal {
	if errText == "" {
		return nil
	}

	lower := strings.ToLower(errText)

	var keyword string
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			keyword = kw
			break
		}
	}
	if keyword == "" {
		return nil
	}

	signal := &Signal{Keyword: keyword}
	if match := smtpCodePattern.FindString(errText); match != "" {
		if code, err := strconv.Atoi(match); err == nil && s.codes[code] {
			signal.Code = code
		}
	}
	return signal
}
