// Package lead captures contact details the assistant collects during a
// conversation and delivers them to one or more sinks.
//
// The chat model is instructed to append a JSON block with the visitor's
// details once it has most of them. [Extract] finds and parses that block
// and returns the reply with the block removed. [Dispatcher] then hands the
// lead to every configured [Sink] in the background; delivery failures are
// logged and never reach the visitor.
package lead

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Lead is one visitor's contact record. The JSON field names are the ones
// the assistant is told to emit and the ones the webhook expects.
type Lead struct {
	Nombre    string `json:"nombre"`
	Email     string `json:"email"`
	Telefono  string `json:"telefono"`
	Direccion string `json:"direccion"`
	Idea      string `json:"idea"`

	// ID, CapturedAt and Source are filled in by the Dispatcher and only
	// persisted by the database sinks.
	ID         string    `json:"-"`
	CapturedAt time.Time `json:"-"`
	Source     string    `json:"-"`
}

// Sources recorded on a Lead.
const (
	SourceChat  = "chat"
	SourceVoice = "voice"
)

var (
	// leadBlock is greedy so a block with nested braces is taken whole.
	leadBlock = regexp.MustCompile(`\{[\s\S]*"nombre"[\s\S]*\}`)
	anyBlock  = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Extract looks for a lead JSON block in text. When one is found and parses,
// it returns the lead, the text with the block removed and trimmed, and
// true. Otherwise it returns the text unchanged and false.
//
// cleaned may be empty when the reply consisted of nothing but the block.
func Extract(text string) (Lead, string, bool) {
	raw := leadBlock.FindString(text)
	if raw == "" {
		return Lead{}, text, false
	}

	var l Lead
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return Lead{}, text, false
	}

	cleaned := strings.TrimSpace(replaceFirst(anyBlock, text, ""))
	return l, cleaned, true
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

// Empty reports whether no contact field is set.
func (l Lead) Empty() bool {
	return l.Nombre == "" && l.Email == "" && l.Telefono == "" && l.Direccion == "" && l.Idea == ""
}
