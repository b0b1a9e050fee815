// Package intent turns free-text editing commands into typed intents.
//
// Parsing is literal keyword and pattern matching. Matchers are evaluated in a
// fixed precedence order and the first one that matches wins; text that no
// matcher accepts yields an Unrecognized intent, never an error.
package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the editing operation an intent asks for.
type Kind string

const (
	KindTrim            Kind = "trim"
	KindSplit           Kind = "split"
	KindCaption         Kind = "caption"
	KindMixMusicOnMuted Kind = "mix_music_on_muted"
	KindMute            Kind = "mute"
	KindMixMusic        Kind = "mix_music"
	KindUnrecognized    Kind = "unrecognized"

	// KindNarrate is only produced by the narration form action, never by Parse.
	KindNarrate Kind = "narrate"
)

// Intent is a parsed command. Only the fields relevant to Kind are set.
type Intent struct {
	Kind Kind

	// Trim bounds in whole seconds. Start < End is not enforced here.
	Start int
	End   int

	// Split point in whole seconds.
	At int

	// Caption or narration text, verbatim.
	Text string

	// Raw is the command text the intent was parsed from.
	Raw string
}

func (i Intent) String() string {
	switch i.Kind {
	case KindTrim:
		return fmt.Sprintf("Trim{start=%d, end=%d}", i.Start, i.End)
	case KindSplit:
		return fmt.Sprintf("Split{at=%d}", i.At)
	case KindCaption:
		return fmt.Sprintf("Caption{text=%q}", i.Text)
	case KindNarrate:
		return fmt.Sprintf("Narrate{text=%q}", i.Text)
	case KindMixMusicOnMuted:
		return "MixMusicOnMuted{}"
	case KindMute:
		return "Mute{}"
	case KindMixMusic:
		return "MixMusic{}"
	default:
		return "Unrecognized{}"
	}
}

// Recognized reports whether a matcher accepted the command.
func (i Intent) Recognized() bool {
	return i.Kind != KindUnrecognized && i.Kind != ""
}

// Trim builds the intent used by the explicit trim form action.
func Trim(start, end int) Intent {
	return Intent{
		Kind:  KindTrim,
		Start: start,
		End:   end,
		Raw:   fmt.Sprintf("Trim from %d to %d seconds", start, end),
	}
}

// Narration builds the intent used by the narration form action.
func Narration(text string) Intent {
	return Intent{
		Kind: KindNarrate,
		Text: text,
		Raw:  "Narrate: " + text,
	}
}

// MixMusic builds the intent used after a background music upload.
func MixMusic() Intent {
	return Intent{Kind: KindMixMusic, Raw: "Add background music"}
}

// Matcher inspects a command and returns an intent when it applies.
// lower is the command lower-cased; text is the command as typed.
type Matcher struct {
	Name  string
	Match func(text, lower string) (Intent, bool)
}

var (
	trimPattern    = regexp.MustCompile(`(?i)trim\D*?(\d+)\D+?(\d+)`)
	splitPattern   = regexp.MustCompile(`(?i)split\D*?(\d+)`)
	captionPattern = regexp.MustCompile(`(?i)(?:caption|subtitle)[^:\n]*:(.*)`)
)

func matchTrim(text, _ string) (Intent, bool) {
	m := trimPattern.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	start, err1 := strconv.Atoi(m[1])
	end, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return Intent{}, false
	}
	return Intent{Kind: KindTrim, Start: start, End: end}, true
}

func matchSplit(text, _ string) (Intent, bool) {
	m := splitPattern.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	at, err := strconv.Atoi(m[1])
	if err != nil {
		return Intent{}, false
	}
	return Intent{Kind: KindSplit, At: at}, true
}

func matchCaption(text, _ string) (Intent, bool) {
	m := captionPattern.FindStringSubmatch(text)
	if m == nil {
		return Intent{}, false
	}
	// Blank text still selects Caption; the engine rejects it with a message.
	return Intent{Kind: KindCaption, Text: strings.TrimSpace(m[1])}, true
}

func containsMatcher(phrase string, kind Kind) func(string, string) (Intent, bool) {
	return func(_, lower string) (Intent, bool) {
		if !strings.Contains(lower, phrase) {
			return Intent{}, false
		}
		return Intent{Kind: kind}, true
	}
}

var defaultMatchers = []Matcher{
	{Name: "trim", Match: matchTrim},
	{Name: "split", Match: matchSplit},
	{Name: "caption", Match: matchCaption},
	{Name: "mix_music_on_muted", Match: containsMatcher("add music to muted", KindMixMusicOnMuted)},
	{Name: "mute", Match: containsMatcher("mute", KindMute)},
	{Name: "mix_music", Match: containsMatcher("music", KindMixMusic)},
}

// Matchers returns the default matchers in precedence order.
func Matchers() []Matcher {
	out := make([]Matcher, len(defaultMatchers))
	copy(out, defaultMatchers)
	return out
}

// Parser evaluates an ordered list of matchers.
type Parser struct {
	matchers []Matcher
}

// NewParser creates a parser over matchers, or the default set when none are given.
func NewParser(matchers ...Matcher) *Parser {
	if len(matchers) == 0 {
		matchers = Matchers()
	}
	return &Parser{matchers: matchers}
}

// Parse returns the first matching intent, or Unrecognized.
func (p *Parser) Parse(command string) Intent {
	lower := strings.ToLower(command)
	for _, m := range p.matchers {
		if in, ok := m.Match(command, lower); ok {
			in.Raw = command
			return in
		}
	}
	return Intent{Kind: KindUnrecognized, Raw: command}
}

var defaultParser = NewParser()

// Parse parses command with the default matchers.
func Parse(command string) Intent {
	return defaultParser.Parse(command)
}
