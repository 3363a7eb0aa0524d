// Package normalize turns raw feed entry bodies into plain post text.
//
// The rules target the wrapper templates the Telegram RSS mirrors emit, so
// extraction works on known string markers rather than a general HTML parser.
package normalize

import (
	"html"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/config"
)

const (
	forwardedMarker = "Forwarded From"
	boldClose       = "</b>"
	widgetMarker    = `<div class="tgme_widget_message_text`
	widgetBodyStart = `dir="auto">`
	widgetBodyEnd   = "</div>"
)

var (
	lineBreakTags = []string{"<br>", "<br/>", "<p>", "</p>"}

	tagRe       = regexp.MustCompile(`<[^<]+?>`)
	lineSplitRe = regexp.MustCompile(`\r\n|[\n\r\v\f\x1c\x1d\x1e\x{85}\x{2028}\x{2029}]`)
	inlineRunRe = regexp.MustCompile(`[ \t]{2,}`)
	blankRunRe  = regexp.MustCompile(`\n\s*\n`)
)

// Normalizer applies the configured cleanup rules. It is safe for concurrent use.
type Normalizer struct {
	phrases  []string
	patterns []*regexp.Regexp
}

// New creates a Normalizer removing the given literal phrases and patterns.
// Empty phrases are ignored.
func New(phrases []string, patterns []*regexp.Regexp) *Normalizer {
	n := &Normalizer{patterns: patterns}
	for _, p := range phrases {
		if p != "" {
			n.phrases = append(n.phrases, p)
		}
	}
	return n
}

// FromSettings creates a Normalizer from the text_cleanup settings section.
func FromSettings(tc config.TextCleanup) *Normalizer {
	return New(tc.RemovePhrases, tc.Patterns)
}

// Clean converts raw into plain text. It never fails: if a rule panics on
// malformed input the original text is returned unchanged.
func (n *Normalizer) Clean(raw string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Text cleanup failed, keeping original text")
			out = raw
		}
	}()

	text := raw
	for _, tag := range lineBreakTags {
		text = strings.ReplaceAll(text, tag, "\n")
	}

	text = stripForwardPreamble(text)
	text = extractWidgetBody(text)

	text = tagRe.ReplaceAllString(text, "")

	for _, phrase := range n.phrases {
		text = strings.ReplaceAll(text, phrase, "")
	}
	for _, re := range n.patterns {
		text = re.ReplaceAllString(text, "")
	}

	text = html.UnescapeString(text)

	var lines []string
	for _, line := range lineSplitRe.Split(text, -1) {
		line = strings.TrimSpace(line)
		if line == "" || n.containsPhrase(line) {
			continue
		}
		lines = append(lines, inlineRunRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func (n *Normalizer) containsPhrase(line string) bool {
	for _, phrase := range n.phrases {
		if strings.Contains(line, phrase) {
			return true
		}
	}
	return false
}

// stripForwardPreamble keeps only what follows the last bold-close marker of
// a forwarded message.
func stripForwardPreamble(text string) string {
	if !strings.Contains(text, forwardedMarker) {
		return text
	}
	if i := strings.LastIndex(text, boldClose); i >= 0 {
		text = text[i+len(boldClose):]
	}
	return strings.TrimSpace(text)
}

// extractWidgetBody keeps the message body of a tgme_widget_message_text
// container: the text after the last dir="auto"> up to the next </div>.
func extractWidgetBody(text string) string {
	if !strings.Contains(text, widgetMarker) {
		return text
	}
	if i := strings.LastIndex(text, widgetBodyStart); i >= 0 {
		text = text[i+len(widgetBodyStart):]
	}
	if i := strings.Index(text, widgetBodyEnd); i >= 0 {
		text = text[:i]
	}
	return text
}
