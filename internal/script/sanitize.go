package script

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// punctReplacer maps Unicode punctuation variants the synthesis provider
// mishandles onto plain ASCII equivalents.
var punctReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...", // ellipsis
	" ", " ", // no-break space
	"&", " and ",
)

// stripUnprintable removes control and format runes after NFKC folding.
var stripUnprintable = transform.Chain(
	norm.NFKC,
	runes.Remove(runes.In(unicode.C)),
)

// Sanitize normalizes text before it is sent to the synthesis provider:
// NFKC folding, non-printable removal, punctuation and quote
// replacement, ampersand expansion, and whitespace collapsing.
func Sanitize(text string) string {
	// Whitespace runes first, so control whitespace survives as spaces
	// rather than being removed outright by the unprintable strip.
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, text)

	cleaned, _, err := transform.String(stripUnprintable, text)
	if err != nil {
		// Fall back to a manual strip; transform errors only on
		// malformed UTF-8.
		cleaned = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, text)
	}
	cleaned = punctReplacer.Replace(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// SplitForSynthesis breaks sanitized text into parts no longer than limit,
// preferring sentence boundaries and falling back to word boundaries. The
// parts concatenate in order to the original text up to whitespace.
func SplitForSynthesis(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var buf strings.Builder
	for _, sentence := range splitSentences(text) {
		if len(sentence) > limit {
			if buf.Len() > 0 {
				parts = append(parts, strings.TrimSpace(buf.String()))
				buf.Reset()
			}
			parts = append(parts, splitWords(sentence, limit)...)
			continue
		}
		if buf.Len()+len(sentence)+1 > limit && buf.Len() > 0 {
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
	}
	if buf.Len() > 0 {
		parts = append(parts, strings.TrimSpace(buf.String()))
	}
	return parts
}

// splitSentences cuts text after sentence-terminal punctuation followed
// by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\t' {
			continue
		}
		sentence := strings.TrimSpace(text[start : i+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// splitWords hard-wraps a single overlong sentence at word boundaries,
// falling back to byte cuts for unbroken runs.
func splitWords(sentence string, limit int) []string {
	var parts []string
	var buf strings.Builder
	for _, word := range strings.Fields(sentence) {
		for len(word) > limit {
			if buf.Len() > 0 {
				parts = append(parts, buf.String())
				buf.Reset()
			}
			parts = append(parts, word[:limit])
			word = word[limit:]
		}
		if buf.Len()+len(word)+1 > limit && buf.Len() > 0 {
			parts = append(parts, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(word)
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}
