// Package normalize implements the text preprocessing applied before SentencePiece segmentation:
// whitespace collapsing, quote normalization, accent stripping and lowercasing.
//
// NormalizeWithAlignment also tracks where each normalized byte comes from, so that spans found in the
// normalized text can be mapped back to the original text.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Options selects the normalization steps.
type Options struct {
	// Lowercase the text.
	Lowercase bool

	// RemoveSpace trims the text and collapses whitespace runs into a single space.
	RemoveSpace bool

	// KeepAccents disables the accent stripping (NFKD decomposition followed by removal of combining marks).
	KeepAccents bool
}

// Normalizer applies Options to texts. It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer for opts.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Options returns the options of the normalizer.
func (n *Normalizer) Options() Options {
	return n.opts
}

// Normalize returns the normalized text.
func (n *Normalizer) Normalize(text string) string {
	normalized, _ := n.NormalizeWithAlignment(text)
	return normalized
}

// unit is a piece of normalized text produced from the original bytes [start, end).
type unit struct {
	text       string
	start, end int
}

// NormalizeWithAlignment returns the normalized text and its Alignment to text.
func (n *Normalizer) NormalizeWithAlignment(text string) (string, *Alignment) {
	units := make([]unit, 0, len(text))
	for pos := 0; pos < len(text); {
		_, size := utf8.DecodeRuneInString(text[pos:])
		units = append(units, unit{text: text[pos : pos+size], start: pos, end: pos + size})
		pos += size
	}
	if n.opts.RemoveSpace {
		units = collapseSpaces(units)
	}
	units = replaceQuotes(units)
	if !n.opts.KeepAccents {
		units = stripAccents(units)
	}
	if n.opts.Lowercase {
		units = lowercase(units)
	}

	var sb strings.Builder
	a := &Alignment{originalLen: len(text)}
	for _, u := range units {
		sb.WriteString(u.text)
		for range len(u.text) {
			a.starts = append(a.starts, u.start)
			a.ends = append(a.ends, u.end)
		}
	}
	return sb.String(), a
}

func isSpace(u unit) bool {
	r, _ := utf8.DecodeRuneInString(u.text)
	return unicode.IsSpace(r)
}

// collapseSpaces drops leading and trailing whitespace, and replaces each inner whitespace run by a
// single space aligned to the first whitespace of the run.
func collapseSpaces(units []unit) []unit {
	out := units[:0:0]
	pendingSpace := -1
	for i, u := range units {
		if isSpace(u) {
			if pendingSpace < 0 {
				pendingSpace = i
			}
			continue
		}
		if pendingSpace >= 0 && len(out) > 0 {
			space := units[pendingSpace]
			out = append(out, unit{text: " ", start: space.start, end: space.end})
		}
		pendingSpace = -1
		out = append(out, u)
	}
	return out
}

// replaceQuotes replaces the doubled backquotes and single quotes by a double quote.
func replaceQuotes(units []unit) []unit {
	out := units[:0:0]
	for i := 0; i < len(units); i++ {
		u := units[i]
		if (u.text == "`" || u.text == "'") && i+1 < len(units) && units[i+1].text == u.text {
			out = append(out, unit{text: `"`, start: u.start, end: units[i+1].end})
			i++
			continue
		}
		out = append(out, u)
	}
	return out
}

// stripAccents applies StripAccents to each unit, dropping the ones left empty (the combining marks).
func stripAccents(units []unit) []unit {
	out := units[:0:0]
	for _, u := range units {
		u.text = StripAccents(u.text)
		if u.text != "" {
			out = append(out, u)
		}
	}
	return out
}

// lowercase lowercases each word (run of non-space units) as a whole, since casing can depend on the
// context (e.g. the Greek final sigma). A word whose lowercasing doesn't split back into its units is
// merged into a single unit.
func lowercase(units []unit) []unit {
	// cases.Caser is stateful, hence one per call.
	caser := cases.Lower(language.Und)
	out := units[:0:0]
	for i := 0; i < len(units); {
		if isSpace(units[i]) {
			out = append(out, units[i])
			i++
			continue
		}
		j := i
		var word strings.Builder
		for j < len(units) && !isSpace(units[j]) {
			word.WriteString(units[j].text)
			j++
		}
		lowered := caser.String(word.String())
		perUnit := make([]unit, 0, j-i)
		var joined strings.Builder
		for _, u := range units[i:j] {
			u.text = caser.String(u.text)
			joined.WriteString(u.text)
			perUnit = append(perUnit, u)
		}
		if joined.String() == lowered {
			out = append(out, perUnit...)
		} else {
			out = append(out, unit{text: lowered, start: units[i].start, end: units[j-1].end})
		}
		i = j
	}
	return out
}

// StripAccents decomposes text with NFKD and drops the combining marks (unicode.Mn).
func StripAccents(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, text)
	if err != nil {
		// The transformers don't fail on valid or invalid UTF-8; keep the input if they ever do.
		return text
	}
	return result
}

// Alignment maps byte positions of a normalized text back to the original text.
type Alignment struct {
	// starts[i] and ends[i] are the original bytes the normalized byte i comes from.
	starts, ends []int
	originalLen  int
}

// Len returns the length in bytes of the normalized text.
func (a *Alignment) Len() int { return len(a.starts) }

// Span maps the normalized byte range [start, end) to the original range covering it.
// Empty ranges map to an empty range at the corresponding original position.
func (a *Alignment) Span(start, end int) (int, int) {
	if start >= len(a.starts) {
		return a.originalLen, a.originalLen
	}
	start = max(start, 0)
	if end <= start {
		return a.starts[start], a.starts[start]
	}
	end = min(end, len(a.ends))
	return a.starts[start], a.ends[end-1]
}
