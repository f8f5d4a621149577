package workspace

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sanitize normalizes text to a subset that round-trips across platforms with
// differing default encodings. It drops invalid UTF-8, control characters other
// than newline and tab, emoji, variation selectors, joiners and byte order
// marks, and converts CRLF to LF. Sanitize is idempotent.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if dropRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dropRune(r rune) bool {
	switch {
	case r == '\n', r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r == utf8.RuneError, r == 0xFEFF:
		return true
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r == 0x200D, r == 0x20E3:
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	case r >= 0xE0000 && r <= 0xE007F:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	}
	return false
}

// Slug turns a project name into a directory name: lower case, word runes and
// single hyphens only, at most 50 runes, "project" when nothing is left.
func Slug(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range Sanitize(name) {
		switch {
		case unicode.IsSpace(r), r == '-', r == '_':
			pendingDash = b.Len() > 0
		case unicode.IsLetter(r), unicode.IsDigit(r):
			if pendingDash {
				b.WriteByte('-')
				pendingDash = false
			}
			b.WriteRune(unicode.ToLower(r))
		}
	}
	slug := b.String()
	if utf8.RuneCountInString(slug) > 50 {
		slug = strings.TrimRight(string([]rune(slug)[:50]), "-")
	}
	if slug == "" {
		return "project"
	}
	return slug
}

var promptStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "that": true, "the": true, "to": true,
	"was": true, "will": true, "with": true, "would": true, "i": true, "want": true,
	"need": true, "create": true, "build": true, "make": true, "develop": true,
	"application": true, "app": true, "system": true, "software": true, "tool": true,
	"using": true, "can": true, "should": true, "could": true, "have": true, "this": true,
	"these": true, "those": true,
}

// NameFromPrompt derives a short project name from a seed prompt: up to three
// distinct keywords joined by hyphens, or the first three words when the
// prompt has no keywords. It returns "" for a blank prompt.
func NameFromPrompt(prompt string) string {
	words := strings.Fields(Sanitize(prompt))
	if len(words) == 0 {
		return ""
	}
	seen := make(map[string]bool)
	var keywords []string
	isLetter := func(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
	for _, w := range strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool { return !isLetter(r) }) {
		if len(w) < 3 || promptStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
		if len(keywords) == 3 {
			break
		}
	}
	if len(keywords) == 0 {
		if len(words) > 3 {
			words = words[:3]
		}
		keywords = words
	}
	name := Slug(strings.Join(keywords, "-"))
	if utf8.RuneCountInString(name) > 40 {
		name = strings.TrimRight(string([]rune(name)[:40]), "-")
	}
	return name
}

// TitleFromDir turns a workspace directory name into a display name.
func TitleFromDir(dir string) string {
	words := strings.FieldsFunc(dir, func(r rune) bool { return r == '-' || r == '_' || unicode.IsSpace(r) })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return "Project"
	}
	return strings.Join(words, " ")
}
