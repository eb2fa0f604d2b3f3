package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var typographic = strings.NewReplacer(
	"\u00a0", " ",
	"\u2013", "-",
	"\u2014", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
)

var (
	bulletMarker   = regexp.MustCompile(`^(\s*)[•●○◦▪■□‣⁃∙·*+-]\s+(.*)$`)
	numberedMarker = regexp.MustCompile(`^(\s*)(?:\((\d{1,3})\)|(\d{1,3})[.)])\s+(.*)$`)
	letteredMarker = regexp.MustCompile(`^(\s*)(?:\(([A-Za-z])\)|([A-Za-z])[.)])\s+(.*)$`)
)

// CleanText canonicalizes OCR output: NFD decomposition, control character
// stripping, typographic substitution, blank line removal and bullet
// normalization, in that order.
func CleanText(text string) string {
	if text == "" {
		return text
	}

	text = norm.NFD.String(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, text)
	text = typographic.Replace(text)

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, normalizeMarker(line))
	}

	return strings.Join(kept, "\n")
}

// normalizeMarker rewrites a leading list marker to "•", "N." or "a.".
// Indentation is kept byte for byte.
func normalizeMarker(line string) string {
	if m := numberedMarker.FindStringSubmatch(line); m != nil {
		n := m[2]
		if n == "" {
			n = m[3]
		}
		return m[1] + n + ". " + m[4]
	}
	if m := letteredMarker.FindStringSubmatch(line); m != nil {
		l := m[2]
		if l == "" {
			l = m[3]
		}
		return m[1] + l + ". " + m[4]
	}
	if m := bulletMarker.FindStringSubmatch(line); m != nil {
		return m[1] + "• " + m[2]
	}
	return line
}
