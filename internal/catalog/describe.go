package catalog

import (
	"html"
	"regexp"
	"strings"
)

var (
	reSpaces        = regexp.MustCompile(`[ \t\f\v]+`)
	reLetterDigit   = regexp.MustCompile(`(\p{L})(\d)`)
	reDigitLetter   = regexp.MustCompile(`(\d)(\p{L})`)
	reLowerUpper    = regexp.MustCompile(`(\p{Ll})(\p{Lu})`)
	reGluedCurrency = regexp.MustCompile(`(\S)R\$`)
	reSquareMeters  = regexp.MustCompile(`m²(\S)`)
	reBold          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reBoldLabel     = regexp.MustCompile(`^\*\*([^:*]+):\*\*`)
	reBullet        = regexp.MustCompile(`^[-*✅]\s*`)
	reHeading       = regexp.MustCompile(`^[🏡🔑🌟📍💎✨🏆🚪🎯📞📐📌🤩💡🛏🛁🚗🌳]`)
)

// NormalizeDescription cleans up provider text: entities decoded, spacing
// collapsed per line, words glued to numbers or currency split apart.
// Line breaks are kept.
func NormalizeDescription(text string) string {
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = reSpaces.ReplaceAllString(line, " ")
		line = reLetterDigit.ReplaceAllString(line, "$1 $2")
		line = reDigitLetter.ReplaceAllString(line, "$1 $2")
		line = reLowerUpper.ReplaceAllString(line, "$1 $2")
		line = reGluedCurrency.ReplaceAllString(line, "$1 R$$")
		line = reSquareMeters.ReplaceAllString(line, "m² $1")
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// FallbackHTML renders normalized text as simple HTML: emoji-led lines
// become headings, dash or check lines become list items, the rest
// paragraphs. **bold** markup is kept as <strong>.
func FallbackHTML(text string) string {
	text = strings.NewReplacer("<p>", "", "</p>", "").Replace(strings.TrimSpace(text))
	if text == "" {
		return ""
	}

	var b strings.Builder
	inList := false
	closeList := func() {
		if inList {
			b.WriteString("</ul>")
			inList = false
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			closeList()
			b.WriteString("<br>")
		case reHeading.MatchString(line):
			closeList()
			b.WriteString("<h3>" + html.EscapeString(line) + "</h3>")
		case reBullet.MatchString(line) || strings.HasPrefix(line, "**"):
			if !inList {
				b.WriteString("<ul>")
				inList = true
			}
			item := line
			if !strings.HasPrefix(item, "**") {
				item = reBullet.ReplaceAllString(item, "")
			}
			b.WriteString("<li>" + emphasize(item) + "</li>")
		default:
			closeList()
			b.WriteString("<p>" + emphasize(line) + "</p>")
		}
	}
	closeList()
	return b.String()
}

// emphasize escapes s and turns **label:** and **text** into <strong>.
func emphasize(s string) string {
	s = html.EscapeString(s)
	s = reBoldLabel.ReplaceAllString(s, "<strong>$1:</strong>")
	return reBold.ReplaceAllString(s, "<strong>$1</strong>")
}
