package heuristics

import (
	"regexp"
	"strings"
)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

var htmlReplacements = []struct {
	from string
	to   string
}{
	{"<br>", "\n"},
	{"<br/>", "\n"},
	{"<br />", "\n"},
	{"<p>", "\n"},
	{"</p>", "\n"},
	{"<div>", "\n"},
	{"</div>", "\n"},
	{"&nbsp;", " "},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", "\""},
	{"&#39;", "'"},
}

// HTMLToText strips an HTML body down to plain text for classification
// and prompting. Good enough for email markup; anything fancier is the
// sender's problem.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	text := html

	// Drop style/script blocks entirely before stripping tags.
	text = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`).ReplaceAllString(text, "")

	for _, replacement := range htmlReplacements {
		text = strings.ReplaceAll(text, replacement.from, replacement.to)
	}

	text = htmlTagRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	// Collapse runs of blank lines left by table markup.
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
