package clean

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML returns the visible text of an HTML fragment. Text of adjacent
// nodes is concatenated as-is and the result is trimmed. Script and style
// contents are dropped. The second return value is false when the fragment
// could not be parsed and the text was recovered by tokenizing instead.
//
// Stack Exchange bodies sometimes contain escaped markup (&lt;b&gt;) that turns
// into real tags after one pass, so stripping repeats until the output stops
// changing. A pass is only taken when it shortens the text, which bounds the
// loop and keeps the result stable: StripHTML(StripHTML(x)) == StripHTML(x).
func StripHTML(s string) (string, bool) {
	ok := true
	out := s
	for {
		next, parsed := stripOnce(out)
		if len(next) >= len(out) {
			return out, ok
		}
		if !parsed {
			ok = false
		}
		out = next
	}
}

func stripOnce(s string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return tokenText(s), false
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String()), true
}

// tokenText is the fallback path: it keeps every text token the tokenizer can
// produce and stops at the first tokenizer error.
func tokenText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawText(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}
