package dispatch

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// skippedElements never contribute visible text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
	"iframe":   true,
	"svg":      true,
}

// chromeElements wrap navigation and page furniture rather than content.
var chromeElements = map[string]bool{
	"nav":    true,
	"header": true,
	"footer": true,
	"aside":  true,
}

// candidateElements can host main content.
var candidateElements = map[string]bool{
	"article": true,
	"main":    true,
	"section": true,
	"div":     true,
}

// extractVisibleText parses markup and harvests the text of every visible
// node in document order, one line per text node. With dedupe set, repeated
// lines keep only their first occurrence, which strips text duplicated
// between page chrome and content.
func extractVisibleText(markup string, dedupe bool) (string, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	var lines []string
	walkVisible(root, func(text string) {
		lines = append(lines, text)
	})

	if dedupe {
		seen := make(map[string]bool, len(lines))
		kept := lines[:0]
		for _, line := range lines {
			if seen[line] {
				continue
			}
			seen[line] = true
			kept = append(kept, line)
		}
		lines = kept
	}
	return strings.Join(lines, "\n"), nil
}

// walkVisible calls emit for each non-empty visible text node under n.
func walkVisible(n *html.Node, emit func(string)) {
	if n.Type == html.ElementNode {
		if skippedElements[n.Data] || isHidden(n) {
			return
		}
	}
	if n.Type == html.TextNode {
		if text := collapseWhitespace(n.Data); text != "" {
			emit(text)
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkVisible(child, emit)
	}
}

// extractMainContent scores the content-hosting elements in markup by text
// mass discounted by link density and returns the visible text of the best
// candidate. It returns "" when no candidate exists, in which case the
// caller falls back to raw visible text.
func extractMainContent(markup string) (string, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	type candidate struct {
		node  *html.Node
		score float64
	}
	var candidates []candidate
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] || chromeElements[n.Data] || isHidden(n) {
				return
			}
			if candidateElements[n.Data] {
				textLen, linkLen := textMass(n)
				if textLen > 0 {
					score := float64(textLen) * (1 - float64(linkLen)/float64(textLen))
					// Semantic content containers outrank generic wrappers.
					if n.Data == "article" || n.Data == "main" {
						score *= 2
					}
					candidates = append(candidates, candidate{node: n, score: score})
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(root)

	if len(candidates) == 0 {
		return "", nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var lines []string
	walkVisible(candidates[0].node, func(text string) {
		lines = append(lines, text)
	})
	return strings.Join(lines, "\n"), nil
}

// textMass returns the visible text length under n and the portion of it
// inside anchors.
func textMass(n *html.Node) (textLen, linkLen int) {
	var walk func(n *html.Node, inLink bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] || chromeElements[n.Data] || isHidden(n) {
				return
			}
			if n.Data == "a" {
				inLink = true
			}
		}
		if n.Type == html.TextNode {
			length := len(collapseWhitespace(n.Data))
			textLen += length
			if inLink {
				linkLen += length
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inLink)
		}
	}
	walk(n, false)
	return textLen, linkLen
}

// isHidden reports whether the element is hidden via the hidden attribute
// or inline display/visibility styles. Stylesheet-driven hiding is not
// visible at this layer.
func isHidden(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ToLower(strings.ReplaceAll(attr.Val, " ", ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// collapseWhitespace trims and squeezes runs of whitespace to single
// spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
