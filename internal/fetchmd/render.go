// SPDX-License-Identifier: MIT

package fetchmd

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/stasaberg/gitgud-edge/internal/apierr"
)

var sanitizerPolicy = bluemonday.UGCPolicy()

// ConvertHTML extracts the main content region, sanitizes it and emits
// markdown bounded by maxMDBytes.
func ConvertHTML(rawHTML string, maxMDBytes int) (string, error) {
	extracted := sanitizerPolicy.Sanitize(extractMainHTML(rawHTML))

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(extracted)
	if err != nil {
		return "", apierr.BadGateway("Failed to convert HTML")
	}
	if len(markdown) > maxMDBytes {
		return "", apierr.PayloadTooLarge("Converted markdown too large")
	}
	return markdown, nil
}

// extractMainHTML picks the candidate region with the most text: <main>,
// <article> or [role=main], falling back to <body> and finally the whole
// document.
func extractMainHTML(rawHTML string) string {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}

	var best *html.Node
	bestLen := 0
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && isMainCandidate(node) {
			if textLen := textLength(node); textLen > bestLen {
				bestLen = textLen
				best = node
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	if best != nil {
		return renderNode(best)
	}
	if body := findElement(root, "body"); body != nil {
		return renderNode(body)
	}
	return rawHTML
}

func isMainCandidate(node *html.Node) bool {
	if node.Data == "main" || node.Data == "article" {
		return true
	}
	for _, attr := range node.Attr {
		if attr.Key == "role" && strings.EqualFold(attr.Val, "main") {
			return true
		}
	}
	return false
}

func textLength(node *html.Node) int {
	total := 0
	if node.Type == html.TextNode {
		total += len(strings.TrimSpace(node.Data))
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		total += textLength(child)
	}
	return total
}

func findElement(node *html.Node, name string) *html.Node {
	if node.Type == html.ElementNode && node.Data == name {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}

func renderNode(node *html.Node) string {
	var builder strings.Builder
	builder.WriteString("<div>")
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		_ = html.Render(&builder, child)
	}
	builder.WriteString("</div>")
	return builder.String()
}
