package scrape

import (
	"strings"

	"golang.org/x/net/html"
)

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrVal(n, "class")) {
		if c == class {
			return true
		}
	}

	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}

		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)

	return b.String()
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var results []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && match(node) {
			results = append(results, node)
		}

		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if n != nil {
		walk(n)
	}

	return results
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}

	if n.Type == html.ElementNode && match(n) {
		return n
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}

	return nil
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return attrVal(n, "id") == id }
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return hasClass(n, class) }
}

// linksUnder returns the trimmed text of every <a> below the element with
// the given id.
func linksUnder(root *html.Node, id string) []string {
	container := findFirst(root, byID(id))
	if container == nil {
		return nil
	}

	out := make([]string, 0)

	for _, a := range findAll(container, func(n *html.Node) bool { return n.Data == "a" }) {
		if t := strings.TrimSpace(textContent(a)); t != "" {
			out = append(out, t)
		}
	}

	return out
}
