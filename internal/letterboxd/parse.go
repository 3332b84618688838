package letterboxd

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"shelfcheck/pkg/domain"
)

type page struct {
	title    string
	lastPage int
	items    []domain.Item
}

func parsePage(doc *html.Node) page {
	var p page
	if h1 := findFirst(doc, func(n *html.Node) bool { return isElement(n, "h1") && hasClass(n, "title-1") }); h1 != nil {
		p.title = strings.TrimSpace(textContent(h1))
	}
	pagers := findAll(doc, func(n *html.Node) bool { return n.Type == html.ElementNode && hasClass(n, "paginate-page") })
	if len(pagers) > 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(textContent(pagers[len(pagers)-1]))); err == nil {
			p.lastPage = n
		}
	}

	for _, li := range findAll(doc, func(n *html.Node) bool { return isElement(n, "li") && hasClass(n, "film-detail") }) {
		if item, ok := parseItem(li); ok {
			p.items = append(p.items, item)
		}
	}
	return p
}

func parseItem(li *html.Node) (domain.Item, bool) {
	poster := findFirst(li, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !hasClass(n, "poster") {
			return false
		}
		_, hasID := attr(n, "data-film-id")
		_, hasSlug := attr(n, "data-film-slug")
		return hasID && hasSlug
	})
	if poster == nil {
		return domain.Item{}, false
	}
	heading := findFirst(li, func(n *html.Node) bool {
		return isElement(n, "h2") && childElement(n, "a") != nil
	})
	if heading == nil {
		return domain.Item{}, false
	}

	id, _ := attr(poster, "data-film-id")
	slug, _ := attr(poster, "data-film-slug")
	item := domain.Item{
		ID:    id,
		Slug:  slug,
		Title: strings.TrimSpace(textContent(childElement(heading, "a"))),
	}
	if small := childElement(heading, "small"); small != nil {
		if year, err := strconv.ParseUint(strings.TrimSpace(textContent(small)), 10, 16); err == nil {
			y := int(year)
			item.Year = &y
		}
	}
	return item, true
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// childElement returns the first direct child element with the tag.
func childElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, tag) {
			return c
		}
	}
	return nil
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
