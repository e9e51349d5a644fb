package crawler

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// PageSummary is what reports show about a fetched page instead of the raw
// HTML.
type PageSummary struct {
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	InternalLinks []string          `json:"internal_links,omitempty"`
	ExternalLinks []string          `json:"external_links,omitempty"`
	Forms         []Form            `json:"forms,omitempty"`
	Scripts       int               `json:"scripts"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Form is one <form> element.
type Form struct {
	Action string   `json:"action,omitempty"`
	Method string   `json:"method"`
	Fields []string `json:"fields,omitempty"`
	// Password is set when the form has a password input.
	Password bool `json:"password,omitempty"`
}

// HasLoginForm reports whether any form asks for a password. Pages that do
// are usually served to a profile that is not signed in.
func (s *PageSummary) HasLoginForm() bool {
	for _, f := range s.Forms {
		if f.Password {
			return true
		}
	}
	return false
}

// Summarize parses content fetched from pageURL. Links are resolved against
// pageURL and split by host.
func Summarize(pageURL, content string) (*PageSummary, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	s := &PageSummary{Meta: make(map[string]string)}
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if s.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					s.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				link := resolveLink(base, attr(n, "href"))
				if link != "" && !seen[link] {
					seen[link] = true
					if sameHost(base, link) {
						s.InternalLinks = append(s.InternalLinks, link)
					} else {
						s.ExternalLinks = append(s.ExternalLinks, link)
					}
				}
			case "form":
				s.Forms = append(s.Forms, parseForm(base, n))
			case "script":
				s.Scripts++
			case "meta":
				name := attr(n, "name")
				if name == "" {
					name = attr(n, "property")
				}
				if content := attr(n, "content"); name != "" && content != "" {
					s.Meta[strings.ToLower(name)] = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	s.Description = s.Meta["description"]
	if s.Description == "" {
		s.Description = s.Meta["og:description"]
	}
	return s, nil
}

func parseForm(base *url.URL, n *html.Node) Form {
	f := Form{
		Action: resolveLink(base, attr(n, "action")),
		Method: strings.ToUpper(attr(n, "method")),
	}
	if f.Method == "" {
		f.Method = "GET"
	}

	var fields func(*html.Node)
	fields = func(c *html.Node) {
		if c.Type == html.ElementNode {
			switch c.Data {
			case "input", "select", "textarea":
				if strings.EqualFold(attr(c, "type"), "password") {
					f.Password = true
				}
				if name := attr(c, "name"); name != "" {
					f.Fields = append(f.Fields, name)
				}
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			fields(cc)
		}
	}
	fields(n)
	return f
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return ""
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(strings.ToLower(href), scheme) {
			return ""
		}
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String()
}

func sameHost(base *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), base.Hostname())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
