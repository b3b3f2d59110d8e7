// Package sites defines the contract external source plugins implement
// and the registry that routes URLs and identifiers to them. Each plugin
// knows one source: how its URLs map to identifiers and how its payloads
// normalize into canonical content.
package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
)

// Descriptor is a plugin's immutable self-description. URLPatterns must
// capture the identifier value in their first capture group.
type Descriptor struct {
	Name              string
	IDType            ids.Type
	URLPatterns       []*regexp.Regexp
	DefaultKind       model.EntityKind
	Category          model.Category
	RequestsPerSecond int
}

// Site is one external source adapter.
type Site interface {
	Descriptor() Descriptor
	// IDToURL returns the canonical permalink for an identifier value.
	IDToURL(id string) string
	// Scrape fetches and normalizes the resource behind the identifier.
	Scrape(ctx context.Context, id string) (*model.CanonicalContent, error)
}

// Searcher is implemented by sites that can serve free-text search.
type Searcher interface {
	Site
	Search(ctx context.Context, query string, page, pageSize int) ([]model.SearchResultItem, error)
}

// ParseError reports a payload that downloaded fine but lacked the
// structure the plugin expected.
type ParseError struct {
	Site string
	URL  string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %s, url: %s", e.Site, e.Msg, e.URL)
}

// URLToID extracts the identifier from a URL using the descriptor's
// patterns, first match wins.
func URLToID(desc Descriptor, url string) (string, bool) {
	for _, re := range desc.URLPatterns {
		if m := re.FindStringSubmatch(url); len(m) > 1 {
			return m[1], true
		}
	}
	return "", false
}

// MatchesURL reports whether the descriptor recognizes the URL.
func MatchesURL(desc Descriptor, url string) bool {
	_, ok := URLToID(desc, url)
	return ok
}

// scriptContentByID returns the text of <script id="..."> in the parsed
// document. Sources embed structured JSON payloads this way.
func scriptContentByID(root *html.Node, id string) (string, bool) {
	var found string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, attr := range n.Attr {
				if attr.Key == "id" && attr.Val == id {
					var sb strings.Builder
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.TextNode {
							sb.WriteString(c.Data)
						}
					}
					found = sb.String()
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if walk(root) {
		return found, true
	}
	return "", false
}

// scriptJSON decodes the JSON payload of <script id="..."> into target.
func scriptJSON(root *html.Node, id string, target any) error {
	raw, ok := scriptContentByID(root, id)
	if !ok {
		return fmt.Errorf("script %q not found", id)
	}
	return json.Unmarshal([]byte(raw), target)
}
