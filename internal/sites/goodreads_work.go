package sites

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/ratelimit"
)

var goodreadsWorkURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?goodreads\.com/work/editions/(\d+)`),
}

// GoodreadsWork resolves the work grouping behind Goodreads editions.
// The editions page is plain server-rendered HTML, so only the heading
// is scraped.
type GoodreadsWork struct {
	deps    Deps
	limiter *ratelimit.Limiter
	baseURL string
}

// NewGoodreadsWork returns the Goodreads work plugin.
func NewGoodreadsWork(deps Deps) *GoodreadsWork {
	return &GoodreadsWork{
		deps:    deps,
		limiter: ratelimit.For("goodreads", 1),
		baseURL: "https://www.goodreads.com",
	}
}

func (s *GoodreadsWork) Descriptor() Descriptor {
	return Descriptor{
		Name:              "goodreads",
		IDType:            ids.GoodreadsWork,
		URLPatterns:       goodreadsWorkURLPatterns,
		DefaultKind:       model.KindWork,
		Category:          model.CategoryBook,
		RequestsPerSecond: 1,
	}
}

func (s *GoodreadsWork) IDToURL(id string) string {
	return fmt.Sprintf("https://www.goodreads.com/work/editions/%s", id)
}

func (s *GoodreadsWork) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf("%s/work/editions/%s", s.baseURL, id)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{URL: pageURL})
	if err != nil {
		return nil, err
	}
	doc, err := resp.HTML()
	if err != nil {
		return nil, err
	}

	title := headingLinkText(doc)
	if title == "" {
		return nil, &ParseError{Site: "goodreads", URL: pageURL, Msg: "no work title found"}
	}

	content := model.NewCanonicalContent(model.KindWork)
	content.Metadata["title"] = title
	content.Metadata["localized_title"] = model.UniqLocalized([]model.LocalizedText{
		{Lang: config.DefaultLanguage(), Text: title},
	})
	return content, nil
}

// headingLinkText returns the text of the first <h1><a> in the document,
// which on editions pages is the work title.
func headingLinkText(root *html.Node) string {
	var walk func(*html.Node, bool) string
	walk = func(n *html.Node, inH1 bool) string {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1":
				inH1 = true
			case "a":
				if inH1 {
					var sb strings.Builder
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.TextNode {
							sb.WriteString(c.Data)
						}
					}
					if text := strings.TrimSpace(sb.String()); text != "" {
						return text
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if text := walk(c, inH1); text != "" {
				return text
			}
		}
		return ""
	}
	return walk(root, false)
}
