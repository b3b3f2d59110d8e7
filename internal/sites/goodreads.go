package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/ratelimit"
)

var goodreadsURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?goodreads\.com/book/show/(\d+)`),
	regexp.MustCompile(`^https?://(?:www\.)?goodreads\.com/[a-z]{2}/book/show/(\d+)`),
}

// Goodreads resolves editions from book pages. The data lives in the
// page's __NEXT_DATA__ JSON; when a plain download returns a shell page
// without it, the plugin retries through the rendering downloader.
type Goodreads struct {
	deps    Deps
	limiter *ratelimit.Limiter
	baseURL string
}

// NewGoodreads returns the Goodreads edition plugin.
func NewGoodreads(deps Deps) *Goodreads {
	return &Goodreads{
		deps:    deps,
		limiter: ratelimit.For("goodreads", 1),
		baseURL: "https://www.goodreads.com",
	}
}

func (s *Goodreads) Descriptor() Descriptor {
	return Descriptor{
		Name:              "goodreads",
		IDType:            ids.Goodreads,
		URLPatterns:       goodreadsURLPatterns,
		DefaultKind:       model.KindEdition,
		Category:          model.CategoryBook,
		RequestsPerSecond: 1,
	}
}

func (s *Goodreads) IDToURL(id string) string {
	return fmt.Sprintf("https://www.goodreads.com/book/show/%s", id)
}

// grBook is a Book node in the page's Apollo state.
type grBook struct {
	Typename    string `json:"__typename"`
	LegacyID    int64  `json:"legacyId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	WebURL      string `json:"webUrl"`
	Details     struct {
		ASIN      string `json:"asin"`
		ISBN13    string `json:"isbn13"`
		Format    string `json:"format"`
		NumPages  int    `json:"numPages"`
		Publisher string `json:"publisher"`
		Language  struct {
			Name string `json:"name"`
		} `json:"language"`
	} `json:"details"`
	Work struct {
		Ref string `json:"__ref"`
	} `json:"work"`
}

// grWork is a Work node in the Apollo state.
type grWork struct {
	Typename string `json:"__typename"`
	LegacyID int64  `json:"legacyId"`
}

func (s *Goodreads) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf("%s/book/show/%s", s.baseURL, id)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{URL: pageURL})
	if err != nil {
		return nil, err
	}
	doc, err := resp.HTML()
	if err != nil {
		return nil, err
	}

	raw, ok := scriptContentByID(doc, "__NEXT_DATA__")
	if !ok && s.deps.Renderer != nil {
		// Shell page without data: render it.
		slog.Debug("plain page missing data, rendering", "site", "goodreads", "url", pageURL)
		doc, err = s.renderPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		raw, ok = scriptContentByID(doc, "__NEXT_DATA__")
	}
	if !ok {
		return nil, &ParseError{Site: "goodreads", URL: pageURL, Msg: "__NEXT_DATA__ not found"}
	}

	var nextData struct {
		Props struct {
			PageProps struct {
				ApolloState map[string]json.RawMessage `json:"apolloState"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(raw), &nextData); err != nil {
		return nil, &ParseError{Site: "goodreads", URL: pageURL, Msg: "malformed __NEXT_DATA__: " + err.Error()}
	}
	state := nextData.Props.PageProps.ApolloState

	book := findBookNode(state, id)
	if book == nil {
		return nil, &ParseError{Site: "goodreads", URL: pageURL, Msg: "no book node in apollo state"}
	}

	content := model.NewCanonicalContent(model.KindEdition)
	lang := strings.ToLower(book.Details.Language.Name)
	if lang == "" {
		lang = config.DefaultLanguage()
	}

	content.Metadata["title"] = book.Title
	content.Metadata["localized_title"] = model.UniqLocalized([]model.LocalizedText{{Lang: lang, Text: book.Title}})
	if book.Description != "" {
		content.Metadata["localized_description"] = model.UniqLocalized([]model.LocalizedText{{Lang: lang, Text: book.Description}})
	}
	if book.Details.Format != "" {
		content.Metadata["binding"] = book.Details.Format
	}
	if book.Details.NumPages > 0 {
		content.Metadata["pages"] = book.Details.NumPages
	}
	if book.Details.Publisher != "" {
		content.Metadata["pub_house"] = book.Details.Publisher
	}

	if book.Details.ISBN13 != "" {
		if err := content.AddLookupID(ids.ISBN, book.Details.ISBN13); err != nil {
			slog.Warn("rejected isbn lookup id", "site", "goodreads", "value", book.Details.ISBN13, "error", err)
		}
	}
	if book.Details.ASIN != "" {
		if err := content.AddLookupID(ids.ASIN, book.Details.ASIN); err != nil {
			slog.Debug("rejected asin lookup id", "site", "goodreads", "value", book.Details.ASIN, "error", err)
		}
	}

	if workID := workLegacyID(state, book.Work.Ref); workID != 0 {
		content.Refs = append(content.Refs, model.ResourceRef{
			Relation: model.RelationRequired,
			IDType:   ids.GoodreadsWork,
			IDValue:  strconv.FormatInt(workID, 10),
		})
	}

	if book.ImageURL != "" {
		content.Metadata["cover_image_url"] = book.ImageURL
		if img, ext, err := fetch.DownloadImage(ctx, s.deps.Downloader, book.ImageURL); err != nil {
			slog.Warn("cover download failed", "site", "goodreads", "url", book.ImageURL, "error", err)
		} else {
			content.CoverImage = img
			content.CoverExt = ext
		}
	}

	return content, nil
}

func (s *Goodreads) renderPage(ctx context.Context, pageURL string) (*html.Node, error) {
	resp, err := s.deps.Renderer.Download(ctx, fetch.Request{
		URL:          pageURL,
		RenderJS:     true,
		WaitSelector: "body",
	})
	if err != nil {
		return nil, err
	}
	return resp.HTML()
}

// findBookNode picks the Book entry matching the requested legacy id,
// falling back to the first Book node when ids do not line up.
func findBookNode(state map[string]json.RawMessage, id string) *grBook {
	var first *grBook
	for key, raw := range state {
		if !strings.HasPrefix(key, "Book:") {
			continue
		}
		var book grBook
		if err := json.Unmarshal(raw, &book); err != nil || book.Typename != "Book" || book.Title == "" {
			continue
		}
		if strconv.FormatInt(book.LegacyID, 10) == id {
			return &book
		}
		if first == nil {
			b := book
			first = &b
		}
	}
	return first
}

func workLegacyID(state map[string]json.RawMessage, ref string) int64 {
	raw, ok := state[ref]
	if !ok {
		return 0
	}
	var work grWork
	if err := json.Unmarshal(raw, &work); err != nil || work.Typename != "Work" {
		return 0
	}
	return work.LegacyID
}
