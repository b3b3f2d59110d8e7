package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/ratelimit"
)

var openLibraryURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?openlibrary\.org/books/(OL\d+M)`),
}

// OpenLibrary resolves book editions through the OpenLibrary Books API.
type OpenLibrary struct {
	deps    Deps
	limiter *ratelimit.Limiter
	baseURL string
}

// NewOpenLibrary returns the OpenLibrary edition plugin.
func NewOpenLibrary(deps Deps) *OpenLibrary {
	return &OpenLibrary{
		deps:    deps,
		limiter: ratelimit.For("openlibrary", 1),
		baseURL: "https://openlibrary.org",
	}
}

func (s *OpenLibrary) Descriptor() Descriptor {
	return Descriptor{
		Name:              "openlibrary",
		IDType:            ids.OpenLibrary,
		URLPatterns:       openLibraryURLPatterns,
		DefaultKind:       model.KindEdition,
		Category:          model.CategoryBook,
		RequestsPerSecond: 1,
	}
}

func (s *OpenLibrary) IDToURL(id string) string {
	return fmt.Sprintf("https://openlibrary.org/books/%s", id)
}

// olBook mirrors the Books API jscmd=data shape.
type olBook struct {
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	PublishDate string `json:"publish_date"`
	Pages       int    `json:"number_of_pages"`
	Notes       string `json:"notes"`
	Authors     []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	Subjects []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Cover struct {
		Large  string `json:"large"`
		Medium string `json:"medium"`
		Small  string `json:"small"`
	} `json:"cover"`
	Identifiers struct {
		ISBN10 []string `json:"isbn_10"`
		ISBN13 []string `json:"isbn_13"`
	} `json:"identifiers"`
	Works []struct {
		Key string `json:"key"`
	} `json:"works"`
}

var pubYearRe = regexp.MustCompile(`(\d{4})`)

func (s *OpenLibrary) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	bibkey := "OLID:" + id
	apiURL := fmt.Sprintf("%s/api/books?bibkeys=%s&jscmd=data&format=json", s.baseURL, bibkey)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{URL: apiURL})
	if err != nil {
		return nil, err
	}

	var payload map[string]olBook
	if err := resp.JSON(&payload); err != nil {
		return nil, err
	}
	book, ok := payload[bibkey]
	if !ok {
		return nil, &ParseError{Site: "openlibrary", URL: apiURL, Msg: "no data found for " + bibkey}
	}

	content := model.NewCanonicalContent(model.KindEdition)
	lang := config.DefaultLanguage()

	content.Metadata["title"] = book.Title
	content.Metadata["localized_title"] = model.UniqLocalized([]model.LocalizedText{{Lang: lang, Text: book.Title}})
	if book.Subtitle != "" {
		content.Metadata["subtitle"] = book.Subtitle
	}

	var authors []string
	for _, a := range book.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}
	content.Metadata["author"] = authors

	if len(book.Publishers) > 0 {
		content.Metadata["pub_house"] = book.Publishers[0].Name
	}
	if m := pubYearRe.FindStringSubmatch(book.PublishDate); m != nil {
		year, _ := strconv.Atoi(m[1])
		content.Metadata["pub_year"] = year
	}
	if book.Pages > 0 {
		content.Metadata["pages"] = book.Pages
	}

	var subjects []string
	for _, subj := range book.Subjects {
		if subj.Name != "" {
			subjects = append(subjects, subj.Name)
		}
	}
	if len(subjects) > 0 {
		content.Metadata["subjects"] = subjects
	}

	if book.Notes != "" {
		content.Metadata["localized_description"] = model.UniqLocalized([]model.LocalizedText{{Lang: lang, Text: book.Notes}})
	}

	// ISBN-13 preferred, with ISBN-10 upgraded when it is all we have.
	isbn := ""
	if len(book.Identifiers.ISBN13) > 0 {
		isbn = book.Identifiers.ISBN13[0]
	} else if len(book.Identifiers.ISBN10) > 0 {
		if upgraded, ok := ids.ISBN10To13(book.Identifiers.ISBN10[0]); ok {
			isbn = upgraded
		}
	}
	if isbn != "" {
		if t, v, ok := ids.Detect(isbn); ok {
			if err := content.AddLookupID(t, v); err != nil {
				slog.Warn("rejected isbn lookup id", "site", "openlibrary", "value", isbn, "error", err)
			} else {
				content.Metadata["isbn"] = v
			}
		}
	}

	// Editions link to their work; the work must exist before the edition
	// is complete.
	if len(book.Works) > 0 {
		if workID, found := strings.CutPrefix(book.Works[0].Key, "/works/"); found {
			content.Refs = append(content.Refs, model.ResourceRef{
				Relation: model.RelationRequired,
				IDType:   ids.OpenLibraryWork,
				IDValue:  workID,
				URL:      fmt.Sprintf("https://openlibrary.org/works/%s", workID),
			})
		}
	}

	coverURL := book.Cover.Large
	if coverURL == "" {
		coverURL = book.Cover.Medium
	}
	if coverURL == "" {
		coverURL = book.Cover.Small
	}
	if coverURL != "" {
		content.Metadata["cover_image_url"] = coverURL
		if img, ext, err := fetch.DownloadImage(ctx, s.deps.Downloader, coverURL); err != nil {
			slog.Warn("cover download failed", "site", "openlibrary", "url", coverURL, "error", err)
		} else {
			content.CoverImage = img
			content.CoverExt = ext
		}
	}

	return content, nil
}

// olSearchDoc mirrors search.json's per-document fields.
type olSearchDoc struct {
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear int      `json:"first_publish_year"`
	EditionKey       []string `json:"edition_key"`
	ISBN             []string `json:"isbn"`
	CoverID          int      `json:"cover_i"`
}

func (s *OpenLibrary) Search(ctx context.Context, query string, page, pageSize int) ([]model.SearchResultItem, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	searchURL := fmt.Sprintf("%s/search.json?q=%s&limit=%d&offset=%d",
		s.baseURL, url.QueryEscape(query), pageSize, (page-1)*pageSize)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{URL: searchURL})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Docs []olSearchDoc `json:"docs"`
	}
	if err := resp.JSON(&payload); err != nil {
		return nil, err
	}

	var results []model.SearchResultItem
	for _, doc := range payload.Docs {
		permalink := ""
		switch {
		case len(doc.ISBN) > 0:
			permalink = fmt.Sprintf("https://openlibrary.org/isbn/%s", doc.ISBN[0])
		case len(doc.EditionKey) > 0:
			permalink = fmt.Sprintf("https://openlibrary.org/books/%s", doc.EditionKey[0])
		default:
			continue
		}

		var subtitleParts []string
		if len(doc.AuthorName) > 0 {
			names := doc.AuthorName
			if len(names) > 2 {
				names = names[:2]
			}
			subtitleParts = append(subtitleParts, strings.Join(names, ", "))
		}
		if doc.FirstPublishYear > 0 {
			subtitleParts = append(subtitleParts, strconv.Itoa(doc.FirstPublishYear))
		}

		coverURL := ""
		if doc.CoverID > 0 {
			coverURL = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-M.jpg", doc.CoverID)
		}

		results = append(results, model.SearchResultItem{
			Category: model.CategoryBook,
			SiteName: "openlibrary",
			URL:      permalink,
			Title:    doc.Title,
			Subtitle: strings.Join(subtitleParts, " • "),
			Brief:    doc.Subtitle,
			CoverURL: coverURL,
		})
	}
	return results, nil
}
