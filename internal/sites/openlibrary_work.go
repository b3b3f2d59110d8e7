package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/ratelimit"
)

var openLibraryWorkURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(?:www\.)?openlibrary\.org/works/(OL\d+W)`),
}

// relatedEditionLimit caps how many sibling editions a work links to.
const relatedEditionLimit = 5

// OpenLibraryWork resolves works (the abstract book behind editions).
type OpenLibraryWork struct {
	deps    Deps
	limiter *ratelimit.Limiter
	baseURL string
}

// NewOpenLibraryWork returns the OpenLibrary work plugin.
func NewOpenLibraryWork(deps Deps) *OpenLibraryWork {
	return &OpenLibraryWork{
		deps:    deps,
		limiter: ratelimit.For("openlibrary", 1),
		baseURL: "https://openlibrary.org",
	}
}

func (s *OpenLibraryWork) Descriptor() Descriptor {
	return Descriptor{
		Name:              "openlibrary",
		IDType:            ids.OpenLibraryWork,
		URLPatterns:       openLibraryWorkURLPatterns,
		DefaultKind:       model.KindWork,
		Category:          model.CategoryBook,
		RequestsPerSecond: 1,
	}
}

func (s *OpenLibraryWork) IDToURL(id string) string {
	return fmt.Sprintf("https://openlibrary.org/works/%s", id)
}

// olWork mirrors the /works/{id}.json shape. Description is either a
// string or {"type": ..., "value": ...}.
type olWork struct {
	Title            string          `json:"title"`
	Description      json.RawMessage `json:"description"`
	FirstPublishDate string          `json:"first_publish_date"`
	Subjects         []string        `json:"subjects"`
}

func decodeOLDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var typed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil {
		return typed.Value
	}
	return ""
}

func (s *OpenLibraryWork) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/works/%s.json", s.baseURL, id)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{URL: apiURL})
	if err != nil {
		return nil, err
	}

	var work olWork
	if err := resp.JSON(&work); err != nil {
		return nil, err
	}
	if work.Title == "" {
		return nil, &ParseError{Site: "openlibrary", URL: apiURL, Msg: "no work data found for " + id}
	}

	content := model.NewCanonicalContent(model.KindWork)
	lang := config.DefaultLanguage()

	content.Metadata["title"] = work.Title
	content.Metadata["localized_title"] = model.UniqLocalized([]model.LocalizedText{{Lang: lang, Text: work.Title}})
	if desc := decodeOLDescription(work.Description); desc != "" {
		content.Metadata["localized_description"] = model.UniqLocalized([]model.LocalizedText{{Lang: lang, Text: desc}})
	}
	if work.FirstPublishDate != "" {
		content.Metadata["first_published"] = work.FirstPublishDate
	}
	if len(work.Subjects) > 0 {
		content.Metadata["subjects"] = work.Subjects
	}

	// Sibling editions are enrichment only: a missing edition never fails
	// the work.
	content.Refs = append(content.Refs, s.editionRefs(ctx, id)...)

	return content, nil
}

func (s *OpenLibraryWork) editionRefs(ctx context.Context, id string) []model.ResourceRef {
	apiURL := fmt.Sprintf("%s/works/%s/editions.json?limit=%d", s.baseURL, id, relatedEditionLimit)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{URL: apiURL})
	if err != nil {
		slog.Debug("work editions unavailable", "site", "openlibrary", "work", id, "error", err)
		return nil
	}

	var payload struct {
		Entries []struct {
			Key string `json:"key"`
		} `json:"entries"`
	}
	if err := resp.JSON(&payload); err != nil {
		slog.Debug("work editions payload malformed", "site", "openlibrary", "work", id, "error", err)
		return nil
	}

	var refs []model.ResourceRef
	for _, entry := range payload.Entries {
		editionID, found := strings.CutPrefix(entry.Key, "/books/")
		if !found || !ids.Validate(ids.OpenLibrary, editionID) {
			continue
		}
		refs = append(refs, model.ResourceRef{
			Relation: model.RelationRelated,
			IDType:   ids.OpenLibrary,
			IDValue:  editionID,
			URL:      fmt.Sprintf("https://openlibrary.org/books/%s", editionID),
		})
		if len(refs) == relatedEditionLimit {
			break
		}
	}
	return refs
}
