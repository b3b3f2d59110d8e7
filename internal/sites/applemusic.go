package sites

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"

	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/ratelimit"
)

var appleMusicURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://music\.apple\.com/[a-z]{2}/album/[\w%-]+/(\d+)`),
	regexp.MustCompile(`^https?://music\.apple\.com/[a-z]{2}/album/(\d+)`),
	regexp.MustCompile(`^https?://music\.apple\.com/album/(\d+)`),
}

// Apple Music serves plain storefront pages; no API token needed, so the
// plugin pretends to be a browser and reads the embedded schema.org JSON.
var appleMusicHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:107.0) Gecko/20100101 Firefox/107.0",
	"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
}

// storefrontsByLang maps a preferred language to the storefront regions
// worth trying, most likely first.
var storefrontsByLang = map[string][]string{
	"zh": {"cn", "tw", "hk", "sg"},
	"en": {"us", "gb", "ca"},
	"ja": {"jp"},
	"ko": {"kr"},
	"fr": {"fr", "ca"},
}

// localeVariant is one (language, storefront) pair in the waterfall.
type localeVariant struct {
	lang   string
	region string
}

// acceptLanguage is the Accept-Language value for the variant. Chinese
// storefronts differ per region; other languages do not.
func (v localeVariant) acceptLanguage() string {
	if v.lang == "zh" {
		return v.lang + "-" + v.region
	}
	return v.lang
}

// localeWaterfall expands the preferred languages into the ordered list
// of variants to try.
func localeWaterfall(preferred []string) []localeVariant {
	var out []localeVariant
	for _, lang := range preferred {
		for _, region := range storefrontsByLang[lang] {
			out = append(out, localeVariant{lang: lang, region: region})
		}
	}
	if len(out) == 0 {
		out = []localeVariant{{lang: "en", region: "us"}}
	}
	return out
}

// AppleMusic resolves albums from Apple Music storefront pages.
type AppleMusic struct {
	deps    Deps
	limiter *ratelimit.Limiter
	baseURL string
}

// NewAppleMusic returns the Apple Music album plugin.
func NewAppleMusic(deps Deps) *AppleMusic {
	return &AppleMusic{
		deps:    deps,
		limiter: ratelimit.For("apple_music", 4),
		baseURL: "https://music.apple.com",
	}
}

func (s *AppleMusic) Descriptor() Descriptor {
	return Descriptor{
		Name:              "apple_music",
		IDType:            ids.AppleMusic,
		URLPatterns:       appleMusicURLPatterns,
		DefaultKind:       model.KindAlbum,
		Category:          model.CategoryMusic,
		RequestsPerSecond: 4,
	}
}

func (s *AppleMusic) IDToURL(id string) string {
	return fmt.Sprintf("https://music.apple.com/album/%s", id)
}

// amSchema mirrors the schema:music-album embedded JSON.
type amSchema struct {
	Name     string `json:"name"`
	ByArtist []struct {
		Name string `json:"name"`
	} `json:"byArtist"`
	DatePublished string   `json:"datePublished"`
	Genre         []string `json:"genre"`
	Image         string   `json:"image"`
	Tracks        []struct {
		Name     string `json:"name"`
		Duration string `json:"duration"`
	} `json:"tracks"`
}

// amServerData mirrors just enough of serialized-server-data to reach the
// album description.
type amServerData []struct {
	Data struct {
		Sections []struct {
			Items []struct {
				ModalPresentationDescriptor struct {
					ParagraphText string `json:"paragraphText"`
				} `json:"modalPresentationDescriptor"`
			} `json:"items"`
		} `json:"sections"`
	} `json:"data"`
}

func (d amServerData) description() string {
	if len(d) == 0 || len(d[0].Data.Sections) == 0 || len(d[0].Data.Sections[0].Items) == 0 {
		return ""
	}
	return d[0].Data.Sections[0].Items[0].ModalPresentationDescriptor.ParagraphText
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// parseISODurationMS converts an ISO-8601 duration like PT3M42S to
// milliseconds. Unparseable values count as zero.
func parseISODurationMS(s string) int {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.ParseFloat(m[3], 64)
	total := float64(hours*3600+minutes*60) + seconds
	return int(math.Round(total * 1000))
}

// Scrape walks the locale waterfall: every variant contributes its
// localized title and description, the default-language hit (or the
// first hit when the default never succeeds) supplies the authoritative
// album data.
func (s *AppleMusic) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	var (
		authoritative  *amSchema
		localizedTitle []model.LocalizedText
		localizedDesc  []model.LocalizedText
	)
	defaultLang := config.DefaultLanguage()
	prevLang := ""

	for _, variant := range localeWaterfall(config.PreferredLanguages()) {
		// One hit per language is enough.
		if variant.lang == prevLang {
			continue
		}
		schema, desc, err := s.scrapeLocale(ctx, id, variant)
		if err != nil {
			slog.Debug("locale variant failed", "site", "apple_music", "id", id,
				"lang", variant.lang, "region", variant.region, "error", err)
			continue
		}
		prevLang = variant.lang

		tl := variant.acceptLanguage()
		if schema.Name != "" {
			localizedTitle = append(localizedTitle, model.LocalizedText{Lang: tl, Text: schema.Name})
		}
		if desc != "" {
			localizedDesc = append(localizedDesc, model.LocalizedText{Lang: tl, Text: desc})
		}
		if variant.lang == defaultLang || authoritative == nil {
			authoritative = schema
		}
	}

	if authoritative == nil {
		return nil, &ParseError{Site: "apple_music", URL: s.IDToURL(id), Msg: "no localized content found"}
	}

	var artists []string
	for _, a := range authoritative.ByArtist {
		artists = append(artists, a.Name)
	}
	trackList := ""
	duration := 0
	for i, t := range authoritative.Tracks {
		if i > 0 {
			trackList += "\n"
		}
		trackList += t.Name
		duration += parseISODurationMS(t.Duration)
	}

	content := model.NewCanonicalContent(model.KindAlbum)
	content.Metadata["title"] = authoritative.Name
	content.Metadata["localized_title"] = model.UniqLocalized(localizedTitle)
	content.Metadata["localized_description"] = model.UniqLocalized(localizedDesc)
	content.Metadata["artist"] = artists
	content.Metadata["genre"] = authoritative.Genre
	content.Metadata["release_date"] = authoritative.DatePublished
	content.Metadata["track_list"] = trackList
	content.Metadata["duration"] = duration

	if authoritative.Image != "" {
		content.Metadata["cover_image_url"] = authoritative.Image
		if img, ext, err := fetch.DownloadImage(ctx, s.deps.Downloader, authoritative.Image); err != nil {
			slog.Warn("cover download failed", "site", "apple_music", "url", authoritative.Image, "error", err)
		} else {
			content.CoverImage = img
			content.CoverExt = ext
		}
	}

	return content, nil
}

func (s *AppleMusic) scrapeLocale(ctx context.Context, id string, v localeVariant) (*amSchema, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	pageURL := fmt.Sprintf("%s/%s/album/%s", s.baseURL, v.region, id)
	resp, err := s.deps.Downloader.Download(ctx, fetch.Request{
		URL:            pageURL,
		Headers:        appleMusicHeaders,
		AcceptLanguage: v.acceptLanguage(),
	})
	if err != nil {
		return nil, "", err
	}
	doc, err := resp.HTML()
	if err != nil {
		return nil, "", err
	}

	var schema amSchema
	if err := scriptJSON(doc, "schema:music-album", &schema); err != nil {
		return nil, "", err
	}
	if schema.Name == "" {
		return nil, "", &ParseError{Site: "apple_music", URL: pageURL, Msg: "album schema has no name"}
	}

	// The description is a nice-to-have; many storefronts omit it.
	var serverData amServerData
	desc := ""
	if err := scriptJSON(doc, "serialized-server-data", &serverData); err == nil {
		desc = serverData.description()
	}

	return &schema, desc, nil
}
