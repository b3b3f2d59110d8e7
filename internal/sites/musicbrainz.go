package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/plahtine/janus/internal/fetch"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/ratelimit"
)

// MusicBrainz asks for at most one request per second.
const musicBrainzRPS = 1

var (
	mbReleaseURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^https?://(?:www\.)?musicbrainz\.org/release/([a-f0-9-]{36})`),
	}
	mbReleaseGroupURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^https?://(?:www\.)?musicbrainz\.org/release-group/([a-f0-9-]{36})`),
	}
)

// mbClient is the shared MusicBrainz ws/2 JSON API access for both the
// release and release-group plugins.
type mbClient struct {
	deps        Deps
	limiter     *ratelimit.Limiter
	baseURL     string
	coverartURL string
}

func newMBClient(deps Deps) *mbClient {
	return &mbClient{
		deps:        deps,
		limiter:     ratelimit.For("musicbrainz", musicBrainzRPS),
		baseURL:     "https://musicbrainz.org",
		coverartURL: "https://coverartarchive.org",
	}
}

func (c *mbClient) get(ctx context.Context, rawURL string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.deps.Downloader.Download(ctx, fetch.Request{
		URL:     rawURL,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return err
	}
	return resp.JSON(target)
}

// Shared ws/2 payload shapes.
type mbArtistCredit struct {
	Name   string `json:"name"`
	Artist struct {
		Name string `json:"name"`
	} `json:"artist"`
}

type mbTagged struct {
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Tags []struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	} `json:"tags"`
}

type mbMedium struct {
	Position int `json:"position"`
	Tracks   []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Length   int    `json:"length"`
	} `json:"tracks"`
}

type mbRelease struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Date         string           `json:"date"`
	Barcode      string           `json:"barcode"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
	Media        []mbMedium       `json:"media"`
	LabelInfo    []struct {
		Label struct {
			Name string `json:"name"`
		} `json:"label"`
	} `json:"label-info"`
	ReleaseGroup *struct {
		ID string `json:"id"`
		mbTagged
	} `json:"release-group"`
	mbTagged
}

type mbReleaseGroup struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
	Releases     []struct {
		ID   string `json:"id"`
		Date string `json:"date"`
	} `json:"releases"`
	mbTagged
}

func artistNames(credits []mbArtistCredit) []string {
	var out []string
	for _, c := range credits {
		switch {
		case c.Artist.Name != "":
			out = append(out, c.Artist.Name)
		case c.Name != "":
			out = append(out, c.Name)
		}
	}
	return out
}

func (t mbTagged) genreNames() []string {
	var out []string
	for _, g := range t.Genres {
		out = append(out, g.Name)
	}
	for _, tag := range t.Tags {
		if tag.Count > 0 {
			out = append(out, tag.Name)
		}
	}
	return out
}

func uniqStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// trackSummary builds the numbered track list and total duration in
// milliseconds. Disc numbers are prefixed only for multi-disc releases.
func trackSummary(media []mbMedium) (string, int) {
	var lines []string
	total := 0
	for _, medium := range media {
		for _, track := range medium.Tracks {
			num := track.Position
			if num == 0 {
				num = len(lines) + 1
			}
			title := track.Title
			if title == "" {
				title = "Unknown Track"
			}
			if len(media) > 1 {
				lines = append(lines, fmt.Sprintf("%d-%d. %s", medium.Position, num, title))
			} else {
				lines = append(lines, fmt.Sprintf("%d. %s", num, title))
			}
			total += track.Length
		}
	}
	return strings.Join(lines, "\n"), total
}

// coverArtURL asks the Cover Art Archive for the release's front cover.
func (c *mbClient) coverArtFor(ctx context.Context, releaseID string) string {
	var payload struct {
		Images []struct {
			Front bool   `json:"front"`
			Image string `json:"image"`
		} `json:"images"`
	}
	apiURL := fmt.Sprintf("%s/release/%s", c.coverartURL, releaseID)
	if err := c.get(ctx, apiURL, &payload); err != nil {
		slog.Debug("no cover art found", "site", "musicbrainz", "release", releaseID, "error", err)
		return ""
	}
	for _, img := range payload.Images {
		if img.Front {
			return img.Image
		}
	}
	if len(payload.Images) > 0 {
		return payload.Images[0].Image
	}
	return ""
}

// addBarcode admits a release barcode as a GTIN lookup id, zero-padding
// 12-digit UPCs.
func addBarcode(content *model.CanonicalContent, barcode string) {
	if barcode == "" {
		return
	}
	gtin := barcode
	if padded, ok := ids.UPCToGTIN13(barcode); ok {
		gtin = padded
	}
	if err := content.AddLookupID(ids.GTIN, gtin); err != nil {
		slog.Debug("rejected barcode", "site", "musicbrainz", "barcode", barcode, "error", err)
	}
}

func (c *mbClient) downloadCover(ctx context.Context, content *model.CanonicalContent, coverURL string) {
	if coverURL == "" {
		return
	}
	content.Metadata["cover_image_url"] = coverURL
	img, ext, err := fetch.DownloadImage(ctx, c.deps.Downloader, coverURL)
	if err != nil {
		slog.Warn("cover download failed", "site", "musicbrainz", "url", coverURL, "error", err)
		return
	}
	content.CoverImage = img
	content.CoverExt = ext
}

// MusicBrainzRelease resolves individual releases (a concrete album
// issue with a barcode and track list).
type MusicBrainzRelease struct {
	client *mbClient
}

// NewMusicBrainzRelease returns the MusicBrainz release plugin.
func NewMusicBrainzRelease(deps Deps) *MusicBrainzRelease {
	return &MusicBrainzRelease{client: newMBClient(deps)}
}

func (s *MusicBrainzRelease) Descriptor() Descriptor {
	return Descriptor{
		Name:              "musicbrainz",
		IDType:            ids.MusicBrainzRelease,
		URLPatterns:       mbReleaseURLPatterns,
		DefaultKind:       model.KindAlbum,
		Category:          model.CategoryMusic,
		RequestsPerSecond: musicBrainzRPS,
	}
}

func (s *MusicBrainzRelease) IDToURL(id string) string {
	return fmt.Sprintf("https://musicbrainz.org/release/%s", id)
}

func (s *MusicBrainzRelease) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	apiURL := fmt.Sprintf("%s/ws/2/release/%s?fmt=json&inc=artists+recordings+labels+media+release-groups+tags+genres", s.client.baseURL, id)
	var release mbRelease
	if err := s.client.get(ctx, apiURL, &release); err != nil {
		return nil, err
	}
	if release.Title == "" {
		return nil, &ParseError{Site: "musicbrainz", URL: apiURL, Msg: "no title in release data"}
	}

	content := model.NewCanonicalContent(model.KindAlbum)
	content.Metadata["title"] = release.Title
	content.Metadata["artist"] = artistNames(release.ArtistCredit)
	if release.Date != "" {
		content.Metadata["release_date"] = release.Date
	}

	genres := release.genreNames()
	if release.ReleaseGroup != nil {
		genres = append(genres, release.ReleaseGroup.genreNames()...)
	}
	if genres = uniqStrings(genres); len(genres) > 0 {
		content.Metadata["genre"] = genres
	}

	if trackList, duration := trackSummary(release.Media); trackList != "" {
		content.Metadata["track_list"] = trackList
		if duration > 0 {
			content.Metadata["duration"] = duration
		}
	}

	var labels []string
	for _, li := range release.LabelInfo {
		if li.Label.Name != "" {
			labels = append(labels, li.Label.Name)
		}
	}
	if len(labels) > 0 {
		content.Metadata["company"] = labels
	}

	addBarcode(content, release.Barcode)

	// A release is one issue of its release group; the group must exist
	// for the release to attach to.
	if release.ReleaseGroup != nil && release.ReleaseGroup.ID != "" {
		content.Refs = append(content.Refs, model.ResourceRef{
			Relation: model.RelationRequired,
			IDType:   ids.MusicBrainzReleaseGroup,
			IDValue:  release.ReleaseGroup.ID,
			URL:      fmt.Sprintf("https://musicbrainz.org/release-group/%s", release.ReleaseGroup.ID),
		})
	}

	s.client.downloadCover(ctx, content, s.client.coverArtFor(ctx, id))
	return content, nil
}

func (s *MusicBrainzRelease) Search(ctx context.Context, query string, page, pageSize int) ([]model.SearchResultItem, error) {
	apiURL := fmt.Sprintf("%s/ws/2/release?query=%s&fmt=json&limit=%d&offset=%d",
		s.client.baseURL, url.QueryEscape(query), pageSize, (page-1)*pageSize)

	var payload struct {
		Releases []mbRelease `json:"releases"`
	}
	if err := s.client.get(ctx, apiURL, &payload); err != nil {
		return nil, err
	}

	var results []model.SearchResultItem
	for _, release := range payload.Releases {
		if release.Title == "" || release.ID == "" {
			continue
		}
		var subtitleParts []string
		if names := artistNames(release.ArtistCredit); len(names) > 0 {
			subtitleParts = append(subtitleParts, strings.Join(names, " / "))
		}
		if len(release.Date) >= 4 {
			subtitleParts = append(subtitleParts, release.Date[:4])
		}
		results = append(results, model.SearchResultItem{
			Category: model.CategoryMusic,
			SiteName: "musicbrainz",
			URL:      s.IDToURL(release.ID),
			Title:    release.Title,
			Subtitle: strings.Join(subtitleParts, " · "),
		})
	}
	return results, nil
}

// MusicBrainzReleaseGroup resolves release groups (the abstract album
// spanning its releases).
type MusicBrainzReleaseGroup struct {
	client *mbClient
}

// NewMusicBrainzReleaseGroup returns the MusicBrainz release-group plugin.
func NewMusicBrainzReleaseGroup(deps Deps) *MusicBrainzReleaseGroup {
	return &MusicBrainzReleaseGroup{client: newMBClient(deps)}
}

func (s *MusicBrainzReleaseGroup) Descriptor() Descriptor {
	return Descriptor{
		Name:              "musicbrainz",
		IDType:            ids.MusicBrainzReleaseGroup,
		URLPatterns:       mbReleaseGroupURLPatterns,
		DefaultKind:       model.KindAlbum,
		Category:          model.CategoryMusic,
		RequestsPerSecond: musicBrainzRPS,
	}
}

func (s *MusicBrainzReleaseGroup) IDToURL(id string) string {
	return fmt.Sprintf("https://musicbrainz.org/release-group/%s", id)
}

func (s *MusicBrainzReleaseGroup) Scrape(ctx context.Context, id string) (*model.CanonicalContent, error) {
	apiURL := fmt.Sprintf("%s/ws/2/release-group/%s?fmt=json&inc=artists+releases+tags+genres", s.client.baseURL, id)
	var group mbReleaseGroup
	if err := s.client.get(ctx, apiURL, &group); err != nil {
		return nil, err
	}
	if group.Title == "" {
		return nil, &ParseError{Site: "musicbrainz", URL: apiURL, Msg: "no title in release-group data"}
	}

	content := model.NewCanonicalContent(model.KindAlbum)
	content.Metadata["title"] = group.Title
	content.Metadata["artist"] = artistNames(group.ArtistCredit)
	if genres := uniqStrings(group.genreNames()); len(genres) > 0 {
		content.Metadata["genre"] = genres
	}
	if len(group.Releases) == 0 {
		return content, nil
	}

	first := group.Releases[0]
	if first.Date != "" {
		content.Metadata["release_date"] = first.Date
	}

	// Track details live on releases; borrow them from the first one.
	detailURL := fmt.Sprintf("%s/ws/2/release/%s?fmt=json&inc=recordings+labels+media", s.client.baseURL, first.ID)
	var release mbRelease
	if err := s.client.get(ctx, detailURL, &release); err != nil {
		slog.Warn("release details unavailable", "site", "musicbrainz", "release", first.ID, "error", err)
		return content, nil
	}

	if trackList, duration := trackSummary(release.Media); trackList != "" {
		content.Metadata["track_list"] = trackList
		if duration > 0 {
			content.Metadata["duration"] = duration
		}
	}
	var labels []string
	for _, li := range release.LabelInfo {
		if li.Label.Name != "" {
			labels = append(labels, li.Label.Name)
		}
	}
	if len(labels) > 0 {
		content.Metadata["company"] = labels
	}
	addBarcode(content, release.Barcode)

	s.client.downloadCover(ctx, content, s.client.coverArtFor(ctx, first.ID))
	return content, nil
}
