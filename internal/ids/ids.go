// Package ids validates, normalizes and converts external identifier
// schemes (ISBN, ASIN, GTIN, source-native ids). All functions are pure;
// detection against free text returns "no match" instead of an error.
package ids

import (
	"fmt"
	"regexp"
	"strings"
)

// Type identifies an external identifier scheme. Values are lowercase and
// stable because they are used as persistence keys.
type Type string

const (
	ISBN10                  Type = "isbn10"
	ISBN                    Type = "isbn" // ISBN-13
	ASIN                    Type = "asin"
	GTIN                    Type = "gtin" // GTIN-13 / EAN; ISBN kept separate
	ISRC                    Type = "isrc"
	IMDB                    Type = "imdb"
	TMDBMovie               Type = "tmdb_movie"
	TMDBTV                  Type = "tmdb_tv"
	TMDBTVSeason            Type = "tmdb_tvseason"
	TMDBTVEpisode           Type = "tmdb_tvepisode"
	OpenLibrary             Type = "openlibrary"
	OpenLibraryWork         Type = "openlibrary_work"
	Goodreads               Type = "goodreads"
	GoodreadsWork           Type = "goodreads_work"
	GoogleBooks             Type = "googlebooks"
	MusicBrainzRelease      Type = "musicbrainz_release"
	MusicBrainzReleaseGroup Type = "musicbrainz_releasegroup"
	AppleMusic              Type = "apple_music"
	Bandcamp                Type = "bandcamp"
	SpotifyAlbum            Type = "spotify_album"
	DiscogsRelease          Type = "discogs_release"
	DiscogsMaster           Type = "discogs_master"
	Steam                   Type = "steam"
	IGDB                    Type = "igdb"
	BGG                     Type = "bgg"
	Fediverse               Type = "fedi"
)

// ValidationError reports an identifier value that failed its
// type-specific validator. Unvalidated values must never be used as
// dedup keys.
type ValidationError struct {
	Type  Type
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s identifier: %q", e.Type, e.Value)
}

var (
	isbn13Re   = regexp.MustCompile(`^\d{13}$`)
	isbn10Re   = regexp.MustCompile(`^\d{9}[X0-9]$`)
	asinRe     = regexp.MustCompile(`^B[A-Z0-9]{9}$`)
	gtinRe     = regexp.MustCompile(`^\d{13}$`)
	isrcRe     = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}\d{7}$`)
	imdbRe     = regexp.MustCompile(`^tt\d+$`)
	mbidRe     = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	olBookRe   = regexp.MustCompile(`^OL\d+M$`)
	olWorkRe   = regexp.MustCompile(`^OL\d+W$`)
	digitsRe   = regexp.MustCompile(`^\d+$`)
	nonAlnumRe = regexp.MustCompile(`[^0-9A-Z]`)
)

// CheckDigit10 computes the ISBN-10 check digit over the first nine
// digits: weighted sum with weights 1..9, modulo 11, "X" for 10.
func CheckDigit10(first9 string) (string, error) {
	if len(first9) != 9 || !digitsRe.MatchString(first9) {
		return "", fmt.Errorf("isbn10 check digit needs 9 digits, got %q", first9)
	}
	sum := 0
	for i, c := range first9 {
		sum += (i + 1) * int(c-'0')
	}
	r := sum % 11
	if r == 10 {
		return "X", nil
	}
	return string(rune('0' + r)), nil
}

// CheckDigit13 computes the ISBN-13/EAN check digit over the first twelve
// digits: alternating weights 1,3, modulo 10, subtracted from 10.
func CheckDigit13(first12 string) (string, error) {
	if len(first12) != 12 || !digitsRe.MatchString(first12) {
		return "", fmt.Errorf("isbn13 check digit needs 12 digits, got %q", first12)
	}
	sum := 0
	for i, c := range first12 {
		w := 1
		if i%2 == 1 {
			w = 3
		}
		sum += w * int(c-'0')
	}
	r := 10 - sum%10
	if r == 10 {
		return "0", nil
	}
	return string(rune('0' + r)), nil
}

// ISBN10To13 converts a syntactically valid ISBN-10 to its "978" ISBN-13.
func ISBN10To13(isbn10 string) (string, bool) {
	if len(isbn10) != 10 {
		return "", false
	}
	d, err := CheckDigit13("978" + isbn10[:9])
	if err != nil {
		return "", false
	}
	return "978" + isbn10[:9] + d, true
}

// ISBN13To10 converts a "978"-prefixed ISBN-13 back to ISBN-10. It fails
// for other prefixes (979 has no ISBN-10 form).
func ISBN13To10(isbn13 string) (string, bool) {
	if len(isbn13) != 13 || !strings.HasPrefix(isbn13, "978") {
		return "", false
	}
	d, err := CheckDigit10(isbn13[3:12])
	if err != nil {
		return "", false
	}
	return isbn13[3:12] + d, true
}

// UPCToGTIN13 pads a UPC/EAN barcode to 13 digits. Longer values are
// accepted only when the excess prefix is all zeros. Idempotent on its
// own output.
func UPCToGTIN13(upc string) (string, bool) {
	s := strings.TrimSpace(upc)
	if s == "" || !digitsRe.MatchString(s) {
		return "", false
	}
	switch {
	case len(s) < 13:
		s = strings.Repeat("0", 13-len(s)) + s
	case len(s) > 13:
		prefix := s[:len(s)-13]
		if strings.Trim(prefix, "0") != "" {
			return "", false
		}
		s = s[len(s)-13:]
	}
	return s, true
}

// Validate reports whether value passes the type-specific validator.
// Types without a distinguishable shape only require a non-empty value.
func Validate(t Type, value string) bool {
	if value == "" {
		return false
	}
	switch t {
	case ISBN:
		if !isbn13Re.MatchString(value) {
			return false
		}
		d, err := CheckDigit13(value[:12])
		return err == nil && d == value[12:]
	case ISBN10:
		if !isbn10Re.MatchString(value) {
			return false
		}
		d, err := CheckDigit10(value[:9])
		return err == nil && d == value[9:]
	case ASIN:
		return asinRe.MatchString(value)
	case GTIN:
		return gtinRe.MatchString(value)
	case ISRC:
		return isrcRe.MatchString(value)
	case IMDB:
		return imdbRe.MatchString(value)
	case MusicBrainzRelease, MusicBrainzReleaseGroup:
		return mbidRe.MatchString(value)
	case OpenLibrary:
		return olBookRe.MatchString(value)
	case OpenLibraryWork:
		return olWorkRe.MatchString(value)
	default:
		return true
	}
}

// Normalize canonicalizes value for type t, returning a ValidationError
// when the result does not validate. ISBN-10 input under the ISBN type is
// upgraded to ISBN-13.
func Normalize(t Type, value string) (string, error) {
	v := strings.TrimSpace(value)
	switch t {
	case ISBN:
		v = nonAlnumRe.ReplaceAllString(strings.ToUpper(v), "")
		if Validate(ISBN10, v) {
			if up, ok := ISBN10To13(v); ok {
				v = up
			}
		}
	case ISBN10, ASIN, ISRC, OpenLibrary, OpenLibraryWork:
		v = strings.ToUpper(v)
	case GTIN:
		if g, ok := UPCToGTIN13(v); ok {
			v = g
		}
	case MusicBrainzRelease, MusicBrainzReleaseGroup:
		v = strings.ToLower(v)
	}
	if !Validate(t, v) {
		return "", &ValidationError{Type: t, Value: value}
	}
	return v, nil
}

// Convert cross-converts between identifier schemes where a lossless
// mapping exists. It returns false when no conversion applies.
func Convert(from Type, value string) (Type, string, bool) {
	switch from {
	case ISBN10:
		if !Validate(ISBN10, value) {
			return "", "", false
		}
		if v, ok := ISBN10To13(value); ok {
			return ISBN, v, true
		}
	case ISBN:
		if !Validate(ISBN, value) {
			return "", "", false
		}
		if v, ok := ISBN13To10(value); ok {
			return ISBN10, v, true
		}
	}
	return "", "", false
}

// Detect inspects an arbitrary string for a book identifier: strips
// non-alphanumerics, uppercases, then tries ISBN-13, ISBN-10 (converted
// up to ISBN-13) and ASIN in that order.
func Detect(raw string) (Type, string, bool) {
	if raw == "" {
		return "", "", false
	}
	n := nonAlnumRe.ReplaceAllString(strings.ToUpper(raw), "")
	if Validate(ISBN, n) {
		return ISBN, n, true
	}
	if Validate(ISBN10, n) {
		if v, ok := ISBN10To13(n); ok {
			return ISBN, v, true
		}
		return "", "", false
	}
	if Validate(ASIN, n) {
		return ASIN, n, true
	}
	return "", "", false
}
