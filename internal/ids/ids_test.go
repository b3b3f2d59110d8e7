package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDigit10(t *testing.T) {
	tests := []struct {
		first9 string
		want   string
	}{
		{"074753269", "9"}, // Harry Potter and the Philosopher's Stone
		{"030640615", "2"},
		{"043942089", "X"},
	}
	for _, tt := range tests {
		got, err := CheckDigit10(tt.first9)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "check digit for %s", tt.first9)
	}

	_, err := CheckDigit10("12345")
	assert.Error(t, err)
}

func TestCheckDigit13(t *testing.T) {
	tests := []struct {
		first12 string
		want    string
	}{
		{"978074753269", "9"},
		{"978030640615", "7"},
		{"978000000000", "2"},
	}
	for _, tt := range tests {
		got, err := CheckDigit13(tt.first12)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "check digit for %s", tt.first12)
	}

	_, err := CheckDigit13("978")
	assert.Error(t, err)
}

func TestISBNConversionRoundTrip(t *testing.T) {
	isbn13, ok := ISBN10To13("0747532699")
	require.True(t, ok)
	assert.Equal(t, "9780747532699", isbn13)

	// the produced value's own check digit must match
	d, err := CheckDigit13(isbn13[:12])
	require.NoError(t, err)
	assert.Equal(t, string(isbn13[12]), d)

	isbn10, ok := ISBN13To10(isbn13)
	require.True(t, ok)
	assert.Equal(t, "0747532699", isbn10)

	back, ok := ISBN10To13(isbn10)
	require.True(t, ok)
	assert.Equal(t, isbn13, back)
}

func TestISBN13To10RejectsNon978(t *testing.T) {
	_, ok := ISBN13To10("9791234567896")
	assert.False(t, ok)
}

func TestUPCToGTIN13(t *testing.T) {
	got, ok := UPCToGTIN13("724385522918")
	require.True(t, ok)
	assert.Equal(t, "0724385522918", got)

	// idempotent on its own output
	again, ok := UPCToGTIN13(got)
	require.True(t, ok)
	assert.Equal(t, got, again)

	// longer values only shrink when the prefix is zeros
	got, ok = UPCToGTIN13("00724385522918")
	require.True(t, ok)
	assert.Equal(t, "0724385522918", got)

	_, ok = UPCToGTIN13("90724385522918")
	assert.False(t, ok)

	_, ok = UPCToGTIN13("not-a-barcode")
	assert.False(t, ok)

	_, ok = UPCToGTIN13("")
	assert.False(t, ok)
}

func TestDetect(t *testing.T) {
	typ, v, ok := Detect("0747532699")
	require.True(t, ok)
	assert.Equal(t, ISBN, typ)
	assert.Equal(t, "9780747532699", v)

	typ, v, ok = Detect("978-0-7475-3269-9")
	require.True(t, ok)
	assert.Equal(t, ISBN, typ)
	assert.Equal(t, "9780747532699", v)

	typ, v, ok = Detect("b00005n5pf")
	require.True(t, ok)
	assert.Equal(t, ASIN, typ)
	assert.Equal(t, "B00005N5PF", v)

	// failing checksum is never a match
	_, _, ok = Detect("9780747532740")
	assert.False(t, ok)
	_, _, ok = Detect("0747532690")
	assert.False(t, ok)
	_, _, ok = Detect("")
	assert.False(t, ok)
	_, _, ok = Detect("The Prisoner of Azkaban")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		typ   Type
		value string
		want  bool
	}{
		{ISBN, "9780747532699", true},
		{ISBN, "9780747532740", false},
		{ISBN10, "0747532699", true},
		{ISBN10, "074753269X", false},
		{ISBN10, "043942089X", true},
		{ASIN, "B00005N5PF", true},
		{ASIN, "C00005N5PF", false},
		{GTIN, "0724385522918", true},
		{GTIN, "724385522918", false},
		{IMDB, "tt0241527", true},
		{IMDB, "nm0241527", false},
		{MusicBrainzRelease, "18d4e9b4-9247-4b44-914a-8ddec3502103", true},
		{MusicBrainzRelease, "not-a-uuid", false},
		{OpenLibrary, "OL7353617M", true},
		{OpenLibrary, "OL45883W", false},
		{OpenLibraryWork, "OL45883W", true},
		{ISRC, "USRC17607839", true},
		{Steam, "440", true},
		{Steam, "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Validate(tt.typ, tt.value), "%s %q", tt.typ, tt.value)
	}
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(ISBN, " 0-7475-3269-9 ")
	require.NoError(t, err)
	assert.Equal(t, "9780747532699", v)

	v, err = Normalize(GTIN, "724385522918")
	require.NoError(t, err)
	assert.Equal(t, "0724385522918", v)

	v, err = Normalize(MusicBrainzRelease, "18D4E9B4-9247-4B44-914A-8DDEC3502103")
	require.NoError(t, err)
	assert.Equal(t, "18d4e9b4-9247-4b44-914a-8ddec3502103", v)

	_, err = Normalize(ISBN, "garbage")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ISBN, verr.Type)
}

func TestConvert(t *testing.T) {
	typ, v, ok := Convert(ISBN10, "0747532699")
	require.True(t, ok)
	assert.Equal(t, ISBN, typ)
	assert.Equal(t, "9780747532699", v)

	typ, v, ok = Convert(ISBN, "9780747532699")
	require.True(t, ok)
	assert.Equal(t, ISBN10, typ)
	assert.Equal(t, "0747532699", v)

	_, _, ok = Convert(ISBN, "9791234567896")
	assert.False(t, ok)

	_, _, ok = Convert(ASIN, "B00005N5PF")
	assert.False(t, ok)
}
