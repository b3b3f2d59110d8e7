package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	assert.Equal(t, 15*time.Second, DownloadTimeout())
	assert.Equal(t, 3, DownloadRetries())
	assert.Equal(t, []string{"en"}, PreferredLanguages())
	assert.Equal(t, "en", DefaultLanguage())
	assert.Equal(t, 5*time.Second, SearchTimeout())
	assert.Equal(t, 10, SearchPageSize())
	assert.Equal(t, DefaultUserAgent, UserAgent())
}

func TestOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("languages.preferred", []string{"ja", "en"})
	viper.Set("languages.default", "ja")
	viper.Set("downloader.timeout", "3s")
	viper.Set("downloader.useragent", "test-agent/0.1")
	viper.Set("search.pagesize", 5)

	assert.Equal(t, []string{"ja", "en"}, PreferredLanguages())
	assert.Equal(t, "ja", DefaultLanguage())
	assert.Equal(t, 3*time.Second, DownloadTimeout())
	assert.Equal(t, "test-agent/0.1", UserAgent())
	assert.Equal(t, 5, SearchPageSize())
}
