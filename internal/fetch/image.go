package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
)

// extByContentType maps normalized image media types to file extensions.
var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

// DownloadImage fetches a cover image and validates that the payload
// actually decodes as an image. It returns the raw bytes and a file
// extension derived from the content type. Cover download is best-effort
// for callers: they log and continue on error rather than failing a
// resolution.
func DownloadImage(ctx context.Context, d Downloader, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("empty image url")
	}

	resp, err := d.Download(ctx, Request{URL: url})
	if err != nil {
		return nil, "", err
	}

	ct := resp.NormalizedContentType()
	ext, ok := extByContentType[ct]
	if !ok {
		return nil, "", &DownloadError{URL: url, Kind: KindInvalidContent, Err: fmt.Errorf("not an image: %s", ct)}
	}

	if _, err := imaging.Decode(bytes.NewReader(resp.Body)); err != nil {
		return nil, "", &DownloadError{URL: url, Kind: KindInvalidContent, Err: fmt.Errorf("decode image: %w", err)}
	}

	slog.Debug("downloaded image", "url", url, "size", len(resp.Body), "ext", ext)
	return resp.Body, ext, nil
}
