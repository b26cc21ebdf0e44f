// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bureau-foundation/matrixbot/lib/netutil"
	"github.com/bureau-foundation/matrixbot/lib/version"
)

// DefaultMediaMaxBytes bounds a downloaded image.
const DefaultMediaMaxBytes int64 = 20 << 20

// fetchedImage is a downloaded image with its decoded metadata.
type fetchedImage struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

func (f *fetchedImage) reader() io.Reader { return bytes.NewReader(f.Data) }

// MediaFetcher downloads images for SendMedia.
type MediaFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func newMediaFetcher(client *http.Client, maxBytes int64, logger *slog.Logger) *MediaFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMediaMaxBytes
	}
	return &MediaFetcher{client: client, maxBytes: maxBytes, logger: logger}
}

// Fetch downloads url and identifies it as an image. The MIME type
// comes from the content, not the server's Content-Type.
func (f *MediaFetcher) Fetch(ctx context.Context, url string) (*fetchedImage, error) {
	f.logger.Debug("downloading media", "url", url)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("adapter: media request: %w", err)
	}
	request.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("adapter: downloading %s: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adapter: downloading %s: HTTP %d", url, response.StatusCode)
	}
	data, err := netutil.ReadLimited(response.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("adapter: downloading %s: %w", url, err)
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, fmt.Errorf("adapter: %s is %s, not an image", url, detected.String())
	}
	// Registered decoders name their formats "jpeg", "png" and "gif",
	// which are also the MIME subtypes.
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("adapter: reading dimensions of %s: %w", url, err)
	}

	f.logger.Debug("downloaded image",
		"url", url,
		"format", format,
		"width", config.Width,
		"height", config.Height,
		"size", len(data),
	)
	return &fetchedImage{
		Data:     data,
		MimeType: "image/" + format,
		Width:    config.Width,
		Height:   config.Height,
	}, nil
}
