// Package source resolves a remote URL to image bytes, discovering the page
// icon when the URL points at an HTML document.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"roundicon/internal/discovery"
	"roundicon/internal/fetch"
	imgpkg "roundicon/internal/image"
	"roundicon/pkg/logger"
)

// ErrNoImage is returned when neither the URL nor any icon it links to
// decodes as an image.
var ErrNoImage = errors.New("no decodable image found")

// Image is a downloaded image ready for decoding.
type Image struct {
	Data []byte
	Stem string   // output file stem
	URL  *url.URL // where the bytes came from
}

// Getter is satisfied by *fetch.Client.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

var _ Getter = (*fetch.Client)(nil)

// IsURL reports whether s should be fetched rather than opened as a file.
func IsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Fetch downloads rawURL. An HTML response is searched for icon links,
// which are tried best first until one decodes.
func Fetch(ctx context.Context, client Getter, rawURL string) (*Image, error) {
	resp, err := client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if !discovery.LooksLikeHTML(resp.Body, resp.ContentType) {
		if _, _, err := imgpkg.Decode(resp.Body); err != nil {
			return nil, fmt.Errorf("%s: %w", resp.URL, err)
		}
		return &Image{Data: resp.Body, Stem: StemFromURL(resp.URL), URL: resp.URL}, nil
	}

	pageStem := StemFromURL(resp.URL)
	var lastErr error
	for _, c := range discovery.Candidates(resp.URL, resp.Body) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		icon, err := client.Get(ctx, c.URL)
		if err != nil {
			lastErr = err
			continue
		}
		if discovery.LooksLikeHTML(icon.Body, icon.ContentType) {
			lastErr = fmt.Errorf("%s: got HTML", c.URL)
			continue
		}
		if _, _, err := imgpkg.Decode(icon.Body); err != nil {
			logger.Debug("Candidate %s does not decode: %v", c.URL, err)
			lastErr = err
			continue
		}
		logger.Info("Using icon %s for %s", icon.URL, resp.URL)
		return &Image{Data: icon.Body, Stem: pageStem, URL: icon.URL}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w on %s: %v", ErrNoImage, resp.URL, lastErr)
	}
	return nil, fmt.Errorf("%w on %s", ErrNoImage, resp.URL)
}

// StemFromURL names outputs after the last path element, falling back to
// the host.
func StemFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base != "." && base != "/" {
		if stem := strings.TrimSuffix(base, path.Ext(base)); stem != "" {
			return sanitize(stem)
		}
	}
	if host := u.Hostname(); host != "" {
		return sanitize(host)
	}
	return "image"
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
