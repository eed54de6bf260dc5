// Package discovery finds icon links in an HTML page.
package discovery

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"roundicon/internal/fetch"
	"roundicon/pkg/logger"
)

// MaxHTMLBytes is how much of a page is parsed.
const MaxHTMLBytes = 1 << 20

// Candidate ranks, lowest first.
const (
	RankScalable = iota // SVG or sizes="any"
	RankSized
	RankUnsized
	RankRoot // /favicon.ico at the site root
)

type Candidate struct {
	URL   string
	Type  string
	Sizes []int // declared edges
	Apple bool
	Rank  int
}

// Largest returns the largest declared edge, or 0.
func (c Candidate) Largest() int {
	if len(c.Sizes) == 0 {
		return 0
	}
	return slices.Max(c.Sizes)
}

// Candidates returns the icons page declares, best first, followed by the
// root favicon. URLs are resolved against <base href> or pageURL.
func Candidates(pageURL *url.URL, page []byte) []Candidate {
	if len(page) > MaxHTMLBytes {
		page = page[:MaxHTMLBytes]
	}

	var cands []Candidate
	if root, err := html.Parse(bytes.NewReader(page)); err != nil {
		logger.Warn("Failed to parse HTML for %s: %v", pageURL, err)
	} else {
		cands = collect(root, pageURL)
	}

	rootURL := &url.URL{Scheme: pageURL.Scheme, Host: pageURL.Host, Path: "/favicon.ico"}
	cands = append(cands, Candidate{URL: rootURL.String(), Type: "image/x-icon", Rank: RankRoot})

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Rank != cands[j].Rank {
			return cands[i].Rank < cands[j].Rank
		}
		return cands[i].Largest() > cands[j].Largest()
	})

	seen := make(map[string]struct{}, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		k := CanonicalizeURLString(c.URL)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		c.URL = k
		out = append(out, c)
	}

	logger.Debug("Discovered %d icon candidates for %s", len(out), pageURL)
	return out
}

func collect(root *html.Node, pageURL *url.URL) []Candidate {
	base := pageURL
	var out []Candidate

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "base":
				if href := attr(n, "href"); href != "" {
					if bu, err := url.Parse(href); err == nil {
						base = pageURL.ResolveReference(bu)
					}
				}
			case "link":
				if c, ok := linkCandidate(n, base); ok {
					out = append(out, c)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func linkCandidate(n *html.Node, base *url.URL) (Candidate, bool) {
	rel := strings.ToLower(attr(n, "rel"))
	href := attr(n, "href")
	if rel == "" || href == "" {
		return Candidate{}, false
	}

	isIcon, isApple := false, false
	for _, tok := range strings.Fields(rel) {
		switch tok {
		case "icon":
			isIcon = true
		case "apple-touch-icon", "apple-touch-icon-precomposed":
			isApple = true
		}
	}
	if !isIcon && !isApple {
		return Candidate{}, false
	}

	ru, err := url.Parse(href)
	if err != nil {
		return Candidate{}, false
	}
	resolved := base.ResolveReference(ru)
	if !fetch.IsAllowedScheme(resolved) {
		return Candidate{}, false
	}

	typ := strings.ToLower(attr(n, "type"))
	sizes, anySize := parseSizes(strings.ToLower(attr(n, "sizes")))
	c := Candidate{
		URL:   resolved.String(),
		Type:  typ,
		Sizes: sizes,
		Apple: isApple && !isIcon,
	}
	switch {
	case anySize || IsSVG(typ, c.URL):
		c.Rank = RankScalable
	case len(sizes) > 0:
		c.Rank = RankSized
	default:
		c.Rank = RankUnsized
	}
	return c, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func parseSizes(s string) (edges []int, anySize bool) {
	for _, p := range strings.Fields(s) {
		if p == "any" {
			anySize = true
			continue
		}
		w, h, ok := strings.Cut(p, "x")
		if !ok {
			continue
		}
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if err1 == nil && err2 == nil && wi > 0 && hi > 0 {
			edges = append(edges, max(wi, hi))
		}
	}
	return edges, anySize
}

// CanonicalizeURLString normalizes a URL string for comparison: no fragment,
// lower-case scheme and host, default ports dropped, clean path and sorted
// query parameters.
func CanonicalizeURLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	h := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		h += ":" + port
	}
	u.Host = h
	if u.Path == "" {
		u.Path = "/"
	}
	u.Path = path.Clean(u.Path)
	if u.RawQuery != "" {
		q, _ := url.ParseQuery(u.RawQuery)
		// Encode sorts by key.
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// IsSVG reports whether a declared type or URL extension names SVG.
func IsSVG(contentType, srcURL string) bool {
	ct, _, _ := mime.ParseMediaType(contentType)
	if ct == "image/svg+xml" {
		return true
	}
	if u, err := url.Parse(srcURL); err == nil {
		srcURL = u.Path
	}
	return strings.EqualFold(path.Ext(srcURL), ".svg")
}

// LooksLikeHTML reports whether a response is an HTML page rather than an
// image.
func LooksLikeHTML(b []byte, contentType string) bool {
	if contentType != "" {
		ct, _, _ := mime.ParseMediaType(contentType)
		if strings.Contains(ct, "html") {
			return true
		}
	}
	if len(b) > 512 {
		b = b[:512]
	}
	s := strings.ToLower(string(bytes.TrimSpace(b)))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}
