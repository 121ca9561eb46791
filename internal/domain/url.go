package domain

import (
	"net/url"
	"regexp"
	"strconv"
)

// URLType distinguishes the supported link shapes.
type URLType int

const (
	URLTypeGallery URLType = iota
	URLTypeMPV
	URLTypeSingle
)

// ParsedURL is the gallery reference extracted from a link.
// Index is only set for single-page links.
type ParsedURL struct {
	Type  URLType
	GID   int64
	Token string
	Index int
}

var (
	singlePageRe = regexp.MustCompile(`s/([^/]+)/(\d+)-(\d+)`)
	galleryRe    = regexp.MustCompile(`(g|mpv)/(\d+)/([^/]+)`)
)

// ParseURL recognises /g/<gid>/<token>, /mpv/<gid>/<token> and
// /s/<page token>/<gid>-<index> on either host. Relative paths resolve
// against e-hentai.org.
func ParseURL(raw string) (*ParsedURL, error) {
	base, _ := url.Parse("https://e-hentai.org/")
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, NewValidationError("url", raw, ErrInvalidURL)
	}
	u := base.ResolveReference(ref)
	if u.Hostname() != "e-hentai.org" && u.Hostname() != "exhentai.org" {
		return nil, NewValidationError("url", "unsupported host "+u.Hostname(), ErrInvalidURL)
	}
	if m := singlePageRe.FindStringSubmatch(u.Path); m != nil {
		gid, _ := strconv.ParseInt(m[2], 10, 64)
		index, _ := strconv.Atoi(m[3])
		return &ParsedURL{Type: URLTypeSingle, GID: gid, Token: m[1], Index: index}, nil
	}
	if m := galleryRe.FindStringSubmatch(u.Path); m != nil {
		gid, _ := strconv.ParseInt(m[2], 10, 64)
		t := URLTypeGallery
		if m[1] == "mpv" {
			t = URLTypeMPV
		}
		return &ParsedURL{Type: t, GID: gid, Token: m[3]}, nil
	}
	return nil, NewValidationError("url", raw, ErrInvalidURL)
}
