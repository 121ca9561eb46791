package domain

import (
	"path/filepath"
	"strings"
)

// GMeta is the catalog row of one gallery.
// ParentGID/ParentKey and FirstGID/FirstKey link a gallery into its version chain.
type GMeta struct {
	GID       int64   `json:"gid"`
	Token     string  `json:"token"`
	Title     string  `json:"title"`
	TitleJpn  string  `json:"title_jpn"`
	Category  string  `json:"category"`
	Uploader  string  `json:"uploader"`
	Posted    int64   `json:"posted"`
	Filecount int     `json:"filecount"`
	Filesize  int64   `json:"filesize"`
	Expunged  bool    `json:"expunged"`
	Rating    float64 `json:"rating"`
	ParentGID *int64  `json:"parent_gid"`
	ParentKey *string `json:"parent_key"`
	FirstGID  *int64  `json:"first_gid"`
	FirstKey  *string `json:"first_key"`
}

// Validate checks the fields the catalog relies on.
func (g *GMeta) Validate() error {
	if g.GID <= 0 {
		return NewValidationError("gid", "must be positive", ErrInvalidGID)
	}
	if g.Token == "" {
		return NewValidationError("token", "cannot be empty", ErrInvalidToken)
	}
	return nil
}

// PreferredTitle returns the Japanese title when requested and present.
func (g *GMeta) PreferredTitle(jpn bool) string {
	if jpn && g.TitleJpn != "" {
		return g.TitleJpn
	}
	return g.Title
}

// PMeta is one page of a gallery. (GID, Index) is unique.
type PMeta struct {
	GID    int64  `json:"gid"`
	Index  int    `json:"index"`
	Token  string `json:"token"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// File is a physical image on disk. Several files can share one page token,
// for example a sampled copy and the original.
type File struct {
	ID         int64  `json:"id"`
	Token      string `json:"token"`
	Path       string `json:"path"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	IsOriginal bool   `json:"is_original"`
}

// FileMeta holds per-token flags set by users.
type FileMeta struct {
	Token  string `json:"token"`
	IsNSFW bool   `json:"is_nsfw"`
	IsAd   bool   `json:"is_ad"`
}

// Tag is a global catalog tag such as "female:glasses".
type Tag struct {
	ID         int64  `json:"id"`
	Tag        string `json:"tag"`
	Translated string `json:"translated,omitempty"`
	Intro      string `json:"intro,omitempty"`
}

// Namespace returns the part of the tag before the colon, or "" when untagged.
func (t Tag) Namespace() string {
	if i := strings.IndexByte(t.Tag, ':'); i >= 0 {
		return t.Tag[:i]
	}
	return ""
}

// GalleryTag associates a tag with a gallery.
type GalleryTag struct {
	GID int64 `json:"gid"`
	ID  int64 `json:"id"`
}

// AddSuffixToPath inserts "-suffix" between a file name and its extension.
func AddSuffixToPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + suffix + ext
}
