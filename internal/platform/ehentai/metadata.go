package ehentai

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"

	"github.com/phrazzld/eharchive/internal/domain"
)

// GalleryRef names a gallery by id and token.
type GalleryRef struct {
	GID   int64
	Token string
}

// MarshalJSON encodes the ref as the [gid, "token"] pair the API expects.
func (r GalleryRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.GID, r.Token})
}

// GalleryMetadata is one gallery as returned by the gdata API. Numeric
// fields the API sends as strings are kept as strings here.
type GalleryMetadata struct {
	GID       int64    `json:"gid"`
	Token     string   `json:"token"`
	Title     string   `json:"title"`
	TitleJpn  string   `json:"title_jpn"`
	Category  string   `json:"category"`
	Thumb     string   `json:"thumb"`
	Uploader  string   `json:"uploader"`
	Posted    string   `json:"posted"`
	Filecount string   `json:"filecount"`
	Filesize  int64    `json:"filesize"`
	Expunged  bool     `json:"expunged"`
	Rating    string   `json:"rating"`
	Tags      []string `json:"tags"`
	ParentGID string   `json:"parent_gid,omitempty"`
	ParentKey string   `json:"parent_key,omitempty"`
	FirstGID  string   `json:"first_gid,omitempty"`
	FirstKey  string   `json:"first_key,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// GMeta converts the API record into a catalog row.
func (m GalleryMetadata) GMeta() (*domain.GMeta, error) {
	g := &domain.GMeta{
		GID:      m.GID,
		Token:    m.Token,
		Title:    html.UnescapeString(m.Title),
		TitleJpn: html.UnescapeString(m.TitleJpn),
		Category: m.Category,
		Uploader: m.Uploader,
		Filesize: m.Filesize,
		Expunged: m.Expunged,
	}
	var err error
	if g.Posted, err = strconv.ParseInt(m.Posted, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: posted %q of gallery %d", ErrParse, m.Posted, m.GID)
	}
	if g.Filecount, err = strconv.Atoi(m.Filecount); err != nil {
		return nil, fmt.Errorf("%w: filecount %q of gallery %d", ErrParse, m.Filecount, m.GID)
	}
	if g.Rating, err = strconv.ParseFloat(m.Rating, 64); err != nil {
		return nil, fmt.Errorf("%w: rating %q of gallery %d", ErrParse, m.Rating, m.GID)
	}
	if m.ParentGID != "" {
		gid, err := strconv.ParseInt(m.ParentGID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parent_gid %q of gallery %d", ErrParse, m.ParentGID, m.GID)
		}
		key := m.ParentKey
		g.ParentGID, g.ParentKey = &gid, &key
	}
	if m.FirstGID != "" {
		gid, err := strconv.ParseInt(m.FirstGID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: first_gid %q of gallery %d", ErrParse, m.FirstGID, m.GID)
		}
		key := m.FirstKey
		g.FirstGID, g.FirstKey = &gid, &key
	}
	return g, nil
}

// MetadataResult is the outcome for one gallery of a metadata request.
// Exactly one of Meta and Err is set.
type MetadataResult struct {
	Meta *GalleryMetadata
	Err  error
}

// FetchMetadata asks the API for up to MaxMetadataBatch galleries. Per
// gallery failures reported by the API are returned in the map rather than
// as the error; galleries missing from the answer have no entry.
func (c *Client) FetchMetadata(ctx context.Context, refs ...GalleryRef) (map[int64]MetadataResult, error) {
	if len(refs) > MaxMetadataBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyGalleries, len(refs), MaxMetadataBatch)
	}
	req := struct {
		Method    string       `json:"method"`
		GIDList   []GalleryRef `json:"gidlist"`
		Namespace int          `json:"namespace"`
	}{Method: "gdata", GIDList: refs, Namespace: 1}

	var resp struct {
		GMetadata []GalleryMetadata `json:"gmetadata"`
	}
	if err := c.postJSON(ctx, c.api, req, &resp); err != nil {
		return nil, err
	}

	out := make(map[int64]MetadataResult, len(resp.GMetadata))
	for i := range resp.GMetadata {
		m := resp.GMetadata[i]
		if m.Error != "" {
			out[m.GID] = MetadataResult{Err: fmt.Errorf("gallery %d: %s", m.GID, m.Error)}
			continue
		}
		out[m.GID] = MetadataResult{Meta: &m}
	}
	return out, nil
}

// FetchGalleryToken resolves the gallery token from a page token, as found
// in single page links.
func (c *Client) FetchGalleryToken(ctx context.Context, gid int64, pageToken string, index int) (string, error) {
	req := struct {
		Method   string  `json:"method"`
		PageList [][]any `json:"pagelist"`
	}{Method: "gtoken", PageList: [][]any{{gid, pageToken, index}}}

	var resp struct {
		TokenList []struct {
			GID   int64  `json:"gid"`
			Token string `json:"token"`
			Error string `json:"error"`
		} `json:"tokenlist"`
		Error string `json:"error"`
	}
	if err := c.postJSON(ctx, c.api, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("gallery token of %d: %s", gid, resp.Error)
	}
	for _, t := range resp.TokenList {
		if t.GID != gid {
			continue
		}
		if t.Error != "" {
			return "", fmt.Errorf("gallery token of %d: %s", gid, t.Error)
		}
		return t.Token, nil
	}
	return "", fmt.Errorf("%w: no token for gallery %d", ErrParse, gid)
}
