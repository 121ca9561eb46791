package ehentai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageRef is one page as linked from a gallery listing.
type PageRef struct {
	Index int
	Token string

	// Name is the file name from the thumbnail title, when present.
	Name string
}

// GalleryPage is one listing page of a gallery.
type GalleryPage struct {
	Name         string
	JapaneseName string
	Tags         []string

	// Length is the number of pages of the gallery.
	Length int

	// Pages are the pages linked from this listing page.
	Pages []PageRef

	// ListingPages is how many listing pages the gallery has.
	ListingPages int

	// NewVersions lists newer versions of the gallery.
	NewVersions []GalleryRef
}

var (
	singleLinkRe  = regexp.MustCompile(`/s/([0-9a-f]+)/(\d+)-(\d+)`)
	galleryLinkRe = regexp.MustCompile(`/g/(\d+)/([0-9a-f]+)`)
	thumbTitleRe  = regexp.MustCompile(`^Page \d+:\s*(.+)$`)
	leadingIntRe  = regexp.MustCompile(`^\s*(\d+)`)
	dimsRe        = regexp.MustCompile(`(\d+)\s*x\s*(\d+)`)
	nlRe          = regexp.MustCompile(`nl\('([^']+)'\)`)
)

func parseDoc(body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}

// ParseGalleryPage extracts the gallery listing from html.
func ParseGalleryPage(html string) (*GalleryPage, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return nil, err
	}
	p := &GalleryPage{
		Name:         strings.TrimSpace(doc.Find("#gn").Text()),
		JapaneseName: strings.TrimSpace(doc.Find("#gj").Text()),
		ListingPages: 1,
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: gallery name not found", ErrParse)
	}

	doc.Find("[id^=td_]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		p.Tags = append(p.Tags, strings.ReplaceAll(strings.TrimPrefix(id, "td_"), "_", " "))
	})

	doc.Find("#gdd tr").Each(func(_ int, s *goquery.Selection) {
		key := strings.TrimSpace(s.Find(".gdt1").Text())
		if key != "Length:" {
			return
		}
		if m := leadingIntRe.FindStringSubmatch(s.Find(".gdt2").Text()); m != nil {
			p.Length, _ = strconv.Atoi(m[1])
		}
	})
	if p.Length == 0 {
		return nil, fmt.Errorf("%w: gallery length not found", ErrParse)
	}

	doc.Find("#gdt a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := singleLinkRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		index, _ := strconv.Atoi(m[3])
		ref := PageRef{Index: index, Token: m[1]}
		title, ok := s.Find("[title]").Attr("title")
		if !ok {
			title, _ = s.Attr("title")
		}
		if t := thumbTitleRe.FindStringSubmatch(title); t != nil {
			ref.Name = strings.TrimSpace(t[1])
		}
		p.Pages = append(p.Pages, ref)
	})

	doc.Find("#gnd a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if m := galleryLinkRe.FindStringSubmatch(href); m != nil {
			gid, _ := strconv.ParseInt(m[1], 10, 64)
			p.NewVersions = append(p.NewVersions, GalleryRef{GID: gid, Token: m[2]})
		}
	})

	doc.Find("table.ptt td").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > p.ListingPages {
			p.ListingPages = n
		}
	})
	return p, nil
}

// FetchGalleryPage fetches listing page number page (0-based) of a gallery.
func (c *Client) FetchGalleryPage(ctx context.Context, gid int64, token string, page int) (*GalleryPage, error) {
	u := c.url("/g/%d/%s/", gid, token)
	if page > 0 {
		u += "?p=" + strconv.Itoa(page)
	}
	body, err := c.getText(ctx, u)
	if err != nil {
		return nil, err
	}
	return ParseGalleryPage(body)
}

// FetchAllPages walks every listing page of a gallery and returns its pages
// ordered as listed.
func (c *Client) FetchAllPages(ctx context.Context, gid int64, token string) ([]PageRef, error) {
	first, err := c.FetchGalleryPage(ctx, gid, token, 0)
	if err != nil {
		return nil, err
	}
	pages := first.Pages
	for n := 1; n < first.ListingPages; n++ {
		p, err := c.FetchGalleryPage(ctx, gid, token, n)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p.Pages...)
	}
	return pages, nil
}

// MPVImage is one entry of the multi-page viewer image list.
type MPVImage struct {
	Name      string `json:"n"`
	Token     string `json:"k"`
	Thumbnail string `json:"t"`
}

// MPVPage is the multi-page viewer of a gallery.
type MPVPage struct {
	GID       int64
	MPVKey    string
	APIURL    string
	BaseURL   string
	PageCount int
	Images    []MPVImage
}

var (
	mpvIntRe       = regexp.MustCompile(`var\s+(gid|pagecount)\s*=\s*(\d+)\s*;`)
	mpvStringRe    = regexp.MustCompile(`var\s+(mpvkey|api_url|base_url)\s*=\s*"([^"]*)"\s*;`)
	mpvImageListRe = regexp.MustCompile(`(?s)var\s+imagelist\s*=\s*(\[.*?\])\s*;`)
)

// ParseMPVPage extracts the viewer variables from html.
func ParseMPVPage(html string) (*MPVPage, error) {
	p := &MPVPage{}
	for _, m := range mpvIntRe.FindAllStringSubmatch(html, -1) {
		n, _ := strconv.ParseInt(m[2], 10, 64)
		switch m[1] {
		case "gid":
			p.GID = n
		case "pagecount":
			p.PageCount = int(n)
		}
	}
	for _, m := range mpvStringRe.FindAllStringSubmatch(html, -1) {
		v := strings.ReplaceAll(m[2], `\/`, `/`)
		switch m[1] {
		case "mpvkey":
			p.MPVKey = v
		case "api_url":
			p.APIURL = v
		case "base_url":
			p.BaseURL = v
		}
	}
	m := mpvImageListRe.FindStringSubmatch(html)
	if m == nil {
		return nil, fmt.Errorf("%w: mpv image list not found", ErrParse)
	}
	if err := json.Unmarshal([]byte(m[1]), &p.Images); err != nil {
		return nil, fmt.Errorf("%w: mpv image list: %v", ErrParse, err)
	}
	if p.GID == 0 || p.MPVKey == "" || p.APIURL == "" {
		return nil, fmt.Errorf("%w: mpv variables missing", ErrParse)
	}
	return p, nil
}

// FetchMPVPage fetches the multi-page viewer of a gallery.
func (c *Client) FetchMPVPage(ctx context.Context, gid int64, token string) (*MPVPage, error) {
	body, err := c.getText(ctx, c.url("/mpv/%d/%s/", gid, token))
	if err != nil {
		return nil, err
	}
	return ParseMPVPage(body)
}

// flexInt decodes both JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// MPVDispatch is the image location of one page returned by imagedispatch.
type MPVDispatch struct {
	Image       string  `json:"i"`
	Description string  `json:"d"`
	Original    string  `json:"o"`
	FullImage   string  `json:"lf"`
	ReloadToken string  `json:"s"`
	XRes        flexInt `json:"xres"`
	YRes        flexInt `json:"yres"`

	baseURL string
}

// Width and Height are the dimensions of Image.
func (d *MPVDispatch) Width() int  { return int(d.XRes) }
func (d *MPVDispatch) Height() int { return int(d.YRes) }

// Resampled reports whether Image is smaller than the original upload.
func (d *MPVDispatch) Resampled() bool {
	return strings.HasPrefix(d.Original, "Download original")
}

// OriginalURL returns where the original image can be fetched, or "".
func (d *MPVDispatch) OriginalURL() string {
	if d.FullImage == "" {
		return ""
	}
	return resolve(d.baseURL, d.FullImage)
}

// OriginalSize parses the original dimensions out of the download hint.
func (d *MPVDispatch) OriginalSize() (width, height int, ok bool) {
	if !d.Resampled() {
		return d.Width(), d.Height(), d.XRes > 0
	}
	return parseDims(d.Original)
}

// FetchMPVImage resolves page index of an MPV gallery. reloadToken asks
// the host for another image server after a failed fetch.
func (c *Client) FetchMPVImage(ctx context.Context, mpv *MPVPage, index int, reloadToken string) (*MPVDispatch, error) {
	if index < 1 || index > len(mpv.Images) {
		return nil, fmt.Errorf("%w: page %d outside 1..%d", ErrParse, index, len(mpv.Images))
	}
	req := map[string]any{
		"method": "imagedispatch",
		"gid":    mpv.GID,
		"page":   index,
		"imgkey": mpv.Images[index-1].Token,
		"mpvkey": mpv.MPVKey,
	}
	if reloadToken != "" {
		req["nl"] = reloadToken
	}
	out := &MPVDispatch{baseURL: mpv.BaseURL}
	if err := c.postJSON(ctx, mpv.APIURL, req, out); err != nil {
		return nil, err
	}
	if out.Image == "" {
		return nil, fmt.Errorf("%w: no image for page %d", ErrParse, index)
	}
	return out, nil
}

// SinglePage is the viewer page of one image.
type SinglePage struct {
	Name        string
	ImageURL    string
	Width       int
	Height      int
	OriginalURL string

	// OriginalWidth and OriginalHeight are set when the image is resampled.
	OriginalWidth  int
	OriginalHeight int

	ReloadToken string
}

// ParseSinglePage extracts the image of a single page viewer.
func ParseSinglePage(html string) (*SinglePage, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return nil, err
	}
	p := &SinglePage{}
	src, ok := doc.Find("#img").Attr("src")
	if !ok || src == "" {
		return nil, fmt.Errorf("%w: image url not found", ErrParse)
	}
	p.ImageURL = src

	info := doc.Find("#i4 > div").First().Text()
	if parts := strings.Split(info, "::"); len(parts) >= 2 {
		p.Name = strings.TrimSpace(parts[0])
		p.Width, p.Height, _ = parseDims(parts[1])
	}

	doc.Find(`#i6 a[href*="fullimg"], #i7 a`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if href == "" {
			return true
		}
		p.OriginalURL = href
		p.OriginalWidth, p.OriginalHeight, _ = parseDims(s.Text())
		return false
	})

	if onclick, ok := doc.Find("#loadfail").Attr("onclick"); ok {
		if m := nlRe.FindStringSubmatch(onclick); m != nil {
			p.ReloadToken = m[1]
		}
	}
	return p, nil
}

// FetchSinglePage fetches the viewer of page index of gid. reloadToken asks
// the host for another image server after a failed fetch.
func (c *Client) FetchSinglePage(ctx context.Context, gid int64, pageToken string, index int, reloadToken string) (*SinglePage, error) {
	u := c.url("/s/%s/%d-%d", pageToken, gid, index)
	if reloadToken != "" {
		u += "?nl=" + url.QueryEscape(reloadToken)
	}
	body, err := c.getText(ctx, u)
	if err != nil {
		return nil, err
	}
	return ParseSinglePage(body)
}

func parseDims(s string) (width, height int, ok bool) {
	m := dimsRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	return width, height, true
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
