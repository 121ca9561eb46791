package ehentai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const galleryHTML = `<html><body>
<div id="gd2"><h1 id="gn">Sample Gallery</h1><h1 id="gj">サンプル</h1></div>
<div id="gdd"><table>
<tr><td class="gdt1">Posted:</td><td class="gdt2">2023-01-01 00:00</td></tr>
<tr><td class="gdt1">Length:</td><td class="gdt2">3 pages</td></tr>
</table></div>
<div id="taglist"><table><tr><td>
<div id="td_female:glasses"><a>glasses</a></div>
<div id="td_female:big_breasts"><a>big breasts</a></div>
<div id="td_language:translated"><a>translated</a></div>
</td></tr></table></div>
<table class="ptt"><tr><td>&lt;</td><td><a href="?p=0">1</a></td><td><a href="?p=1">2</a></td><td>&gt;</td></tr></table>
<div id="gdt">
<a href="https://e-hentai.org/s/aaa111/1001-1"><div title="Page 1: 01.jpg"></div></a>
<a href="https://e-hentai.org/s/bbb222/1001-2"><div title="Page 2: 02.png"></div></a>
</div>
<div id="gnd">Newer versions:<br><a href="https://e-hentai.org/g/1500/beef0001/">Sample Gallery v2</a>, added 2024-01-01</div>
</body></html>`

const galleryHTMLPage2 = `<html><body>
<h1 id="gn">Sample Gallery</h1>
<div id="gdd"><table><tr><td class="gdt1">Length:</td><td class="gdt2">3 pages</td></tr></table></div>
<table class="ptt"><tr><td>1</td><td>2</td></tr></table>
<div id="gdt"><a href="https://e-hentai.org/s/ccc333/1001-3"><img></a></div>
</body></html>`

const mpvHTML = `<html><head><script type="text/javascript">
var gid = 1001;
var mpvkey = "mk123";
var pagecount = 2;
var api_url = "%s/api.php";
var base_url = "%s/";
var imagelist = [{"n":"01.jpg","k":"k1","t":"(thumb1) -0px 0"},{"n":"02.png","k":"k2","t":"(thumb2) -100px 0"}];
</script></head><body></body></html>`

const singleHTML = `<html><body>
<div id="i1">
<div id="i2"><div class="sn"><div><span>2</span> / <span>3</span></div></div></div>
<div id="i3"><a><img id="img" src="%s/image/02.jpg"></a></div>
<div id="i4"><div>02.jpg :: 1280 x 1807 :: 343.5 KiB</div></div>
<div id="i6"><a href="%s/fullimg/1001/2/xyz/02.jpg">Download original 2400 x 3389 1.2 MiB source</a></div>
<a id="loadfail" href="#" onclick="return nl('43215-482914')">Reload broken image</a>
</div>
</body></html>`

func TestParseGalleryPage(t *testing.T) {
	p, err := ParseGalleryPage(galleryHTML)
	require.NoError(t, err)

	assert.Equal(t, "Sample Gallery", p.Name)
	assert.Equal(t, "サンプル", p.JapaneseName)
	assert.Equal(t, []string{"female:glasses", "female:big breasts", "language:translated"}, p.Tags)
	assert.Equal(t, 3, p.Length)
	assert.Equal(t, 2, p.ListingPages)
	assert.Equal(t, []PageRef{{Index: 1, Token: "aaa111", Name: "01.jpg"}, {Index: 2, Token: "bbb222", Name: "02.png"}}, p.Pages)
	assert.Equal(t, []GalleryRef{{GID: 1500, Token: "beef0001"}}, p.NewVersions)

	_, err = ParseGalleryPage("<html><body>This gallery has been removed.</body></html>")
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetchAllPages(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/g/1001/abcd1234/", r.URL.Path)
		if r.URL.Query().Get("p") == "1" {
			_, _ = io.WriteString(w, galleryHTMLPage2)
			return
		}
		_, _ = io.WriteString(w, galleryHTML)
	}))

	pages, err := c.FetchAllPages(context.Background(), 1001, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, []PageRef{
		{Index: 1, Token: "aaa111", Name: "01.jpg"},
		{Index: 2, Token: "bbb222", Name: "02.png"},
		{Index: 3, Token: "ccc333"},
	}, pages)
}

func TestMPV(t *testing.T) {
	var dispatched map[string]any
	var srvURL string
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mpv/1001/abcd1234/":
			_, _ = fmt.Fprintf(w, mpvHTML, srvURL, srvURL)
		case "/api.php":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&dispatched))
			writeJSON(w, map[string]any{
				"d":    "1280 x 1807 :: 343.5 KiB",
				"o":    "Download original 2400 x 3389 1.2 MiB source",
				"lf":   "fullimg/1001/2/xyz/02.png",
				"i":    srvURL + "/image/02.png",
				"s":    "43215-1",
				"xres": "1280",
				"yres": 1807,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	srvURL = srv.URL

	mpv, err := c.FetchMPVPage(context.Background(), 1001, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), mpv.GID)
	assert.Equal(t, "mk123", mpv.MPVKey)
	assert.Equal(t, 2, mpv.PageCount)
	assert.Equal(t, srv.URL+"/api.php", mpv.APIURL)
	require.Len(t, mpv.Images, 2)
	assert.Equal(t, MPVImage{Name: "02.png", Token: "k2", Thumbnail: "(thumb2) -100px 0"}, mpv.Images[1])

	d, err := c.FetchMPVImage(context.Background(), mpv, 2, "")
	require.NoError(t, err)
	assert.Equal(t, "imagedispatch", dispatched["method"])
	assert.Equal(t, "k2", dispatched["imgkey"])
	assert.Equal(t, float64(2), dispatched["page"])
	assert.NotContains(t, dispatched, "nl")

	assert.Equal(t, 1280, d.Width())
	assert.Equal(t, 1807, d.Height())
	assert.True(t, d.Resampled())
	assert.Equal(t, srv.URL+"/fullimg/1001/2/xyz/02.png", d.OriginalURL())
	w, h, ok := d.OriginalSize()
	assert.True(t, ok)
	assert.Equal(t, 2400, w)
	assert.Equal(t, 3389, h)

	_, err = c.FetchMPVImage(context.Background(), mpv, 3, "")
	assert.ErrorIs(t, err, ErrParse)

	_, err = ParseMPVPage("<html></html>")
	assert.ErrorIs(t, err, ErrParse)
}

func TestSinglePage(t *testing.T) {
	var srvURL, gotNL string
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/s/bbb222/1001-2", r.URL.Path)
		gotNL = r.URL.Query().Get("nl")
		_, _ = fmt.Fprintf(w, singleHTML, srvURL, srvURL)
	}))
	srvURL = srv.URL

	p, err := c.FetchSinglePage(context.Background(), 1001, "bbb222", 2, "43215-1")
	require.NoError(t, err)
	assert.Equal(t, "43215-1", gotNL)

	assert.Equal(t, "02.jpg", p.Name)
	assert.Equal(t, srv.URL+"/image/02.jpg", p.ImageURL)
	assert.Equal(t, 1280, p.Width)
	assert.Equal(t, 1807, p.Height)
	assert.Equal(t, srv.URL+"/fullimg/1001/2/xyz/02.jpg", p.OriginalURL)
	assert.Equal(t, 2400, p.OriginalWidth)
	assert.Equal(t, 3389, p.OriginalHeight)
	assert.Equal(t, "43215-482914", p.ReloadToken)

	_, err = ParseSinglePage("<html><body></body></html>")
	assert.ErrorIs(t, err, ErrParse)
}

const translationJSON = `{
  "version": 6,
  "head": {"sha": "abc"},
  "data": [
    {"namespace": "rows", "count": 1, "data": {"female": {"name": "女性", "intro": "", "links": ""}}},
    {"namespace": "female", "count": 2, "data": {
      "glasses": {"name": "眼镜", "intro": "戴眼镜", "links": ""},
      "big breasts": {"name": "巨乳", "intro": "", "links": ""}
    }}
  ]
}`

func TestTranslationDB(t *testing.T) {
	db, err := ParseTranslationDB([]byte(translationJSON))
	require.NoError(t, err)
	assert.Equal(t, 6, db.Version)
	assert.Equal(t, 3, db.Count())

	tags := db.Tags()
	require.Len(t, tags, 3)
	assert.Equal(t, "rows:female", tags[0].Tag)
	assert.Equal(t, "女性", tags[0].Translated)
	assert.Equal(t, "female:big breasts", tags[1].Tag)
	assert.Equal(t, "female:glasses", tags[2].Tag)
	assert.Equal(t, "戴眼镜", tags[2].Intro)

	path := filepath.Join(t.TempDir(), "db.text.json")
	require.NoError(t, os.WriteFile(path, []byte(translationJSON), 0o644))
	fromFile, err := LoadTranslationFile(path)
	require.NoError(t, err)
	assert.Equal(t, db.Count(), fromFile.Count())

	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Cookie"))
		_, _ = io.WriteString(w, translationJSON)
	}))
	c.base.Host = "content.invalid"
	fetched, err := c.FetchTranslationDB(context.Background(), srv.URL+"/db.text.json")
	require.NoError(t, err)
	assert.Equal(t, 3, fetched.Count())

	_, err = ParseTranslationDB([]byte("{"))
	assert.ErrorIs(t, err, ErrParse)
}
