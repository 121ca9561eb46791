package executor

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/platform/ehentai"
	"github.com/phrazzld/eharchive/internal/task"
)

// Download fetches a gallery from the host into the catalog.
type Download struct {
	deps Deps
}

// downloadPage is one page to fetch. Name may be empty until the page
// viewer was loaded.
type downloadPage struct {
	Index int
	Token string
	Name  string
}

// Execute stores the gallery metadata, lists the pages and downloads every
// page that has no usable file yet.
func (e *Download) Execute(ctx context.Context, t domain.Task, h task.Host) error {
	log := e.deps.taskLogger(t)
	cfg, err := task.DecodeDetails(t, e.deps.Defaults.download())
	if err != nil {
		return err
	}
	if cfg.MaxDownloadImgCount <= 0 {
		cfg.MaxDownloadImgCount = e.deps.Defaults.MaxDownloadImgCount
	}
	log.Info("downloading gallery", "mpv", cfg.MPV, "original", cfg.DownloadOriginalImg)

	g, err := e.deps.storeGallery(ctx, t.GID, t.Token)
	if err != nil {
		return err
	}

	var mpv *ehentai.MPVPage
	var pages []downloadPage
	if cfg.MPV {
		mpv, err = e.deps.Remote.FetchMPVPage(ctx, t.GID, t.Token)
		if err != nil {
			return task.Recoverable(fmt.Errorf("fetch mpv page: %w", err))
		}
		for i, img := range mpv.Images {
			pages = append(pages, downloadPage{Index: i + 1, Token: img.Token, Name: img.Name})
		}
	} else {
		refs, err := e.deps.Remote.FetchAllPages(ctx, t.GID, t.Token)
		if err != nil {
			return task.Recoverable(fmt.Errorf("fetch gallery pages: %w", err))
		}
		for _, r := range refs {
			pages = append(pages, downloadPage{Index: r.Index, Token: r.Token, Name: r.Name})
		}
	}

	names := make([]string, 0, len(pages))
	for _, p := range pages {
		names = append(names, p.Name)
	}
	d := &pageDownloader{
		deps:  &e.deps,
		gid:   t.GID,
		cfg:   cfg,
		mpv:   mpv,
		dir:   e.deps.galleryDir(t.GID),
		names: countNames(names),
		progress: newReporter(h, t, task.DownloadProgress{
			TotalPage: len(pages),
			Started:   time.Now().UnixMilli(),
		}),
	}
	d.progress.clone = cloneDownloadProgress
	d.progress.Flush()

	pool := NewPagePool(ctx, h.AbortContext(), cfg.MaxDownloadImgCount, cfg.MaxRetryCount, log, func(err error) {
		d.progress.Update(func(p *task.DownloadProgress) {
			if err != nil {
				p.FailedPage++
			} else {
				p.DownloadedPage++
			}
		})
	})
	for _, p := range pages {
		var reload string
		if !pool.Go(strconv.Itoa(p.Index), func(ctx context.Context) error {
			return d.page(ctx, p, &reload)
		}) {
			break
		}
	}
	pool.Wait()
	d.progress.Flush()

	if err := pool.Err(); err != nil {
		return err
	}
	if cfg.RemovePreviousGallery {
		if err := e.deps.removePreviousGalleries(ctx, g, nil, log); err != nil {
			return err
		}
	}
	log.Info("gallery downloaded", "pages", len(pages))
	return nil
}

type pageDownloader struct {
	deps     *Deps
	gid      int64
	cfg      task.DownloadConfig
	mpv      *ehentai.MPVPage
	dir      string
	names    map[string]int
	progress *reporter[task.DownloadProgress]
}

// resolvedImage is the location and shape of the file to fetch for a page.
type resolvedImage struct {
	URL        string
	Name       string
	Width      int
	Height     int
	IsOriginal bool
	Reload     string
}

// page downloads one page. reload carries the host's reload token from a
// failed attempt to the next one.
func (d *pageDownloader) page(ctx context.Context, p downloadPage, reload *string) error {
	done, err := d.reuse(ctx, p)
	if err != nil || done {
		return err
	}

	img, err := d.resolve(ctx, p, *reload)
	if err != nil {
		return err
	}

	path := filepath.Join(d.dir, img.Name)
	if p.Name != "" && d.names[p.Name] > 1 {
		path = domain.AddSuffixToPath(path, p.Token)
	}

	d.startDetail(p, img)
	defer d.endDetail(p.Index)

	var last int64
	_, err = d.deps.Remote.Download(ctx, img.URL, path, func(written, total int64) {
		delta := written - last
		last = written
		d.progress.Update(func(pr *task.DownloadProgress) {
			pr.DownloadedBytes += delta
			for i := range pr.Details {
				det := &pr.Details[i]
				if det.Index != p.Index {
					continue
				}
				now := time.Now().UnixMilli()
				det.Downloaded = written
				det.Total = total
				det.LastUpdated = now
				if elapsed := now - det.Started; elapsed > 0 {
					det.Speed = written * 1000 / elapsed
				}
			}
		})
	})
	if err != nil {
		*reload = img.Reload
		return err
	}

	if err := d.deps.Store.AddPMeta(ctx, &domain.PMeta{
		GID:    d.gid,
		Index:  p.Index,
		Token:  p.Token,
		Name:   img.Name,
		Width:  img.Width,
		Height: img.Height,
	}); err != nil {
		return fmt.Errorf("store page %d: %w", p.Index, err)
	}
	return d.storeFile(ctx, &domain.File{
		Token:      p.Token,
		Path:       path,
		Width:      img.Width,
		Height:     img.Height,
		IsOriginal: img.IsOriginal,
	})
}

// reuse links the page to a file already on disk for the same token when
// that file is good enough, skipping the download.
func (d *pageDownloader) reuse(ctx context.Context, p downloadPage) (bool, error) {
	files, err := d.deps.Store.GetFiles(ctx, p.Token)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if !fileExists(f.Path) || (d.cfg.DownloadOriginalImg && !f.IsOriginal) {
			continue
		}
		name := p.Name
		if name == "" {
			name = filepath.Base(f.Path)
		}
		ok, err := d.deps.linkExistingPage(ctx, d.gid, p.Index, p.Token, name)
		if err != nil || ok {
			return ok, err
		}
		return true, d.deps.Store.AddPMeta(ctx, &domain.PMeta{
			GID:    d.gid,
			Index:  p.Index,
			Token:  p.Token,
			Name:   name,
			Width:  f.Width,
			Height: f.Height,
		})
	}
	return false, nil
}

func (d *pageDownloader) resolve(ctx context.Context, p downloadPage, reload string) (*resolvedImage, error) {
	if d.mpv != nil {
		disp, err := d.deps.Remote.FetchMPVImage(ctx, d.mpv, p.Index, reload)
		if err != nil {
			return nil, err
		}
		img := &resolvedImage{
			URL:        disp.Image,
			Name:       p.Name,
			Width:      disp.Width(),
			Height:     disp.Height(),
			IsOriginal: !disp.Resampled(),
			Reload:     disp.ReloadToken,
		}
		if d.cfg.DownloadOriginalImg && disp.Resampled() && disp.OriginalURL() != "" {
			img.URL = disp.OriginalURL()
			img.Width, img.Height, _ = disp.OriginalSize()
			img.IsOriginal = true
		}
		img.Name = fileName(img)
		return img, nil
	}

	sp, err := d.deps.Remote.FetchSinglePage(ctx, d.gid, p.Token, p.Index, reload)
	if err != nil {
		return nil, err
	}
	name := p.Name
	if name == "" {
		name = sp.Name
	}
	img := &resolvedImage{
		URL:        sp.ImageURL,
		Name:       name,
		Width:      sp.Width,
		Height:     sp.Height,
		IsOriginal: sp.OriginalURL == "",
		Reload:     sp.ReloadToken,
	}
	if d.cfg.DownloadOriginalImg && sp.OriginalURL != "" {
		img.URL = sp.OriginalURL
		img.Width, img.Height = sp.OriginalWidth, sp.OriginalHeight
		img.IsOriginal = true
	}
	img.Name = fileName(img)
	return img, nil
}

// fileName is the name a page is stored under. Resampled images keep the
// extension the host serves them with.
func fileName(img *resolvedImage) string {
	name := img.Name
	if name == "" {
		name = path.Base(urlPath(img.URL))
	}
	if img.IsOriginal {
		return name
	}
	if ext := path.Ext(urlPath(img.URL)); ext != "" {
		return replaceExt(name, ext)
	}
	return name
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// storeFile records f, replacing an existing row for the same path.
func (d *pageDownloader) storeFile(ctx context.Context, f *domain.File) error {
	existing, err := d.deps.Store.GetFiles(ctx, f.Token)
	if err != nil {
		return err
	}
	for _, old := range existing {
		if old.Path == f.Path {
			f.ID = old.ID
			return d.deps.Store.UpdateFile(ctx, f)
		}
	}
	return d.deps.Store.AddFile(ctx, f)
}

func (d *pageDownloader) startDetail(p downloadPage, img *resolvedImage) {
	now := time.Now().UnixMilli()
	d.progress.Update(func(pr *task.DownloadProgress) {
		pr.Details = append(pr.Details, task.DownloadDetail{
			Index:       p.Index,
			Token:       p.Token,
			Name:        img.Name,
			Width:       img.Width,
			Height:      img.Height,
			IsOriginal:  img.IsOriginal,
			Started:     now,
			LastUpdated: now,
		})
	})
}

func (d *pageDownloader) endDetail(index int) {
	d.progress.Update(func(pr *task.DownloadProgress) {
		pr.Details = slices.DeleteFunc(pr.Details, func(det task.DownloadDetail) bool {
			return det.Index == index
		})
	})
}

func cloneDownloadProgress(p task.DownloadProgress) task.DownloadProgress {
	p.Details = slices.Clone(p.Details)
	return p
}
