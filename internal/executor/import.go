package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mholt/archives"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/task"
)

// Import adds a gallery to the catalog from files on disk, either a
// directory or an archive.
type Import struct {
	deps Deps
}

// importPage is one page to import.
type importPage struct {
	Index int
	Token string
	Name  string
}

// Execute stores the gallery metadata and imports every page found in the
// source.
func (e *Import) Execute(ctx context.Context, t domain.Task, h task.Host) error {
	log := e.deps.taskLogger(t)
	cfg, err := task.DecodeDetails(t, e.deps.Defaults.importConfig())
	if err != nil {
		return err
	}
	if cfg.MaxImportImgCount <= 0 {
		cfg.MaxImportImgCount = e.deps.Defaults.MaxImportImgCount
	}
	if cfg.Method == "" {
		cfg.Method = e.deps.Defaults.ImportMethod
	}
	if cfg.ImportPath == "" {
		return errors.New("import path is required")
	}
	log.Info("importing gallery", "path", cfg.ImportPath, "method", string(cfg.Method))

	g, err := e.deps.storeGallery(ctx, t.GID, t.Token)
	if err != nil {
		return err
	}

	src, err := openImportSource(ctx, cfg.ImportPath, g.Filecount)
	if err != nil {
		return fmt.Errorf("open import source: %w", err)
	}
	method := cfg.Method
	if src.archive && method != task.ImportMethodCopy && method != task.ImportMethodCopyThenDelete {
		method = task.ImportMethodCopyThenDelete
	}

	pages, err := e.pageList(ctx, t, cfg.MPV)
	if err != nil {
		return err
	}
	dir := e.deps.galleryDir(t.GID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return task.Recoverable(fmt.Errorf("create gallery directory: %w", err))
	}

	names := make([]string, 0, len(pages))
	for _, p := range pages {
		names = append(names, p.Name)
	}
	im := &pageImporter{
		deps:   &e.deps,
		gid:    t.GID,
		cfg:    cfg,
		method: method,
		src:    src,
		dir:    dir,
		names:  countNames(names),
		log:    log,
	}
	progress := newReporter(h, t, task.ImportProgress{TotalPage: len(pages)})
	progress.Flush()

	pool := NewPagePool(ctx, h.AbortContext(), cfg.MaxImportImgCount, 0, log, func(err error) {
		progress.Update(func(p *task.ImportProgress) {
			if err != nil {
				p.FailedPage++
			} else {
				p.ImportedPage++
			}
		})
	})
	for _, p := range pages {
		if !pool.Go(strconv.Itoa(p.Index), func(ctx context.Context) error {
			return im.page(ctx, p)
		}) {
			break
		}
	}
	pool.Wait()
	progress.Flush()

	if err := pool.Err(); err != nil {
		return err
	}
	if src.archive && method == task.ImportMethodCopyThenDelete {
		if err := os.Remove(cfg.ImportPath); err != nil {
			log.Warn("failed to remove imported archive", "error", err)
		}
	}
	if cfg.RemovePreviousGallery {
		if err := e.deps.removePreviousGalleries(ctx, g, cfg.ReplacedGallery, log); err != nil {
			return err
		}
	}
	log.Info("gallery imported", "pages", len(pages))
	return nil
}

// pageList returns the pages of the gallery with their names, from the
// multi-page viewer or the gallery listing. Listing pages without a name are
// resolved through their page viewer.
func (e *Import) pageList(ctx context.Context, t domain.Task, mpv bool) ([]importPage, error) {
	var pages []importPage
	if mpv {
		m, err := e.deps.Remote.FetchMPVPage(ctx, t.GID, t.Token)
		if err != nil {
			return nil, task.Recoverable(fmt.Errorf("fetch mpv page: %w", err))
		}
		for i, img := range m.Images {
			pages = append(pages, importPage{Index: i + 1, Token: img.Token, Name: img.Name})
		}
		return pages, nil
	}

	refs, err := e.deps.Remote.FetchAllPages(ctx, t.GID, t.Token)
	if err != nil {
		return nil, task.Recoverable(fmt.Errorf("fetch gallery pages: %w", err))
	}
	for _, r := range refs {
		p := importPage{Index: r.Index, Token: r.Token, Name: r.Name}
		if p.Name == "" {
			sp, err := e.deps.Remote.FetchSinglePage(ctx, t.GID, r.Token, r.Index, "")
			if err != nil {
				return nil, task.Recoverable(fmt.Errorf("fetch page %d: %w", r.Index, err))
			}
			p.Name = sp.Name
		}
		pages = append(pages, p)
	}
	return pages, nil
}

type pageImporter struct {
	deps   *Deps
	gid    int64
	cfg    task.ImportConfig
	method task.ImportMethod
	src    *importSource
	dir    string
	names  map[string]int
	log    *slog.Logger
}

func (im *pageImporter) page(ctx context.Context, p importPage) error {
	srcName, ok := im.src.lookup(p.Name, p.Index)
	if !ok {
		im.log.Info("file not found in import source", "page", p.Index, "name", p.Name)
		return nil
	}
	if im.src.archive {
		return im.archivePage(ctx, p, srcName)
	}
	return im.dirPage(ctx, p, srcName)
}

func (im *pageImporter) dirPage(ctx context.Context, p importPage, srcName string) error {
	srcPath := filepath.Join(im.src.root, filepath.FromSlash(srcName))
	width, height, err := imageFileSize(srcPath)
	if err != nil {
		return err
	}

	done, err := im.alreadyImported(ctx, p, func(f domain.File) bool {
		return !f.IsOriginal && f.Width != width && f.Height != height
	})
	if err != nil || done {
		return err
	}

	isOriginal := im.isOriginal(p.Name, srcName, width)
	dest := filepath.Join(im.dir, p.Name)
	if !isOriginal {
		dest = filepath.Join(im.dir, replaceExt(p.Name, strings.ToLower(path.Ext(srcName))))
	}
	if im.method != task.ImportMethodKeep && im.names[p.Name] > 1 {
		dest = domain.AddSuffixToPath(dest, p.Token)
		im.log.Debug("page name is shared, suffixing path", "path", dest)
	}

	switch im.method {
	case task.ImportMethodKeep:
		dest = srcPath
	case task.ImportMethodMove:
		if err := moveFile(srcPath, dest); err != nil {
			return err
		}
	default:
		if err := copyFromFS(ctx, im.src.fsys, srcName, dest); err != nil {
			return err
		}
	}

	if err := im.record(ctx, p, dest, width, height, isOriginal); err != nil {
		return err
	}
	if im.method == task.ImportMethodCopyThenDelete {
		if err := os.Remove(srcPath); err != nil {
			return fmt.Errorf("remove imported file: %w", err)
		}
	}
	return nil
}

func (im *pageImporter) archivePage(ctx context.Context, p importPage, srcName string) error {
	done, err := im.alreadyImported(ctx, p, func(f domain.File) bool {
		return !f.IsOriginal && im.cfg.Size == task.ImportSizeOriginal
	})
	if err != nil || done {
		return err
	}

	dest := filepath.Join(im.dir, replaceExt(p.Name, strings.ToLower(path.Ext(srcName))))
	if im.names[p.Name] > 1 {
		dest = domain.AddSuffixToPath(dest, p.Token)
	}
	if err := copyFromFS(ctx, im.src.fsys, srcName, dest); err != nil {
		return err
	}
	width, height, err := imageFileSize(dest)
	if err != nil {
		return err
	}
	return im.record(ctx, p, dest, width, height, im.isOriginal(p.Name, srcName, width))
}

// alreadyImported reports whether the token already has a usable file on
// disk; stale marks stored files that should be replaced. When nothing needs
// importing the page row is linked from the existing one.
func (im *pageImporter) alreadyImported(ctx context.Context, p importPage, stale func(domain.File) bool) (bool, error) {
	files, err := im.deps.Store.GetFiles(ctx, p.Token)
	if err != nil || len(files) == 0 {
		return false, err
	}
	usable := false
	for _, f := range files {
		if !stale(f) && fileExists(f.Path) {
			usable = true
			break
		}
	}
	if !usable {
		return false, nil
	}
	if _, err := im.deps.linkExistingPage(ctx, im.gid, p.Index, p.Token, p.Name); err != nil {
		return false, err
	}
	im.log.Debug("page already imported", "page", p.Index)
	return true, nil
}

// isOriginal decides whether the imported file is the original upload.
func (im *pageImporter) isOriginal(name, srcName string, width int) bool {
	oriExt := strings.ToLower(path.Ext(name))
	nowExt := strings.ToLower(path.Ext(srcName))
	switch {
	case im.cfg.Size == task.ImportSizeOriginal:
		return true
	case oriExt != ".jpg" && oriExt == nowExt:
		return true
	case oriExt == nowExt && im.cfg.Size > task.ImportSizeOriginal && width < int(im.cfg.Size):
		return true
	}
	return false
}

func (im *pageImporter) record(ctx context.Context, p importPage, dest string, width, height int, isOriginal bool) error {
	if err := im.deps.Store.AddPMeta(ctx, &domain.PMeta{
		GID:    im.gid,
		Index:  p.Index,
		Token:  p.Token,
		Name:   p.Name,
		Width:  width,
		Height: height,
	}); err != nil {
		return fmt.Errorf("store page %d: %w", p.Index, err)
	}
	return im.deps.Store.AddFile(ctx, &domain.File{
		Token:      p.Token,
		Path:       dest,
		Width:      width,
		Height:     height,
		IsOriginal: isOriginal,
	})
}

// importSource is a directory or archive holding the files of a gallery.
type importSource struct {
	fsys    fs.FS
	root    string
	archive bool

	// files maps slash separated paths, and base names, to paths in fsys.
	files map[string]string

	// prefixWidth is set when every image is named with a zero padded
	// page index prefix such as "001_".
	prefixWidth int
}

func openImportSource(ctx context.Context, root string, filecount int) (*importSource, error) {
	fsys, err := archives.FileSystem(ctx, root, nil)
	if err != nil {
		return nil, err
	}
	if _, ok := fsys.(archives.FileFS); ok {
		return nil, fmt.Errorf("%s is neither a directory nor an archive", root)
	}
	_, isDir := fsys.(archives.DirFS)
	src := &importSource{
		fsys:    fsys,
		root:    root,
		archive: !isDir,
		files:   make(map[string]string),
	}

	var imageNames []string
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := src.files[p]; !ok {
			src.files[p] = p
		}
		base := path.Base(p)
		if _, ok := src.files[base]; !ok {
			src.files[base] = p
		}
		if isImage(base) {
			imageNames = append(imageNames, base)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	width := len(strconv.Itoa(filecount))
	prefix := regexp.MustCompile(`^\d{` + strconv.Itoa(width) + `}_`)
	hasPrefix := len(imageNames) > 0
	for _, n := range imageNames {
		if !prefix.MatchString(n) {
			hasPrefix = false
			break
		}
	}
	if hasPrefix {
		src.prefixWidth = width
	}
	return src, nil
}

// lookup finds the source file of page index named name. A resampled copy
// saved as .jpg matches a page of another type.
func (s *importSource) lookup(name string, index int) (string, bool) {
	if s.prefixWidth > 0 {
		name = fmt.Sprintf("%0*d_%s", s.prefixWidth, index, name)
	}
	if p, ok := s.files[name]; ok {
		return p, true
	}
	if strings.ToLower(path.Ext(name)) != ".jpg" {
		if p, ok := s.files[replaceExt(name, ".jpg")]; ok {
			return p, true
		}
	}
	return "", false
}

// copyFromFS writes name from fsys to dest through a temporary file.
func copyFromFS(ctx context.Context, fsys fs.FS, name, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = in.Close() }()
	return writeFile(dest, in)
}

func writeFile(dest string, r io.Reader) error {
	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	_, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// moveFile renames src to dest, copying across file systems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	err = writeFile(dest, in)
	_ = in.Close()
	if err != nil {
		return err
	}
	return os.Remove(src)
}
