package executor

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mholt/archives"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/phrazzld/eharchive/internal/task"
)

// ExportZip writes the pages of a stored gallery into a zip archive.
type ExportZip struct {
	deps Deps
}

// Execute exports the gallery. Entries are named after the zero padded page
// index and the page name and are stored without compression. Pages flagged
// as ads are skipped unless the task asks for them.
func (e *ExportZip) Execute(ctx context.Context, t domain.Task, h task.Host) error {
	log := e.deps.taskLogger(t)
	cfg, err := task.DecodeDetails(t, e.deps.Defaults.exportZip())
	if err != nil {
		return err
	}

	g, err := e.deps.Store.GetGMeta(ctx, t.GID)
	if err != nil {
		if errors.Is(err, store.ErrGalleryNotFound) {
			return fmt.Errorf("gallery %d not found in database: %w", t.GID, err)
		}
		return transient(err)
	}
	pages, err := e.deps.Store.GetPMetas(ctx, t.GID)
	if err != nil {
		return transient(err)
	}

	output := cfg.Output
	if output == "" {
		output = filepath.Join(e.deps.Defaults.Base, filterFilename(g.PreferredTitle(cfg.JpnTitle)+".zip"))
	}
	log.Info("exporting gallery", "output", output)

	progress := newReporter(h, t, task.ExportZipProgress{TotalPage: g.Filecount})
	progress.Flush()

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return task.Recoverable(fmt.Errorf("create output directory: %w", err))
	}
	tmp := output + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return task.Recoverable(fmt.Errorf("create %s: %w", tmp, err))
	}

	writeErr := e.write(ctx, h, f, g, pages, cfg, progress)
	closeErr := f.Close()
	progress.Flush()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, ErrAborted) || ctx.Err() != nil {
			return err
		}
		return task.Recoverable(fmt.Errorf("export gallery %d: %w", t.GID, err))
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		return task.Recoverable(fmt.Errorf("rename %s: %w", tmp, err))
	}
	log.Info("gallery exported", "output", output)
	return nil
}

func (e *ExportZip) write(ctx context.Context, h task.Host, out *os.File, g *domain.GMeta, pages []domain.PMeta,
	cfg task.ExportZipConfig, progress *reporter[task.ExportZipProgress]) error {
	jobs := make(chan archives.ArchiveAsyncJob)
	archived := make(chan error, 1)
	go func() {
		z := archives.Zip{Compression: zip.Store}
		archived <- z.ArchiveAsync(ctx, out, jobs)
	}()

	width := len(strconv.Itoa(g.Filecount))
	err := func() error {
		for _, p := range pages {
			if h.AbortContext().Err() != nil {
				return ErrAborted
			}
			skip, err := e.isSkippedAd(ctx, p.Token, cfg.ExportAd)
			if err != nil {
				return err
			}
			if skip {
				progress.Update(func(pr *task.ExportZipProgress) { pr.TotalPage-- })
				continue
			}

			file, err := e.pageFile(ctx, p.Token)
			if err != nil {
				return err
			}
			if file != nil {
				info, err := os.Stat(file.Path)
				if err != nil {
					return fmt.Errorf("page %d: %w", p.Index, err)
				}
				path := file.Path
				result := make(chan error, 1)
				jobs <- archives.ArchiveAsyncJob{
					File: archives.FileInfo{
						FileInfo:      info,
						NameInArchive: limitFilename(fmt.Sprintf("%0*d_%s", width, p.Index, p.Name), cfg.MaxLength),
						Open:          func() (fs.File, error) { return os.Open(path) },
					},
					Result: result,
				}
				if err := <-result; err != nil {
					return fmt.Errorf("page %d: %w", p.Index, err)
				}
			}
			progress.Update(func(pr *task.ExportZipProgress) { pr.AddedPage++ })
		}
		return nil
	}()
	close(jobs)
	return errors.Join(err, <-archived)
}

func (e *ExportZip) isSkippedAd(ctx context.Context, token string, exportAd bool) (bool, error) {
	if exportAd {
		return false, nil
	}
	meta, err := e.deps.Store.GetFileMeta(ctx, token)
	if err != nil {
		return false, err
	}
	return meta.IsAd, nil
}

// pageFile picks the file exported for a token, preferring the original.
func (e *ExportZip) pageFile(ctx context.Context, token string) (*domain.File, error) {
	files, err := e.deps.Store.GetFiles(ctx, token)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	for i := range files {
		if files[i].IsOriginal {
			return &files[i], nil
		}
	}
	return &files[0], nil
}
