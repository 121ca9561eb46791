package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/events"
	"github.com/phrazzld/eharchive/internal/platform/ehentai"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/phrazzld/eharchive/internal/task"
)

// ErrMetadataMissing is returned when the host answered without the
// requested gallery.
var ErrMetadataMissing = errors.New("gallery metadata not included")

// storeGallery fetches the metadata of a gallery and stores it with its
// tags. Transport failures are recoverable; a gallery the host refuses to
// describe is not.
func (d *Deps) storeGallery(ctx context.Context, gid int64, token string) (*domain.GMeta, error) {
	res, err := d.Remote.FetchMetadata(ctx, ehentai.GalleryRef{GID: gid, Token: token})
	if err != nil {
		return nil, task.Recoverable(fmt.Errorf("fetch metadata of gallery %d: %w", gid, err))
	}
	r, ok := res[gid]
	if !ok {
		return nil, fmt.Errorf("gallery %d: %w", gid, ErrMetadataMissing)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	g, err := r.Meta.GMeta()
	if err != nil {
		return nil, err
	}
	if err := d.Store.AddGMeta(ctx, g); err != nil {
		return nil, transient(fmt.Errorf("store gallery %d: %w", gid, err))
	}
	if err := d.Store.AddGTag(ctx, gid, r.Meta.Tags); err != nil {
		return nil, transient(fmt.Errorf("store tags of gallery %d: %w", gid, err))
	}
	d.emit(ctx, events.GalleryUpdate, gid)
	return g, nil
}

// galleryDir is where the files of a gallery are stored.
func (d *Deps) galleryDir(gid int64) string {
	return filepath.Join(d.Defaults.Base, strconv.FormatInt(gid, 10))
}

// removePreviousGalleries deletes older versions of g from the catalog.
// Without an explicit list the versions are discovered from the first
// gallery of the chain.
func (d *Deps) removePreviousGalleries(ctx context.Context, g *domain.GMeta, replaced []task.ReplacedGallery, log *slog.Logger) error {
	if g.FirstGID == nil || g.FirstKey == nil {
		return nil
	}
	if replaced == nil {
		first, err := d.Remote.FetchGalleryPage(ctx, *g.FirstGID, *g.FirstKey, 0)
		if err != nil {
			return task.Recoverable(fmt.Errorf("fetch first version of gallery %d: %w", g.GID, err))
		}
		for _, v := range first.NewVersions {
			if v.GID < g.GID {
				replaced = append(replaced, task.ReplacedGallery{GID: v.GID, Token: v.Token})
			}
		}
		replaced = append(replaced, task.ReplacedGallery{GID: *g.FirstGID, Token: *g.FirstKey})
	}

	for _, r := range replaced {
		if r.GID == g.GID {
			continue
		}
		if _, err := d.Store.GetGMeta(ctx, r.GID); err != nil {
			if errors.Is(err, store.ErrGalleryNotFound) {
				continue
			}
			return transient(err)
		}
		log.Info("removing previous version", "previous_gid", r.GID)
		if err := d.Store.DeleteGallery(ctx, r.GID); err != nil {
			return transient(fmt.Errorf("remove gallery %d: %w", r.GID, err))
		}
		d.emit(ctx, events.GalleryRemove, r.GID)
	}
	return nil
}

// linkExistingPage records page index of gid from a page already stored
// under the same token, in this gallery or another one. It reports whether
// such a page existed.
func (d *Deps) linkExistingPage(ctx context.Context, gid int64, index int, token, name string) (bool, error) {
	if _, err := d.Store.GetPMeta(ctx, gid, index); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrPageNotFound) {
		return false, err
	}

	p, err := d.Store.GetPMetaByToken(ctx, gid, token)
	if err != nil && !errors.Is(err, store.ErrPageNotFound) {
		return false, err
	}
	if p == nil {
		others, err := d.Store.GetPMetaByTokenOnly(ctx, token)
		if err != nil {
			return false, err
		}
		if len(others) == 0 {
			return false, nil
		}
		p = &others[0]
	}
	linked := *p
	linked.GID = gid
	linked.Index = index
	if name != "" {
		linked.Name = name
	}
	return true, d.Store.AddPMeta(ctx, &linked)
}
