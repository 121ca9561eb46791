package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/eharchive/internal/config"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/task"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
	addOnly    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "eharchive",
		Short:         "Download and archive galleries through a persistent task queue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"config file (environment variables prefixed with "+config.EnvPrefix+"_ override it)")

	root.AddCommand(
		newDownloadCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
		newOptimizeCmd(opts),
		newImportCmd(opts),
		newExportZipCmd(opts),
		newFixGalleryPageCmd(opts),
		newUpdateMeiliSearchDataCmd(opts),
		newUpdateTagTranslationCmd(opts),
		newUserCmd(opts),
	)
	return root
}

// withApp loads the configuration, builds the application and runs fn with
// it, cleaning up afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *application) error) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.cleanup()

	if err := fn(ctx, app); err != nil {
		app.logger.Error("command failed", "command", cmd.Name(), "error", err)
		return err
	}
	return nil
}

// enqueue adds tasks with add and then drains the queue unless --add-only
// is set.
func enqueue(cmd *cobra.Command, opts *rootOptions, add func(ctx context.Context, app *application) error) error {
	return withApp(cmd, opts, func(ctx context.Context, app *application) error {
		if err := add(ctx, app); err != nil {
			return err
		}
		if opts.addOnly {
			return nil
		}
		return app.runTasks(ctx, false)
	})
}

func addOnlyFlag(cmd *cobra.Command, opts *rootOptions) {
	cmd.Flags().BoolVarP(&opts.addOnly, "add-only", "a", false, "only add the task to the queue")
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var mpv, original bool
	cmd := &cobra.Command{
		Use:     "download <url>...",
		Aliases: []string{"d"},
		Short:   "Queue downloads of gallery links and run them",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			galleries := parseGalleryLinks(args)
			if len(galleries) == 0 {
				return errors.New("no gallery links given")
			}
			return enqueue(cmd, opts, func(ctx context.Context, app *application) error {
				// Without flags the task follows the configuration at run time.
				var dcfg *task.DownloadConfig
				if cmd.Flags().Changed("mpv") || cmd.Flags().Changed("original") {
					cfg := downloadConfig(app.config)
					if cmd.Flags().Changed("mpv") {
						cfg.MPV = mpv
					}
					if cmd.Flags().Changed("original") {
						cfg.DownloadOriginalImg = original
					}
					dcfg = &cfg
				}
				for _, g := range galleries {
					t, err := app.manager.AddDownloadTask(ctx, g.GID, g.Token, dcfg)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued download %d of gallery %d\n", t.ID, t.GID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mpv, "mpv", false, "fetch page links through the multi-page viewer")
	cmd.Flags().BoolVar(&original, "original", false, "download original images")
	addOnlyFlag(cmd, opts)
	return cmd
}

// parseGalleryLinks keeps the gallery and multi-page viewer links of args.
func parseGalleryLinks(args []string) []*domain.ParsedURL {
	var out []*domain.ParsedURL
	for _, raw := range args {
		u, err := domain.ParseURL(raw)
		if err != nil || u.Type == domain.URLTypeSingle {
			continue
		}
		out = append(out, u)
	}
	return out
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"r"},
		Short:   "Run queued tasks until the queue is empty",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				return app.runTasks(ctx, false)
			})
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler forever and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				return app.serve(ctx)
			})
		},
	}
}

func newOptimizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Compact the database and renumber its sequences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				return app.db.Optimize(ctx)
			})
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		method         string
		mpv            bool
		removePrevious bool
	)
	cmd := &cobra.Command{
		Use:   "import <url> <path>",
		Short: "Queue an import of a local directory or archive as a gallery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := domain.ParseURL(args[0])
			if err != nil {
				return err
			}
			if u.Type == domain.URLTypeSingle {
				return fmt.Errorf("%w: %s is not a gallery link", domain.ErrInvalidURL, args[0])
			}
			if method != "" && !task.ImportMethod(method).Valid() {
				return fmt.Errorf("unknown import method %q", method)
			}
			return enqueue(cmd, opts, func(ctx context.Context, app *application) error {
				cfg := importConfig(app.config)
				cfg.ImportPath = args[1]
				if method != "" {
					cfg.Method = task.ImportMethod(method)
				}
				if cmd.Flags().Changed("mpv") {
					cfg.MPV = mpv
				}
				if cmd.Flags().Changed("remove-previous") {
					cfg.RemovePreviousGallery = removePrevious
				}
				t, err := app.manager.AddImportTask(ctx, u.GID, u.Token, cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued import %d of gallery %d\n", t.ID, t.GID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "keep, copy, move or copy_then_delete")
	cmd.Flags().BoolVar(&mpv, "mpv", false, "fetch page links through the multi-page viewer")
	cmd.Flags().BoolVar(&removePrevious, "remove-previous", false, "remove older versions of the gallery")
	addOnlyFlag(cmd, opts)
	return cmd
}

func newExportZipCmd(opts *rootOptions) *cobra.Command {
	var flags task.ExportZipConfig
	cmd := &cobra.Command{
		Use:   "export-zip <gid>",
		Short: "Queue an export of a stored gallery to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGID(args[0])
			if err != nil {
				return err
			}
			return enqueue(cmd, opts, func(ctx context.Context, app *application) error {
				cfg := task.ExportZipConfig{
					JpnTitle:  app.config.ExportZipJpnTitle,
					ExportAd:  app.config.ExportAd,
					MaxLength: flags.MaxLength,
					Output:    flags.Output,
				}
				if cmd.Flags().Changed("jpn-title") {
					cfg.JpnTitle = flags.JpnTitle
				}
				if cmd.Flags().Changed("export-ad") {
					cfg.ExportAd = flags.ExportAd
				}
				t, err := app.manager.AddExportZipTask(ctx, gid, &cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued export %d of gallery %d\n", t.ID, t.GID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&flags.JpnTitle, "jpn-title", false, "name the archive after the japanese title")
	cmd.Flags().IntVar(&flags.MaxLength, "max-length", 0, "maximum length of entry names, 0 for no limit")
	cmd.Flags().BoolVar(&flags.ExportAd, "export-ad", false, "include pages detected as ads")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "archive path")
	addOnlyFlag(cmd, opts)
	return cmd
}

func newFixGalleryPageCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix-gallery-page",
		Short: "Queue downloads for galleries with missing pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return enqueue(cmd, opts, func(ctx context.Context, app *application) error {
				_, err := app.manager.AddFixGalleryPageTask(ctx)
				return err
			})
		},
	}
	addOnlyFlag(cmd, opts)
	return cmd
}

func newUpdateMeiliSearchDataCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-meili-search-data [gid]",
		Short: "Refresh the search index of one or every gallery",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var gid int64
			if len(args) == 1 {
				var err error
				if gid, err = parseGID(args[0]); err != nil {
					return err
				}
			}
			return enqueue(cmd, opts, func(ctx context.Context, app *application) error {
				_, err := app.manager.AddUpdateMeiliSearchDataTask(ctx, gid)
				return err
			})
		},
	}
	addOnlyFlag(cmd, opts)
	return cmd
}

func newUpdateTagTranslationCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update-tag-translation",
		Short: "Refresh tag translations from the EhTagTranslation database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *task.UpdateTagTranslationConfig
			if file != "" {
				cfg = &task.UpdateTagTranslationConfig{File: file}
			}
			return enqueue(cmd, opts, func(ctx context.Context, app *application) error {
				_, err := app.manager.AddUpdateTagTranslationTask(ctx, cfg)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "local database file instead of the latest release")
	addOnlyFlag(cmd, opts)
	return cmd
}

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts of the HTTP API",
	}
	cmd.AddCommand(newUserAddCmd(opts))
	return cmd
}

func newUserAddCmd(opts *rootOptions) *cobra.Command {
	var (
		admin    bool
		password string
		perms    []string
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user; the password is read from stdin unless --password is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := parsePermissions(perms)
			if err != nil {
				return err
			}
			if admin {
				mask = domain.PermissionAll
			}
			if password == "" {
				if password, err = readPassword(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			u, err := domain.NewUser(args[0], password, admin, mask)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *application) error {
				if err := app.db.AddUser(ctx, u); err != nil {
					return err
				}
				app.logger.Info("user created", "uid", u.ID, "username", u.Username, "is_admin", u.IsAdmin)
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%d)\n", u.Username, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant every permission")
	cmd.Flags().StringVar(&password, "password", "", "password of the user")
	cmd.Flags().StringSliceVar(&perms, "permission", []string{"read_gallery"},
		"read_gallery, edit_gallery, delete_gallery or manage_tasks")
	return cmd
}

var permissionNames = map[string]domain.UserPermission{
	"read_gallery":   domain.PermissionReadGallery,
	"edit_gallery":   domain.PermissionEditGallery,
	"delete_gallery": domain.PermissionDeleteGallery,
	"manage_tasks":   domain.PermissionManageTasks,
}

func parsePermissions(names []string) (domain.UserPermission, error) {
	mask := domain.PermissionNone
	for _, name := range names {
		p, ok := permissionNames[strings.TrimSpace(name)]
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
		mask |= p
	}
	return mask, nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func parseGID(s string) (int64, error) {
	gid, err := strconv.ParseInt(s, 10, 64)
	if err != nil || gid <= 0 {
		return 0, domain.NewValidationError("gid", "must be a positive integer", domain.ErrInvalidGID)
	}
	return gid, nil
}

func downloadConfig(c *config.Config) task.DownloadConfig {
	return task.DownloadConfig{
		DownloadOriginalImg:   c.DownloadOriginalImg,
		MaxDownloadImgCount:   c.MaxDownloadImgCount,
		MaxRetryCount:         c.MaxRetryCount,
		MPV:                   c.MPV,
		RemovePreviousGallery: c.RemovePreviousGallery,
	}
}

func importConfig(c *config.Config) task.ImportConfig {
	return task.ImportConfig{
		MaxImportImgCount:     c.MaxImportImgCount,
		MPV:                   c.MPV,
		Method:                task.ImportMethod(c.ImportMethod),
		RemovePreviousGallery: c.RemovePreviousGallery,
	}
}
