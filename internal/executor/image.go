package executor

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// imageExts are the file extensions treated as gallery pages.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

func isImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// imageSize decodes just enough of r to return the image dimensions.
func imageSize(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func imageFileSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()
	width, height, err = imageSize(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	return width, height, nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// replaceExt swaps the extension of name for ext.
func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

// unsafeFilenameChars are replaced in names derived from gallery titles.
var unsafeFilenameChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

func filterFilename(name string) string {
	return unsafeFilenameChars.Replace(name)
}

// limitFilename shortens name to at most max bytes, keeping the extension
// and never splitting a UTF-8 sequence. max <= 0 disables the limit.
func limitFilename(name string, max int) string {
	if max <= 0 || len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= max {
		ext = ""
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	limit := max - len(ext)
	cut := 0
	for i := range stem {
		if i > limit {
			break
		}
		cut = i
	}
	if len(stem) <= limit {
		cut = len(stem)
	}
	return stem[:cut] + ext
}

// countNames counts how often each page name occurs in a gallery. Pages
// whose name is shared get their token appended to the file name.
func countNames(names []string) map[string]int {
	out := make(map[string]int, len(names))
	for _, n := range names {
		out[n]++
	}
	return out
}
