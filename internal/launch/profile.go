package launch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// profileAllowList names the Default-profile entries worth carrying into the
// debug profile. Everything else (caches, GPU state, lock files) stays behind.
var profileAllowList = []string{
	"Bookmarks",
	"History",
	"Cookies",
	"Login Data",
	"Web Data",
	"Preferences",
	"Favicons",
	"Extensions",
}

// realProfileDir locates the brand's live Default profile for seeding.
func realProfileDir(brand types.Brand) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var base string
	switch brand {
	case types.BrandChrome:
		if runtime.GOOS == "darwin" {
			base = filepath.Join(home, "Library", "Application Support", "Google", "Chrome")
		} else {
			base = filepath.Join(home, ".config", "google-chrome")
		}
	case types.BrandEdge:
		if runtime.GOOS == "darwin" {
			base = filepath.Join(home, "Library", "Application Support", "Microsoft Edge")
		} else {
			base = filepath.Join(home, ".config", "microsoft-edge")
		}
	default:
		return "", fmt.Errorf("no seedable profile for brand %s", brand)
	}

	dir := filepath.Join(base, "Default")
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("profile dir %s: %w", dir, err)
	}
	return dir, nil
}

// seedProfileFrom copies allow-listed entries from the live Default profile
// into <userDataDir>/Default. Each entry is best-effort: a locked database or
// missing file is logged and skipped, never fatal.
func seedProfileFrom(srcDefault, userDataDir string, log *slog.Logger) (int, error) {
	dstDefault := filepath.Join(userDataDir, "Default")
	if err := os.MkdirAll(dstDefault, 0o755); err != nil {
		return 0, err
	}

	copied := 0
	for _, name := range profileAllowList {
		src := filepath.Join(srcDefault, name)
		dst := filepath.Join(dstDefault, name)

		info, err := os.Stat(src)
		if err != nil {
			continue
		}
		if info.IsDir() {
			err = copyTree(src, dst)
		} else {
			err = copyFile(src, dst, info.Mode().Perm())
		}
		if err != nil {
			log.Warn("profile entry not copied", "entry", name, "error", err)
			continue
		}
		copied++
	}
	return copied, nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}
