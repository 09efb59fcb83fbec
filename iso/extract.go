package iso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
	"github.com/z46-dev/go-logger"
)

var log *logger.Logger = logger.NewLogger().SetPrefix("[ISO]", logger.BoldCyan)

// ErrAllStrategiesFailed is returned by Extract when every extraction
// strategy in the chain has been attempted without producing a usable tree.
var ErrAllStrategiesFailed = errors.New("all extraction strategies failed")

// WorkingTree is the unpacked image contents, exclusively owned by one build.
type WorkingTree struct {
	Root     string
	Strategy string // name of the extraction strategy that produced it
}

// strategy is one entry of the extraction fallback chain. Run must confine
// its effects to dest; the chain isolates each attempt in a scratch target.
type strategy struct {
	name      string
	available func(t *Toolset) bool
	run       func(ctx context.Context, t *Toolset, sourceISO, dest string) error
}

// Attempted in order; first strategy producing a non-empty tree wins.
var extractionStrategies = []strategy{
	{
		name:      "xorriso",
		available: func(t *Toolset) bool { return t.Xorriso != "" },
		run:       extractWithXorriso,
	},
	{
		name:      "mount",
		available: func(t *Toolset) bool { return t.Mount != "" && t.Umount != "" },
		run:       extractWithMount,
	},
	{
		name:      "native",
		available: func(t *Toolset) bool { return true },
		run:       extractNative,
	},
	{
		name:      "7z",
		available: func(t *Toolset) bool { return t.SevenZip != "" },
		run:       extractWith7z,
	},
}

// Extract unpacks sourceISO into dest, trying each strategy in order. It
// fails only when the whole chain is exhausted.
func Extract(ctx context.Context, tools *Toolset, sourceISO, dest string) (*WorkingTree, error) {
	return extractWith(ctx, tools, extractionStrategies, sourceISO, dest)
}

func extractWith(ctx context.Context, tools *Toolset, chain []strategy, sourceISO, dest string) (*WorkingTree, error) {
	if st, err := os.Stat(sourceISO); err != nil {
		return nil, fmt.Errorf("stat source image: %w", err)
	} else if st.IsDir() {
		return nil, fmt.Errorf("source image %q is a directory", sourceISO)
	}

	var attempts []string

	for _, s := range chain {
		if !s.available(tools) {
			attempts = append(attempts, s.name+": tool not present")
			continue
		}

		// Each attempt gets its own scratch target so a failed strategy
		// cannot pollute the tree a later one produces.
		scratch := dest + "." + s.name
		_ = os.RemoveAll(scratch)
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir scratch %s: %w", scratch, err)
		}

		log.Statusf("extracting %s via %s\n", filepath.Base(sourceISO), s.name)

		if err := s.run(ctx, tools, sourceISO, scratch); err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", s.name, err))
			log.Warningf("strategy %s failed: %v\n", s.name, err)
			_ = os.RemoveAll(scratch)
			continue
		}

		if !treeNonEmpty(scratch) {
			attempts = append(attempts, s.name+": produced an empty tree")
			log.Warningf("strategy %s produced an empty tree\n", s.name)
			_ = os.RemoveAll(scratch)
			continue
		}

		_ = os.RemoveAll(dest)
		if err := os.Rename(scratch, dest); err != nil {
			return nil, fmt.Errorf("move extracted tree into place: %w", err)
		}

		log.Basicf("extracted to %s (strategy %s)\n", dest, s.name)
		return &WorkingTree{Root: dest, Strategy: s.name}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrAllStrategiesFailed, strings.Join(attempts, "; "))
}

/* =================================================================================
   Strategy: xorriso (preferred, unprivileged)
   ================================================================================= */

func extractWithXorriso(ctx context.Context, t *Toolset, sourceISO, dest string) error {
	_, stderr, err := t.runTool(ctx, t.Xorriso,
		"-abort_on", "NEVER",
		"-osirrox", "on",
		"-indev", sourceISO,
		"-extract", "/", dest,
	)

	// xorriso exits non-zero on hybrid images whose boot partitions span past
	// the ISO9660 boundary, while still extracting everything that matters.
	// Treat the run as failed only when nothing came out.
	if err != nil && !treeNonEmpty(dest) {
		return err
	}

	var failures []string
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, "FAILURE") {
			failures = append(failures, strings.TrimSpace(line))
		}
	}
	for i, f := range failures {
		if i == 3 {
			log.Warningf("... and %d more xorriso warnings\n", len(failures)-3)
			break
		}
		log.Warningf("%s\n", f)
	}

	// xorriso extracts files read-only; the patcher needs to rewrite them.
	return restoreWritePerms(dest)
}

/* =================================================================================
   Strategy: loopback mount + recursive copy (needs privileges)
   ================================================================================= */

func extractWithMount(ctx context.Context, t *Toolset, sourceISO, dest string) error {
	mnt := dest + ".mnt"
	if err := os.MkdirAll(mnt, 0o755); err != nil {
		return fmt.Errorf("mkdir mount point: %w", err)
	}

	if _, _, err := t.runTool(ctx, t.Mount, "-o", "loop,ro", sourceISO, mnt); err != nil {
		_ = os.RemoveAll(mnt)
		return fmt.Errorf("loop mount: %w", err)
	}

	// The mount must be released on every exit path, copy outcome aside.
	defer func() {
		if _, _, err := t.runTool(ctx, t.Umount, "-f", mnt); err != nil {
			log.Warningf("unmount %s: %v\n", mnt, err)
		}
		_ = os.RemoveAll(mnt)
	}()

	if err := copyTree(mnt, dest); err != nil {
		return fmt.Errorf("copy mounted tree: %w", err)
	}

	return nil
}

/* =================================================================================
   Strategy: native iso9660 reader (no external tools, no privileges)
   ================================================================================= */

func extractNative(ctx context.Context, t *Toolset, sourceISO, dest string) error {
	file, err := os.Open(sourceISO)
	if err != nil {
		return err
	}
	defer file.Close()

	img, err := iso9660.OpenImage(file)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}

	root, err := img.RootDir()
	if err != nil {
		if isUDFMismatch(err) {
			return fmt.Errorf("udf/hybrid image not supported by native reader: %w", err)
		}
		return err
	}

	var walk func(f *iso9660.File, rel string) error
	walk = func(f *iso9660.File, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))

		if f.IsDir() {
			if rel != "" {
				if err := os.MkdirAll(target, 0o755); err != nil {
					return err
				}
			}

			children, err := f.GetChildren()
			if err != nil {
				if isUDFMismatch(err) {
					return fmt.Errorf("udf/hybrid image not supported by native reader: %w", err)
				}
				return err
			}

			for _, child := range children {
				name := child.Name()
				if name == "." || name == ".." {
					continue
				}
				if err := walk(child, path.Join(rel, name)); err != nil {
					return err
				}
			}
			return nil
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, f.Reader()); err != nil {
			out.Close()
			return fmt.Errorf("extract %s: %w", rel, err)
		}
		return out.Close()
	}

	return walk(root, "")
}

// The iso9660 reader reports hybrid UDF/ISO DVDs as descriptor mismatches.
func isUDFMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(),
		"little-endian and big-endian value mismatch")
}

/* =================================================================================
   Strategy: 7z (generic archive fallback)
   ================================================================================= */

func extractWith7z(ctx context.Context, t *Toolset, sourceISO, dest string) error {
	_, _, err := t.runTool(ctx, t.SevenZip, "x", "-y", "-o"+dest, sourceISO)
	return err
}

/* =================================================================================
   Shared helpers
   ================================================================================= */

func treeNonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func restoreWritePerms(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.Chmod(p, info.Mode().Perm()|0o200)
	})
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Symlinks and specials do not survive ISO9660 round-trips anyway.
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
