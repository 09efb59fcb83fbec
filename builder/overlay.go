package builder

import (
	"compress/gzip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"

	"github.com/distroforge/forge/iso"
)

// createProductImage folds the staged installer overlay into an image the
// installer layers over its filesystem at boot. Preference order: squashfs,
// gzipped newc cpio, native iso9660 as the no-tools last resort.
func createProductImage(ctx context.Context, tools *iso.Toolset, stagingRoot, imagePath string) error {
	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return fmt.Errorf("mkdir images dir: %w", err)
	}

	if tools.Mksquashfs != "" {
		cmd := exec.CommandContext(ctx, tools.Mksquashfs, stagingRoot, imagePath, "-noappend", "-no-progress")
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("mksquashfs: %w (%s)", err, strings.TrimSpace(string(out)))
		}
		log.Statusf("product.img created (squashfs)\n")
		return nil
	}

	if tools.Cpio != "" {
		if err := createCpioImage(ctx, tools.Cpio, stagingRoot, imagePath); err != nil {
			return err
		}
		log.Statusf("product.img created (cpio)\n")
		return nil
	}

	if err := createISO9660Image(stagingRoot, imagePath); err != nil {
		return err
	}
	log.Statusf("product.img created (iso9660)\n")
	return nil
}

// createCpioImage runs cpio in the staging root with a file list on stdin
// and gzips its output stream natively.
func createCpioImage(ctx context.Context, cpioBin, stagingRoot, imagePath string) error {
	var files []string
	err := filepath.WalkDir(stagingRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stagingRoot, p)
		if err != nil {
			return err
		}
		files = append(files, "./"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("list staging files: %w", err)
	}

	out, err := os.OpenFile(imagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)

	cmd := exec.CommandContext(ctx, cpioBin, "-o", "-H", "newc", "--quiet")
	cmd.Dir = stagingRoot
	cmd.Stdin = strings.NewReader(strings.Join(files, "\n") + "\n")
	cmd.Stdout = gz

	if err := cmd.Run(); err != nil {
		gz.Close()
		_ = os.Remove(imagePath)
		return fmt.Errorf("cpio: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = os.Remove(imagePath)
		return fmt.Errorf("gzip overlay: %w", err)
	}
	return nil
}

func createISO9660Image(stagingRoot, imagePath string) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("create iso writer: %w", err)
	}
	defer writer.Cleanup()

	if err := writer.AddLocalDirectory(stagingRoot, "/"); err != nil {
		return fmt.Errorf("stage overlay directory: %w", err)
	}

	out, err := os.OpenFile(imagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if err := writer.WriteTo(out, "PRODUCT"); err != nil {
		out.Close()
		_ = os.Remove(imagePath)
		return fmt.Errorf("write overlay image: %w", err)
	}
	return out.Close()
}
