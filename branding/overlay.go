package branding

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// copyAssets applies the caller-supplied asset bundle: GRUB theme files and
// the isolinux splash go straight into the tree, installer branding is
// staged for the product overlay. A malformed bundle path is non-fatal.
func (p *patcher) copyAssets(assetsDir string, staging *Staging) error {
	if assetsDir == "" {
		return nil
	}

	info, err := os.Stat(assetsDir)
	if err != nil || !info.IsDir() {
		log.Warningf("assets directory not found: %s\n", assetsDir)
		return nil
	}

	// GRUB theme files
	grubSrc := filepath.Join(assetsDir, "grub")
	if dirExists(grubSrc) {
		grubDst := filepath.Join(p.root, "EFI", "BOOT")
		if err := os.MkdirAll(grubDst, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", grubDst, err)
		}
		if err := copyRegularFiles(grubSrc, grubDst); err != nil {
			return fmt.Errorf("copy grub assets: %w", err)
		}
		log.Statusf("grub assets copied\n")
	}

	// Splash image for the BIOS menu
	for _, splash := range []string{
		filepath.Join(assetsDir, "grub", "splash.png"),
		filepath.Join(assetsDir, "logos", "splash.png"),
	} {
		if _, err := os.Stat(splash); err != nil {
			continue
		}
		if !dirExists(filepath.Join(p.root, "isolinux")) {
			break
		}
		if err := copyOne(splash, filepath.Join(p.root, "isolinux", "splash.png")); err != nil {
			return fmt.Errorf("copy splash: %w", err)
		}
		log.Statusf("isolinux/splash.png replaced\n")
		break
	}

	// Installer branding, staged for the product overlay
	anacondaSrc := filepath.Join(assetsDir, "anaconda")
	if dirExists(anacondaSrc) {
		if err := p.stageInstallerOverlay(anacondaSrc, staging); err != nil {
			return err
		}
	}

	return nil
}

// stageInstallerOverlay builds the provisional tree the packaging step folds
// into images/product.img: installer pixmaps plus the .buildstamp telling
// the installer its product identity.
func (p *patcher) stageInstallerOverlay(anacondaSrc string, staging *Staging) error {
	stagingRoot := filepath.Join(p.root, installerStagingDir)

	pixmaps := filepath.Join(stagingRoot, "usr", "share", "anaconda", "pixmaps")
	if err := os.MkdirAll(pixmaps, 0o755); err != nil {
		return fmt.Errorf("mkdir pixmap overlay: %w", err)
	}

	entries, err := os.ReadDir(anacondaSrc)
	if err != nil {
		return fmt.Errorf("read installer assets: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || e.Name() == "README.md" {
			continue
		}
		if err := copyOne(filepath.Join(anacondaSrc, e.Name()), filepath.Join(pixmaps, e.Name())); err != nil {
			return fmt.Errorf("copy installer asset %s: %w", e.Name(), err)
		}
	}

	stampDir := filepath.Join(stagingRoot, "run", "install", "product")
	if err := os.MkdirAll(stampDir, 0o755); err != nil {
		return fmt.Errorf("mkdir buildstamp dir: %w", err)
	}

	stamp := fmt.Sprintf("[Main]\nProduct=%s\nVersion=%s\nBugURL=%s\nIsFinal=%t\n",
		p.name, p.version, p.bugURL, p.isFinal)
	if err := os.WriteFile(filepath.Join(stampDir, ".buildstamp"), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write .buildstamp: %w", err)
	}

	staging.InstallerRoot = stagingRoot
	log.Statusf("installer branding staged\n")
	return nil
}

// stageReleaseFiles builds the release-identity overlay. These belong to the
// installed system, not the install medium, so they are staged rather than
// written into the tree proper.
func (p *patcher) stageReleaseFiles(staging *Staging) error {
	stagingRoot := filepath.Join(p.root, releaseStagingDir)
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return fmt.Errorf("mkdir release staging: %w", err)
	}

	write := func(name, content string) error {
		if err := os.WriteFile(filepath.Join(stagingRoot, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	var osRelease strings.Builder
	fmt.Fprintf(&osRelease, "NAME=%q\n", p.name)
	fmt.Fprintf(&osRelease, "VERSION=%q\n", p.version)
	fmt.Fprintf(&osRelease, "ID=%q\n", p.osID)
	fmt.Fprintf(&osRelease, "ID_LIKE=\"rhel centos fedora\"\n")
	fmt.Fprintf(&osRelease, "VERSION_ID=%q\n", p.version)
	fmt.Fprintf(&osRelease, "PRETTY_NAME=%q\n", p.name+" "+p.version)
	fmt.Fprintf(&osRelease, "ANSI_COLOR=\"0;31\"\n")
	fmt.Fprintf(&osRelease, "CPE_NAME=%q\n", fmt.Sprintf("cpe:/o:%s:%s:%s", p.osID, p.osID, p.version))
	if p.vendor != "" {
		fmt.Fprintf(&osRelease, "VENDOR_NAME=%q\n", p.vendor)
	}
	fmt.Fprintf(&osRelease, "HOME_URL=%q\n", p.bugURL)
	fmt.Fprintf(&osRelease, "BUG_REPORT_URL=%q\n", p.bugURL)
	if err := write("os-release", osRelease.String()); err != nil {
		return err
	}

	for _, name := range []string{p.osID + "-release", "system-release"} {
		if err := write(name, fmt.Sprintf("%s release %s\n", p.name, p.version)); err != nil {
			return err
		}
	}

	banner := p.name + " " + p.version
	if err := write("motd", fmt.Sprintf("\n  Welcome to %s\n  %s\n\n", banner, strings.Repeat("-", len(banner)+11))); err != nil {
		return err
	}
	if err := write("issue", banner+"\nKernel \\r on an \\m\n\n"); err != nil {
		return err
	}

	staging.ReleaseRoot = stagingRoot
	log.Statusf("release files staged\n")
	return nil
}

/* ---- file helpers ---- */

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func copyRegularFiles(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyOne(filepath.Join(srcDir, e.Name()), filepath.Join(dstDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyOne(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
