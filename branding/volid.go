package branding

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ISO9660 caps the volume identifier at 32 characters.
const volumeIDMaxLen = 32

var (
	reHDLabel     = regexp.MustCompile(`hd:LABEL=(\S+)`)
	reSearchLabel = regexp.MustCompile(`-l\s+'([^']+)'`)
)

// Candidate boot menu locations, scanned in priority order.
var (
	grubCfgCandidates = []string{
		"EFI/BOOT/grub.cfg",
		"EFI/BOOT/BOOT.conf",
		"boot/grub2/grub.cfg",
	}
	isolinuxCfgCandidates = []string{
		"isolinux/isolinux.cfg",
		"isolinux/syslinux.cfg",
	}
	legacyGrubConf = "isolinux/grub.conf"
)

// ComputeVolumeID derives the new volume identifier from identity fields:
// name-version-arch, spaces hyphenated, hard-truncated to 32 characters.
func ComputeVolumeID(name, version, arch string) string {
	id := name + "-" + version + "-" + arch
	id = strings.ReplaceAll(id, " ", "-")
	if len(id) > volumeIDMaxLen {
		id = id[:volumeIDMaxLen]
	}
	return id
}

// DetectOriginalVolumeID scans the boot menus for the label the upstream
// image references: the EFI menu's hd:LABEL= form first, then its quoted
// search-by-label form, then the BIOS menu, then the legacy grub.conf.
// Returns "" when no menu references a label; that is normal for trees with
// no label-dependent boot path.
func DetectOriginalVolumeID(root string) string {
	for _, rel := range grubCfgCandidates {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if m := reHDLabel.FindSubmatch(content); m != nil {
			return string(m[1])
		}
		if m := reSearchLabel.FindSubmatch(content); m != nil {
			return string(m[1])
		}
	}

	for _, rel := range isolinuxCfgCandidates {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if m := reHDLabel.FindSubmatch(content); m != nil {
			return string(m[1])
		}
	}

	if content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(legacyGrubConf))); err == nil {
		if m := reHDLabel.FindSubmatch(content); m != nil {
			return string(m[1])
		}
	}

	return ""
}
