package iso

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
)

// Boot payload locations inside the tree. Presence decides which El Torito
// entries the new image carries.
const (
	biosBootImage   = "isolinux/isolinux.bin"
	biosBootCatalog = "isolinux/boot.cat"
	efiBootImage    = "images/efiboot.img"
)

var ErrNoImageTool = errors.New("no image creation tool available (install xorriso, recommended)")

// BootEntries records which boot payloads are present in a working tree.
type BootEntries struct {
	BIOS bool
	EFI  bool
}

func DetectBootEntries(root string) (entries BootEntries) {
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(biosBootImage))); err == nil {
		entries.BIOS = true
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(efiBootImage))); err == nil {
		entries.EFI = true
	}
	return
}

// Repack reassembles the tree into a new hybrid bootable image at outputPath.
// volumeID must be the exact identifier the patcher wrote into the boot menus;
// a mismatch produces a medium that boots to a bootloader "file not found".
func Repack(ctx context.Context, tools *Toolset, root, outputPath, volumeID string) error {
	if err := validateVolumeID(volumeID); err != nil {
		return err
	}

	entries := DetectBootEntries(root)
	if !entries.BIOS && !entries.EFI {
		log.Warningf("tree has neither a BIOS nor an EFI boot image; result will not be bootable\n")
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}

	bin, args, err := mkisofsInvocation(tools, entries, root, outputPath, volumeID)
	if err != nil {
		return err
	}

	log.Statusf("repacking %s (volume id %s)\n", filepath.Base(outputPath), volumeID)
	if _, _, err := tools.runTool(ctx, bin, args...); err != nil {
		return fmt.Errorf("create image: %w", err)
	}

	// Post-processing is best effort: a non-hybrid, non-self-verifying image
	// is still a valid build output.
	makeUSBHybrid(ctx, tools, outputPath)
	implantChecksum(ctx, tools, outputPath)

	log.Basicf("image created: %s\n", outputPath)
	return nil
}

// mkisofsInvocation builds the image-creation command: xorriso in mkisofs
// emulation when present, otherwise genisoimage/mkisofs proper.
func mkisofsInvocation(tools *Toolset, entries BootEntries, root, outputPath, volumeID string) (bin string, args []string, err error) {
	switch {
	case tools.Xorriso != "":
		bin = tools.Xorriso
		args = []string{"-as", "mkisofs"}
	case tools.Genisoimage != "":
		bin = tools.Genisoimage
	case tools.Mkisofs != "":
		bin = tools.Mkisofs
	default:
		return "", nil, ErrNoImageTool
	}

	args = append(args, "-V", volumeID)

	if entries.BIOS {
		args = append(args,
			"-b", biosBootImage,
			"-c", biosBootCatalog,
			"-no-emul-boot",
			"-boot-load-size", "4",
			"-boot-info-table",
		)
	}

	if entries.EFI {
		args = append(args,
			"-eltorito-alt-boot",
			"-e", efiBootImage,
			"-no-emul-boot",
		)
	}

	args = append(args, "-R", "-J", "-o", outputPath, root)
	return bin, args, nil
}

func makeUSBHybrid(ctx context.Context, tools *Toolset, outputPath string) {
	if tools.Isohybrid == "" {
		log.Warningf("isohybrid not present, image may not be USB-bootable\n")
		return
	}

	if _, _, err := tools.runTool(ctx, tools.Isohybrid, "--uefi", outputPath); err == nil {
		return
	}
	// Older isohybrid builds lack --uefi.
	if _, _, err := tools.runTool(ctx, tools.Isohybrid, outputPath); err != nil {
		log.Warningf("isohybrid failed, image may not be USB-bootable: %v\n", err)
	}
}

func implantChecksum(ctx context.Context, tools *Toolset, outputPath string) {
	if tools.ImplantISOMD5 == "" {
		log.Warningf("implantisomd5 not present, skipping media self-check implant\n")
		return
	}

	if _, _, err := tools.runTool(ctx, tools.ImplantISOMD5, outputPath); err != nil {
		log.Warningf("implantisomd5 failed, skipping media self-check implant: %v\n", err)
	}
}

// ProbeBootEntries inspects an image file, not an extracted tree, for its
// boot payloads.
func ProbeBootEntries(sourceISO string) (BootEntries, error) {
	var entries BootEntries

	file, err := os.Open(sourceISO)
	if err != nil {
		return entries, err
	}
	defer file.Close()

	img, err := iso9660.OpenImage(file)
	if err != nil {
		return entries, fmt.Errorf("open image: %w", err)
	}

	entries.BIOS = imageHasPath(img, biosBootImage)
	entries.EFI = imageHasPath(img, efiBootImage)
	return entries, nil
}

// imageHasPath walks the image directory tree component by component,
// matching names case-insensitively the way ISO9660 media mix cases.
func imageHasPath(img *iso9660.Image, isoPath string) bool {
	current, err := img.RootDir()
	if err != nil {
		return false
	}

	for _, part := range strings.Split(isoPath, "/") {
		if part == "" {
			continue
		}

		children, err := current.GetChildren()
		if err != nil {
			return false
		}

		var next *iso9660.File
		for _, child := range children {
			if strings.EqualFold(child.Name(), part) {
				next = child
				break
			}
		}
		if next == nil {
			return false
		}
		current = next
	}

	return true
}

func validateVolumeID(volumeID string) error {
	if volumeID == "" {
		return errors.New("volume id must not be empty")
	}
	if len(volumeID) > 32 {
		return fmt.Errorf("volume id %q exceeds 32 characters", volumeID)
	}
	for i := 0; i < len(volumeID); i++ {
		if volumeID[i] > 0x7e || volumeID[i] < 0x20 || volumeID[i] == ' ' {
			return fmt.Errorf("volume id %q contains invalid character at %d", volumeID, i)
		}
	}
	return nil
}
