package branding

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComputeVolumeID(t *testing.T) {
	cases := []struct {
		name, version, arch string
		want                string
	}{
		{"Acme Linux", "9", "x86_64", "Acme-Linux-9-x86_64"},
		{"Plain", "1", "aarch64", "Plain-1-aarch64"},
		{"A Very Long Distribution Name Indeed", "10", "x86_64", "A-Very-Long-Distribution-Name-In"},
	}

	for _, c := range cases {
		got := ComputeVolumeID(c.name, c.version, c.arch)
		if got != c.want {
			t.Errorf("ComputeVolumeID(%q, %q, %q) = %q, want %q", c.name, c.version, c.arch, got, c.want)
		}
		if len(got) > 32 {
			t.Errorf("volume id %q exceeds 32 characters", got)
		}
		if strings.Contains(got, " ") {
			t.Errorf("volume id %q contains spaces", got)
		}
	}
}

func TestComputeVolumeIDLengthInvariant(t *testing.T) {
	names := []string{"", "X", "Some Distro", strings.Repeat("Long Name ", 20)}
	versions := []string{"", "9", "10.3", "2025.08"}
	arches := []string{"x86_64", "aarch64", "ppc64le"}

	for _, n := range names {
		for _, v := range versions {
			for _, a := range arches {
				id := ComputeVolumeID(n, v, a)
				if len(id) > 32 {
					t.Fatalf("ComputeVolumeID(%q, %q, %q) = %q: too long", n, v, a, id)
				}
				if strings.Contains(id, " ") {
					t.Fatalf("ComputeVolumeID(%q, %q, %q) = %q: contains space", n, v, a, id)
				}
			}
		}
	}
}

func TestDetectOriginalVolumeIDFromGrub(t *testing.T) {
	root := t.TempDir()
	writeTreeFile(t, root, "EFI/BOOT/grub.cfg", "menuentry 'Install' {\n\tlinuxefi /images/pxeboot/vmlinuz inst.stage2=hd:LABEL=Upstream-9-BaseOS-x86_64 quiet\n}\n")

	if got := DetectOriginalVolumeID(root); got != "Upstream-9-BaseOS-x86_64" {
		t.Fatalf("DetectOriginalVolumeID = %q, want Upstream-9-BaseOS-x86_64", got)
	}
}

func TestDetectOriginalVolumeIDQuotedSearch(t *testing.T) {
	root := t.TempDir()
	writeTreeFile(t, root, "EFI/BOOT/grub.cfg", "search --no-floppy --set=root -l 'Upstream-9-BaseOS-x86_64'\n")

	if got := DetectOriginalVolumeID(root); got != "Upstream-9-BaseOS-x86_64" {
		t.Fatalf("DetectOriginalVolumeID = %q, want Upstream-9-BaseOS-x86_64", got)
	}
}

func TestDetectOriginalVolumeIDFallsBackToBIOSMenu(t *testing.T) {
	root := t.TempDir()
	writeTreeFile(t, root, "isolinux/isolinux.cfg", "append initrd=initrd.img inst.stage2=hd:LABEL=Other-8-x86_64 quiet\n")

	if got := DetectOriginalVolumeID(root); got != "Other-8-x86_64" {
		t.Fatalf("DetectOriginalVolumeID = %q, want Other-8-x86_64", got)
	}
}

func TestDetectOriginalVolumeIDLegacyGrubConf(t *testing.T) {
	root := t.TempDir()
	writeTreeFile(t, root, "isolinux/grub.conf", "kernel vmlinuz inst.stage2=hd:LABEL=Legacy-7-x86_64\n")

	if got := DetectOriginalVolumeID(root); got != "Legacy-7-x86_64" {
		t.Fatalf("DetectOriginalVolumeID = %q, want Legacy-7-x86_64", got)
	}
}

func TestDetectOriginalVolumeIDAbsent(t *testing.T) {
	if got := DetectOriginalVolumeID(t.TempDir()); got != "" {
		t.Fatalf("DetectOriginalVolumeID on empty tree = %q, want empty", got)
	}
}

func writeTreeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}
