package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdomanski/iso9660"

	"github.com/distroforge/forge/config"
	"github.com/distroforge/forge/iso"
)

func testManifest(t *testing.T) *config.Manifest {
	t.Helper()
	var m config.Manifest
	m.Identity.Name = "Acme Linux"
	m.Identity.Version = "9"
	m.Build.BaseISO = filepath.Join(t.TempDir(), "missing.iso")
	m.Build.OutputDir = t.TempDir()
	m.Build.Arch = "x86_64"
	m.Build.BootTimeout = 45
	return &m
}

func TestRunFailsOnMissingSource(t *testing.T) {
	b := New(testManifest(t), &iso.Toolset{ToolTimeout: time.Minute})
	t.Cleanup(func() { os.RemoveAll(b.WorkDir()) })

	if _, err := b.Run(context.Background()); err == nil {
		t.Fatal("expected failure for a missing source image")
	}
	if b.State() != StateFailed {
		t.Errorf("state after failure = %v, want failed", b.State())
	}
}

func TestRunRefusesSecondRun(t *testing.T) {
	b := New(testManifest(t), &iso.Toolset{ToolTimeout: time.Minute})
	t.Cleanup(func() { os.RemoveAll(b.WorkDir()) })

	if _, err := b.Run(context.Background()); err == nil {
		t.Fatal("expected the first run to fail")
	}

	if _, err := b.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run = %v, want ErrAlreadyRun", err)
	}
}

func TestOutputImageName(t *testing.T) {
	b := New(testManifest(t), &iso.Toolset{})

	if got := b.outputImageName(); got != "Acme-Linux-9-x86_64.iso" {
		t.Errorf("outputImageName = %q, want Acme-Linux-9-x86_64.iso", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:     "idle",
		StatePatching: "patching",
		StateDone:     "done",
		StateFailed:   "failed",
		State(42):     "state(42)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestWriteChecksum(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "acme.iso")
	if err := os.WriteFile(imagePath, []byte("hello world\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	checksumPath, err := WriteChecksum(imagePath)
	if err != nil {
		t.Fatalf("WriteChecksum failed: %v", err)
	}
	if checksumPath != imagePath+".sha256" {
		t.Errorf("checksum path = %q", checksumPath)
	}

	raw, err := os.ReadFile(checksumPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447  acme.iso\n"
	if string(raw) != want {
		t.Errorf("checksum file = %q, want %q", raw, want)
	}
}

func TestWriteChecksumMissingImage(t *testing.T) {
	if _, err := WriteChecksum(filepath.Join(t.TempDir(), "nope.iso")); err == nil {
		t.Fatal("expected an error for a missing image")
	}
}

func TestCreateISO9660Image(t *testing.T) {
	staging := t.TempDir()
	if err := os.MkdirAll(filepath.Join(staging, "run", "install", "product"), 0o755); err != nil {
		t.Fatal(err)
	}
	stamp := "[Main]\nProduct=Acme Linux\n"
	if err := os.WriteFile(filepath.Join(staging, "run", "install", "product", ".buildstamp"), []byte(stamp), 0o644); err != nil {
		t.Fatal(err)
	}

	imagePath := filepath.Join(t.TempDir(), "product.img")
	if err := createISO9660Image(staging, imagePath); err != nil {
		t.Fatalf("createISO9660Image failed: %v", err)
	}

	file, err := os.Open(imagePath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	img, err := iso9660.OpenImage(file)
	if err != nil {
		t.Fatalf("overlay image is not a readable iso9660 image: %v", err)
	}
	root, err := img.RootDir()
	if err != nil {
		t.Fatal(err)
	}
	children, err := root.GetChildren()
	if err != nil {
		t.Fatal(err)
	}
	if len(children) == 0 {
		t.Error("overlay image has an empty root directory")
	}
}

func TestCreateProductImageNativeFallback(t *testing.T) {
	staging := t.TempDir()
	if err := os.WriteFile(filepath.Join(staging, "logo.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	// No mksquashfs and no cpio: the native writer is the last resort.
	imagePath := filepath.Join(t.TempDir(), "images", "product.img")
	if err := createProductImage(context.Background(), &iso.Toolset{ToolTimeout: time.Minute}, staging, imagePath); err != nil {
		t.Fatalf("createProductImage failed: %v", err)
	}

	info, err := os.Stat(imagePath)
	if err != nil {
		t.Fatalf("product image missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("product image is empty")
	}
}
