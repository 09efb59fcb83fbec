package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validManifest = `[identity]
name = "Acme Linux"
version = "9"
bug_url = "https://bugs.acme.example"

[build]
base_iso = "/isos/upstream.iso"
boot_timeout = 45
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitLoadsValidManifest(t *testing.T) {
	if err := Init(writeManifest(t, validManifest)); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if Config.Identity.Name != "Acme Linux" {
		t.Errorf("name = %q", Config.Identity.Name)
	}
	if Config.Build.BootTimeout != 45 {
		t.Errorf("boot_timeout = %d", Config.Build.BootTimeout)
	}

	// Unset fields fall back to struct defaults.
	if Config.Build.OutputDir != "./out" {
		t.Errorf("output_dir default = %q", Config.Build.OutputDir)
	}
	if Config.Build.Arch != "x86_64" {
		t.Errorf("arch default = %q", Config.Build.Arch)
	}
	if Config.Build.ToolTimeoutSec != 600 {
		t.Errorf("tool_timeout default = %d", Config.Build.ToolTimeoutSec)
	}
	if !Config.Branding.IsFinal {
		t.Error("is_final default should be true")
	}
}

func TestInitRejectsMissingRequiredFields(t *testing.T) {
	// Init decodes into the package-level Config, so clear any values left
	// behind by earlier tests before loading the incomplete manifest.
	Config = Manifest{}

	path := writeManifest(t, "[identity]\nname = \"Acme Linux\"\n")

	err := Init(path)
	if err == nil {
		t.Fatal("expected a validation error for a manifest without version and base_iso")
	}
	if !strings.Contains(err.Error(), "validate manifest") {
		t.Errorf("err = %v, want a validation error", err)
	}
}

func TestInitGeneratesTemplateWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.toml")

	err := Init(path)
	if err == nil {
		t.Fatal("expected an error telling the user to fill in the template")
	}

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("template was not written: %v", readErr)
	}
	for _, want := range []string{"[identity]", "[build]", "base_iso", "boot_timeout"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("template missing %q:\n%s", want, raw)
		}
	}
}

func TestEffectiveOSID(t *testing.T) {
	var m Manifest
	m.Identity.Name = "Acme Linux"
	if got := m.EffectiveOSID(); got != "acme-linux" {
		t.Errorf("derived os id = %q, want acme-linux", got)
	}

	m.Identity.OSID = "acmeos"
	if got := m.EffectiveOSID(); got != "acmeos" {
		t.Errorf("explicit os id = %q, want acmeos", got)
	}
}
