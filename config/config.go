package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

type Manifest struct {
	Identity struct {
		Name    string `toml:"name" default:"" validate:"required"`    // Distribution display name (e.g. "Acme Linux")
		Version string `toml:"version" default:"" validate:"required"` // Distribution version (e.g. "9")
		Vendor  string `toml:"vendor" default:""`                      // Vendor / organization name shown in release files
		OSID    string `toml:"os_id" default:""`                       // Lowercase machine id (e.g. "acme-linux"). Derived from the name when empty.
		BugURL  string `toml:"bug_url" default:""`                     // Support / bug report URL baked into os-release and .buildstamp
	} `toml:"identity"` // Distribution identity

	Build struct {
		BaseISO        string `toml:"base_iso" default:"" validate:"required"`     // Path to the upstream bootable ISO to remaster
		OutputDir      string `toml:"output_dir" default:"./out"`                  // Directory the remastered ISO and checksum are written to
		Arch           string `toml:"arch" default:"x86_64"`                       // Target architecture, used in the volume ID and output file name
		BootTimeout    int    `toml:"boot_timeout" default:"60" validate:"gte=1"`  // Boot menu timeout in whole seconds (isolinux gets tenths)
		KeepWorkDir    bool   `toml:"keep_work_dir" default:"false"`               // Keep the scratch tree after a successful build
		ToolTimeoutSec int    `toml:"tool_timeout" default:"600" validate:"gte=1"` // Per external tool invocation timeout in seconds
	} `toml:"build"` // Build settings

	Branding struct {
		AssetsDir string `toml:"assets_dir" default:""`   // Optional directory with grub/, logos/, anaconda/ asset subfolders
		IsFinal   bool   `toml:"is_final" default:"true"` // Whether the installer should report a final (non-beta) release
	} `toml:"branding"` // Branding assets
}

// EffectiveOSID returns the configured machine id, or one derived from the
// distribution name (lowercased, spaces to hyphens).
func (m *Manifest) EffectiveOSID() string {
	if m.Identity.OSID != "" {
		return m.Identity.OSID
	}
	return strings.ReplaceAll(strings.ToLower(m.Identity.Name), " ", "-")
}

var (
	Config           Manifest
	loadedConfigPath string
)

func LoadedConfigPath() string {
	return loadedConfigPath
}

func loadConfig(path string) (err error) {
	// Apply struct defaults BEFORE loading TOML (so TOML overrides)
	if err = defaults.Set(&Config); err != nil {
		err = fmt.Errorf("set defaults: %w", err)
		return
	}

	// Decode TOML file into struct
	if _, err = toml.DecodeFile(path, &Config); err != nil {
		err = fmt.Errorf("decode toml: %w", err)
		return
	}

	// Validate required fields
	if err = validator.New(validator.WithRequiredStructEnabled()).Struct(Config); err != nil {
		err = fmt.Errorf("validate manifest: %w", err)
	}

	return
}

// Generate writes a manifest with all default values filled in.
// It will overwrite any existing file at path.
func Generate(path string) (err error) {
	var m Manifest

	// 1. Apply struct defaults
	if err = defaults.Set(&m); err != nil {
		err = fmt.Errorf("set defaults: %w", err)
		return
	}

	// NOTE: Do NOT validate here.
	// The default manifest is allowed to be "invalid" from a required-fields POV;
	// it's just a template for the user to fill in.
	// Validation happens when we actually load the file.

	// 2. Create / truncate the file
	var file *os.File
	if file, err = os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644); err != nil {
		err = fmt.Errorf("create manifest file: %w", err)
		return
	}

	defer file.Close()

	// 3. Encode as TOML
	var encoder *toml.Encoder = toml.NewEncoder(file)
	encoder.Indent = "    "
	if err = encoder.Encode(m); err != nil {
		err = fmt.Errorf("encode toml: %w", err)
	}

	return
}

func Init(path string) (err error) {
	if !filepath.IsAbs(path) {
		if path, err = filepath.Abs(path); err != nil {
			return err
		}
	}
	loadedConfigPath = path

	if _, err = os.Stat(path); err != nil {
		if err = Generate(path); err != nil {
			return
		}

		err = fmt.Errorf("no manifest found, created a default manifest at %s. Please fill in the required values and try again", path)
		return
	}

	if err = loadConfig(path); err != nil {
		return err
	}

	return nil
}
