package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/z46-dev/go-logger"

	"github.com/distroforge/forge/branding"
	"github.com/distroforge/forge/config"
	"github.com/distroforge/forge/iso"
)

var log *logger.Logger = logger.NewLogger().SetPrefix("[BUILD]", logger.BoldGreen).IncludeTimestamp()

// State is the pipeline position. Transitions are strictly sequential;
// StateFailed is terminal and reachable from any step.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StatePatching
	StatePackaging
	StateRepacking
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StatePatching:
		return "patching"
	case StatePackaging:
		return "packaging"
	case StateRepacking:
		return "repacking"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrAlreadyRun = errors.New("builder has already run; create a new one per build")

// Result carries the durable artifacts of a successful build.
type Result struct {
	ImagePath          string
	ChecksumPath       string
	VolumeID           string
	ExtractionStrategy string
	ReleaseOverlayDir  string // empty when the scratch dir was discarded
}

// Builder owns the working directory for exactly one build. Concurrent
// builds must each use their own Builder; the scratch directory is unique
// per instance.
type Builder struct {
	manifest *config.Manifest
	tools    *iso.Toolset
	workDir  string
	state    State

	tree           *iso.WorkingTree
	probedVolumeID string
}

func New(m *config.Manifest, tools *iso.Toolset) *Builder {
	return &Builder{
		manifest: m,
		tools:    tools,
		workDir:  filepath.Join(os.TempDir(), "forge-"+uuid.NewString()),
		state:    StateIdle,
	}
}

func (b *Builder) State() State    { return b.state }
func (b *Builder) WorkDir() string { return b.workDir }

// Run executes the full pipeline: extract, patch, package, repack, checksum.
// On failure the working tree is left in place for postmortem.
func (b *Builder) Run(ctx context.Context) (*Result, error) {
	if b.state != StateIdle {
		return nil, ErrAlreadyRun
	}

	m := b.manifest
	log.Basicf("building %s %s (work dir %s)\n", m.Identity.Name, m.Identity.Version, b.workDir)

	// ── Extract ─────────────────────────────────────────
	b.state = StateExtracting
	if err := os.MkdirAll(b.workDir, 0o755); err != nil {
		return nil, b.fail(fmt.Errorf("create work dir: %w", err))
	}

	// Probed label from the image's own metadata, kept as the detection
	// fallback and raw-repack default.
	b.probedVolumeID = iso.ProbeVolumeID(ctx, b.tools, m.Build.BaseISO)
	if b.probedVolumeID != "" {
		log.Statusf("source volume id: %s\n", b.probedVolumeID)
	}

	tree, err := iso.Extract(ctx, b.tools, m.Build.BaseISO, filepath.Join(b.workDir, "iso_root"))
	if err != nil {
		return nil, b.fail(err)
	}
	b.tree = tree

	// ── Patch identity ──────────────────────────────────
	b.state = StatePatching
	newID := branding.ComputeVolumeID(m.Identity.Name, m.Identity.Version, m.Build.Arch)

	originalID := branding.DetectOriginalVolumeID(tree.Root)
	if originalID == "" {
		// Boot menus without label references are normal; the probed label
		// still lets us migrate references in any format we did not scan.
		originalID = b.probedVolumeID
	}

	staging, err := branding.Apply(tree.Root, m, originalID, newID)
	if err != nil {
		return nil, b.fail(fmt.Errorf("apply identity: %w", err))
	}

	// ── Package overlays ────────────────────────────────
	b.state = StatePackaging
	releaseOverlay, err := b.packageOverlays(ctx, staging)
	if err != nil {
		return nil, b.fail(err)
	}

	// ── Repack ──────────────────────────────────────────
	b.state = StateRepacking
	imagePath := filepath.Join(m.Build.OutputDir, b.outputImageName())

	// The identifier baked into the image header and the one written into
	// the boot menus must be byte-identical, so both sides get newID.
	if err := iso.Repack(ctx, b.tools, tree.Root, imagePath, newID); err != nil {
		return nil, b.fail(err)
	}

	checksumPath, err := WriteChecksum(imagePath)
	if err != nil {
		log.Warningf("checksum generation failed: %v\n", err)
		checksumPath = ""
	}

	// ── Done ────────────────────────────────────────────
	b.state = StateDone
	result := &Result{
		ImagePath:          imagePath,
		ChecksumPath:       checksumPath,
		VolumeID:           newID,
		ExtractionStrategy: tree.Strategy,
		ReleaseOverlayDir:  releaseOverlay,
	}

	if m.Build.KeepWorkDir {
		log.Basicf("work dir kept: %s\n", b.workDir)
	} else {
		if err := os.RemoveAll(b.workDir); err != nil {
			log.Warningf("remove work dir: %v\n", err)
		}
		result.ReleaseOverlayDir = ""
	}

	log.Basicf("build complete: %s\n", imagePath)
	return result, nil
}

// packageOverlays folds the installer staging into images/product.img and
// moves the release staging out of the tree so it is not baked into the
// medium. Overlay image creation failing is degraded, not fatal.
func (b *Builder) packageOverlays(ctx context.Context, staging *branding.Staging) (releaseOverlay string, err error) {
	if staging.InstallerRoot != "" {
		productImg := filepath.Join(b.tree.Root, "images", "product.img")
		if err := createProductImage(ctx, b.tools, staging.InstallerRoot, productImg); err != nil {
			log.Warningf("product overlay image creation failed: %v\n", err)
		}
		if err := os.RemoveAll(staging.InstallerRoot); err != nil {
			return "", fmt.Errorf("remove installer staging: %w", err)
		}
	}

	if staging.ReleaseRoot != "" {
		releaseOverlay = filepath.Join(b.workDir, "release_overlay")
		if err := os.Rename(staging.ReleaseRoot, releaseOverlay); err != nil {
			return "", fmt.Errorf("move release staging: %w", err)
		}
	}

	return releaseOverlay, nil
}

func (b *Builder) outputImageName() string {
	m := b.manifest
	name := strings.ReplaceAll(m.Identity.Name, " ", "-")
	return fmt.Sprintf("%s-%s-%s.iso", name, m.Identity.Version, m.Build.Arch)
}

// fail transitions to the terminal failure state. The working tree is kept
// on disk on purpose; extraction strategies release their own mounts, so
// nothing else needs tearing down here.
func (b *Builder) fail(err error) error {
	b.state = StateFailed
	log.Errorf("build failed: %v\n", err)
	if b.tree != nil {
		log.Basicf("work dir preserved for postmortem: %s\n", b.workDir)
	}
	return err
}
