package branding

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/distroforge/forge/config"
	"github.com/z46-dev/go-logger"
)

var log *logger.Logger = logger.NewLogger().SetPrefix("[BRAND]", logger.BoldYellow)

// Known upstream distribution name patterns. Versioned, most-specific
// patterns come first so a bare name pattern cannot shadow them.
var upstreamVersionedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)CentOS\s+Stream\s+\d+`),
	regexp.MustCompile(`(?i)CentOS\s+Linux\s+\d+`),
	regexp.MustCompile(`(?i)CentOS\s+\d+`),
	regexp.MustCompile(`(?i)Red\s+Hat\s+Enterprise\s+Linux\s+\d+(?:\.\d+)?`),
	regexp.MustCompile(`(?i)Rocky\s+Linux\s+\d+(?:\.\d+)?`),
	regexp.MustCompile(`(?i)AlmaLinux\s+\d+(?:\.\d+)?`),
	regexp.MustCompile(`(?i)Fedora\s+\d+`),
}

// Unversioned leftovers, applied after the versioned table. The trailing
// capture keeps hyphenated tokens (volume labels like CentOS-Stream-9-...)
// untouched; those are the volume-id rewrite's job, not free-text branding.
var (
	reCentOSStreamBare = regexp.MustCompile(`(?i)CentOS\s+Stream($|[^-\w])`)
	reCentOSBare       = regexp.MustCompile(`(?i)CentOS($|[^-\w])`)
	reRHELBare         = regexp.MustCompile(`(?i)Red\s+Hat\s+Enterprise\s+Linux`)
)

var (
	reRescueEntry = regexp.MustCompile(`(?i)Rescue a\s+\S+(?:\s+\S+)?\s+system`)
	reGrubTimeout = regexp.MustCompile(`set timeout=\d+`)
	reMenuTitle   = regexp.MustCompile(`(?im)^menu title .*$`)
	reBIOSTimeout = regexp.MustCompile(`(?m)^timeout \d+`)
	reTreeFamily  = regexp.MustCompile(`(?m)^family = .*$`)
	reTreeName    = regexp.MustCompile(`(?m)^name = .*$`)
	reTreeShort   = regexp.MustCompile(`(?m)^short = .*$`)
	reTreeVersion = regexp.MustCompile(`(?m)^version = .*$`)
)

// Staging carries the two overlay trees the patcher builds for the
// downstream packaging step. Either root may be empty when nothing was
// staged.
type Staging struct {
	InstallerRoot string // installer branding, folded into images/product.img
	ReleaseRoot   string // release-identity files, injected at install time
}

// Relative staging locations under the working tree. Both are removed from
// the tree before repacking.
const (
	installerStagingDir = "_product_staging"
	releaseStagingDir   = "_release_staging"
)

// Apply rewrites every boot-time identity artifact in the tree and stages
// the overlay content. Missing artifacts are skipped with a warning; any
// write failure is fatal because a half-patched tree must never be repacked.
func Apply(root string, m *config.Manifest, originalID, newID string) (*Staging, error) {
	if originalID != "" {
		log.Basicf("volume id: %s -> %s\n", originalID, newID)
	} else {
		log.Basicf("no original volume label detected, patching branding text only\n")
	}

	p := &patcher{
		root:       root,
		name:       m.Identity.Name,
		version:    m.Identity.Version,
		osID:       m.EffectiveOSID(),
		bugURL:     m.Identity.BugURL,
		vendor:     m.Identity.Vendor,
		isFinal:    m.Branding.IsFinal,
		timeoutSec: m.Build.BootTimeout,
		originalID: originalID,
		newID:      newID,
	}

	if err := p.patchGrubCfg(); err != nil {
		return nil, err
	}
	if err := p.patchIsolinuxCfg(); err != nil {
		return nil, err
	}
	if err := p.patchLegacyGrubConf(); err != nil {
		return nil, err
	}
	if err := p.patchBootMsg(); err != nil {
		return nil, err
	}
	if err := p.patchTreeinfo(); err != nil {
		return nil, err
	}
	if err := p.patchDiscinfo(); err != nil {
		return nil, err
	}

	staging := &Staging{}
	if err := p.copyAssets(m.Branding.AssetsDir, staging); err != nil {
		return nil, err
	}
	if err := p.stageReleaseFiles(staging); err != nil {
		return nil, err
	}

	log.Basicf("branding applied\n")
	return staging, nil
}

type patcher struct {
	root       string
	name       string
	version    string
	osID       string
	bugURL     string
	vendor     string
	isFinal    bool
	timeoutSec int
	originalID string
	newID      string
}

// replaceVolumeLabel swaps the original label for the new one in both forms
// a boot menu uses it: hd:LABEL=<id> and the quoted search-by-label '<id>'.
// With no original label this is a no-op.
func (p *patcher) replaceVolumeLabel(text string) string {
	if p.originalID == "" {
		return text
	}
	text = strings.ReplaceAll(text, "hd:LABEL="+p.originalID, "hd:LABEL="+p.newID)
	text = strings.ReplaceAll(text, "'"+p.originalID+"'", "'"+p.newID+"'")
	return text
}

func (p *patcher) replaceDistroName(text string) string {
	for _, re := range upstreamVersionedPatterns {
		text = re.ReplaceAllString(text, p.name)
	}
	text = reCentOSStreamBare.ReplaceAllString(text, p.name+"${1}")
	text = reCentOSBare.ReplaceAllString(text, p.name+"${1}")
	text = reRHELBare.ReplaceAllString(text, p.name)
	return text
}

// patchFile runs transform over the whole artifact text and writes it back
// in one shot. A missing artifact is normal and skipped with a warning.
func (p *patcher) patchFile(rel string, transform func(string) string) (found bool, err error) {
	path := filepath.Join(p.root, filepath.FromSlash(rel))

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", rel, err)
	}

	if err := os.WriteFile(path, []byte(transform(string(raw))), 0o644); err != nil {
		return true, fmt.Errorf("write %s: %w", rel, err)
	}

	log.Statusf("%s patched\n", rel)
	return true, nil
}

func (p *patcher) patchGrubCfg() error {
	for _, rel := range grubCfgCandidates {
		found, err := p.patchFile(rel, func(text string) string {
			text = p.replaceVolumeLabel(text)
			text = p.replaceDistroName(text)
			text = reRescueEntry.ReplaceAllString(text, "Rescue a "+p.name+" system")
			text = reGrubTimeout.ReplaceAllString(text, fmt.Sprintf("set timeout=%d", p.timeoutSec))
			return text
		})
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}

	log.Warningf("no GRUB config found, skipping\n")
	return nil
}

func (p *patcher) patchIsolinuxCfg() error {
	var any bool
	for _, rel := range isolinuxCfgCandidates {
		found, err := p.patchFile(rel, func(text string) string {
			text = p.replaceVolumeLabel(text)
			text = reMenuTitle.ReplaceAllString(text, "menu title "+p.name+" "+p.version)
			text = p.replaceDistroName(text)
			text = reRescueEntry.ReplaceAllString(text, "Rescue a "+p.name+" system")
			// isolinux counts in tenths of a second
			text = reBIOSTimeout.ReplaceAllString(text, fmt.Sprintf("timeout %d", p.timeoutSec*10))
			return text
		})
		if err != nil {
			return err
		}
		any = any || found
	}

	if !any {
		log.Warningf("no isolinux/syslinux config found, skipping\n")
	}
	return nil
}

func (p *patcher) patchLegacyGrubConf() error {
	_, err := p.patchFile(legacyGrubConf, func(text string) string {
		text = p.replaceVolumeLabel(text)
		text = p.replaceDistroName(text)
		text = reBIOSTimeout.ReplaceAllString(text, fmt.Sprintf("timeout %d", p.timeoutSec))
		return text
	})
	return err
}

func (p *patcher) patchBootMsg() error {
	_, err := p.patchFile("isolinux/boot.msg", p.replaceDistroName)
	return err
}

func (p *patcher) patchTreeinfo() error {
	// Boot ISOs have no .treeinfo; only DVD trees carry one.
	_, err := p.patchFile(".treeinfo", func(text string) string {
		text = reTreeFamily.ReplaceAllString(text, "family = "+p.name)
		text = reTreeName.ReplaceAllString(text, "name = "+p.name+" "+p.version)
		text = reTreeShort.ReplaceAllString(text, "short = "+p.osID)
		text = reTreeVersion.ReplaceAllString(text, "version = "+p.version)
		return text
	})
	return err
}

// .discinfo is positional: line 1 timestamp, line 2 identity, line 3 arch.
// Only line 2 changes.
func (p *patcher) patchDiscinfo() error {
	path := filepath.Join(p.root, ".discinfo")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read .discinfo: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) >= 2 {
		lines[1] = p.version
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write .discinfo: %w", err)
	}

	log.Statusf(".discinfo patched\n")
	return nil
}
