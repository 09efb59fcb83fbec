package iso

import (
	"context"
	"regexp"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
)

var reMkisofsVolID = regexp.MustCompile(`-V\s+'([^']+)'`)

// ProbeVolumeID reads the volume identifier straight from the source image's
// own metadata, independent of any boot-config scanning. Returns "" when no
// probe succeeds; the label is optional everywhere downstream.
func ProbeVolumeID(ctx context.Context, tools *Toolset, sourceISO string) string {
	if tools.Isoinfo != "" {
		if out, _, err := tools.runTool(ctx, tools.Isoinfo, "-d", "-i", sourceISO); err == nil {
			if id := parseIsoinfoVolumeID(out); id != "" {
				return id
			}
		}
	}

	if tools.Xorriso != "" {
		if out, _, err := tools.runTool(ctx, tools.Xorriso, "-indev", sourceISO, "-report_el_torito", "as_mkisofs"); err == nil {
			if id := parseMkisofsReportVolumeID(out); id != "" {
				return id
			}
		}
	}

	// Native fallback: read the primary volume descriptor directly.
	if d, err := diskfs.Open(sourceISO); err == nil {
		if fs, err := d.GetFilesystem(0); err == nil {
			if id := strings.TrimSpace(fs.Label()); id != "" {
				return id
			}
		}
	}

	return ""
}

func parseIsoinfoVolumeID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Volume id:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Volume id:"))
		}
	}
	return ""
}

func parseMkisofsReportVolumeID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if m := reMkisofsVolID.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}
