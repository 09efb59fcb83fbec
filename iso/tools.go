package iso

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Toolset is the host capability probe, computed once at pipeline start and
// threaded through every engine. An empty field means the tool is absent.
type Toolset struct {
	Xorriso       string
	Mount         string
	Umount        string
	SevenZip      string
	Isoinfo       string
	Genisoimage   string
	Mkisofs       string
	Isohybrid     string
	ImplantISOMD5 string
	Mksquashfs    string
	Cpio          string

	// ToolTimeout bounds every external tool invocation.
	ToolTimeout time.Duration
}

// ProbeTools resolves the external tools the pipeline can use. Absence of any
// individual tool is not an error; each engine degrades per its own fallback
// chain.
func ProbeTools(toolTimeout time.Duration) *Toolset {
	look := func(name string) string {
		path, err := exec.LookPath(name)
		if err != nil {
			return ""
		}
		return path
	}

	if toolTimeout <= 0 {
		toolTimeout = 10 * time.Minute
	}

	return &Toolset{
		Xorriso:       look("xorriso"),
		Mount:         look("mount"),
		Umount:        look("umount"),
		SevenZip:      look("7z"),
		Isoinfo:       look("isoinfo"),
		Genisoimage:   look("genisoimage"),
		Mkisofs:       look("mkisofs"),
		Isohybrid:     look("isohybrid"),
		ImplantISOMD5: look("implantisomd5"),
		Mksquashfs:    look("mksquashfs"),
		Cpio:          look("cpio"),
		ToolTimeout:   toolTimeout,
	}
}

// runTool executes bin with a bounded timeout and returns stdout and stderr
// separately. A non-zero exit is returned as an error that includes the tail
// of stderr.
func (t *Toolset) runTool(ctx context.Context, bin string, args ...string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, t.ToolTimeout)
	defer cancel()

	var (
		outBuf bytes.Buffer
		errBuf bytes.Buffer
	)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err = cmd.Run(); err != nil {
		err = fmt.Errorf("%s: %w (stderr: %s)", bin, err, tail(errBuf.String(), 400))
	}

	return outBuf.String(), errBuf.String(), err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
