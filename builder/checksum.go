package builder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// WriteChecksum writes a sha256sum-compatible sidecar next to the image and
// returns its path.
func WriteChecksum(imagePath string) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	d, err := digest.FromReader(file)
	if err != nil {
		return "", fmt.Errorf("digest image: %w", err)
	}

	checksumPath := imagePath + ".sha256"
	line := fmt.Sprintf("%s  %s\n", d.Encoded(), filepath.Base(imagePath))
	if err := os.WriteFile(checksumPath, []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("write checksum file: %w", err)
	}

	log.Statusf("checksum: %s\n", checksumPath)
	return checksumPath, nil
}
