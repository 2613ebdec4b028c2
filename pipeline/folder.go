package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProvenanceFile is written into every listing folder and holds the source URL.
const ProvenanceFile = "source_url.txt"

// createListingFolder makes outputDir/name and records sourceURL inside it.
func createListingFolder(outputDir, name, sourceURL string) (string, error) {
	folder := filepath.Join(outputDir, name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create listing folder %q: %w", folder, err)
	}

	path := filepath.Join(folder, ProvenanceFile)
	if err := os.WriteFile(path, []byte(sourceURL), 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", path, err)
	}
	return folder, nil
}
