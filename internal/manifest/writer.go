package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/tools/imports"
)

// writeFileAtomic writes content to baseDir/relPath through a temporary
// file in the same directory and a rename.
func writeFileAtomic(baseDir, relPath string, content []byte, executable bool) error {
	fullPath := filepath.Join(baseDir, filepath.FromSlash(relPath))

	var mode os.FileMode = 0o644
	if executable {
		mode = 0o755
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure target directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-mcpgen-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", relPath, err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
		}
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Chmod(mode); err != nil {
		return fmt.Errorf("set file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpPath, fullPath, err)
	}
	success = true
	return nil
}

// formatGo gofmt-formats src and groups its imports. Imports are not
// added or removed, so output does not depend on the local module cache.
func formatGo(filename string, src []byte) ([]byte, error) {
	return imports.Process(filename, src, &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
}
