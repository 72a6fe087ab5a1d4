// Package diagnostics bundles the replayed suspend/resume log and metrics
// files into a single zstd-compressed tar archive for operators to pull
// off a device after a hibernate attempt, good or bad.
package diagnostics

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Bundle writes a zstd-compressed tar archive containing every file in
// files (missing files are skipped, not an error — a dry run or an
// attempt that failed before preallocation may not have all of them) to
// destPath.
func Bundle(destPath string, files map[string]string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("diagnostics: create archive: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("diagnostics: new zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	var werr error
	for name, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue // file wasn't produced this attempt; not fatal
		}
		if werr = tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: int64(info.Mode().Perm()),
			Size: info.Size(),
		}); werr != nil {
			break
		}
		f, err := os.Open(path)
		if err != nil {
			werr = fmt.Errorf("open %s: %w", path, err)
			break
		}
		_, werr = io.Copy(tw, f)
		f.Close()
		if werr != nil {
			break
		}
	}

	tw.Close()
	zw.Close()
	if werr != nil {
		os.Remove(destPath)
		return fmt.Errorf("diagnostics: write archive: %w", werr)
	}
	return nil
}

// Extract unpacks a diagnostics archive into destDir, primarily for
// operator tooling inspecting a pulled bundle.
func Extract(archivePath, destDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("diagnostics: open archive: %w", err)
	}
	defer in.Close()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("diagnostics: new zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("diagnostics: tar read: %w", err)
		}

		target := filepath.Join(destDir, header.Name)
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(destDir)) {
			return fmt.Errorf("diagnostics: entry %q attempts path traversal", header.Name)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
		if err != nil {
			return err
		}
		_, err = io.Copy(f, tr)
		f.Close()
		if err != nil {
			return fmt.Errorf("diagnostics: write %s: %w", target, err)
		}
	}
	return nil
}
