package resign

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
	"github.com/xi2/xz"
)

// dataArchiveNames lists the data members of a Debian package in the order
// they are looked for
var dataArchiveNames = []string{
	"data.tar",
	"data.tar.gz",
	"data.tar.bz2",
	"data.tar.lzma",
	"data.tar.xz",
	"data.tar.zst",
}

// UnpackDeb writes every member of the ar archive at path into dest
func UnpackDeb(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	reader := ar.NewReader(f)
	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}

		// GNU ar terminates member names with a slash
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("invalid member name %q in %s", hdr.Name, filepath.Base(path))
		}

		out, err := os.OpenFile(filepath.Join(dest, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, reader)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
	}
	return nil
}

// findDataArchive returns the first data member present in dir
func findDataArchive(dir string) (string, error) {
	for _, name := range dataArchiveNames {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", errors.New("no data archive found in package")
}

// UnpackDataArchive extracts a possibly compressed tar archive into dest. The
// compression is chosen from the file extension.
func UnpackDataArchive(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(f, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer closeFn()

	if err := extractTar(r, dest); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
	}
	return nil
}

func decompressor(r io.Reader, ext string) (io.Reader, func(), error) {
	nop := func() {}
	switch ext {
	case ".tar":
		return r, nop, nil
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	case ".bz2":
		return bzip2.NewReader(r), nop, nil
	case ".lzma":
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return lr, nop, nil
	case ".xz":
		xr, err := xz.NewReader(r, 0)
		if err != nil {
			return nil, nil, err
		}
		return xr, nop, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized compression %q", ext)
	}
}

func extractTar(r io.Reader, dest string) error {
	dest = filepath.Clean(dest)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		target := filepath.Join(dest, hdr.Name)
		if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm()|0600)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		default:
			// device nodes, fifos and hard links never occur inside app bundles
		}
	}
}

// extractDeb unpacks the application directories of a Debian package into
// the workspace Payload directory
func extractDeb(input string, ws *Workspace) error {
	defer os.RemoveAll(ws.DebDir)

	if err := UnpackDeb(input, ws.DebDir); err != nil {
		return err
	}

	data, err := findDataArchive(ws.DebDir)
	if err != nil {
		return err
	}

	contents := filepath.Join(ws.DebDir, "contents")
	if err := UnpackDataArchive(data, contents); err != nil {
		return err
	}

	for _, dir := range []string{"Applications", filepath.Join("var", "mobile", "Applications")} {
		apps := filepath.Join(contents, dir)
		if info, err := os.Stat(apps); err == nil && info.IsDir() {
			if err := os.Rename(apps, ws.PayloadDir); err != nil {
				return fmt.Errorf("failed to move %s to Payload: %w", dir, err)
			}
			return nil
		}
	}

	return ErrPayloadMissing
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
