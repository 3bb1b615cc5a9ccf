package resign

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Package writes the processed workspace to output. Outputs ending in .app
// receive a copy of the single processed bundle and replace an existing
// bundle; anything else is a zip archive of the working directory and
// replaces an existing file, never a directory. A partially written output is
// removed on failure.
func Package(ws *Workspace, output string) error {
	isApp := strings.EqualFold(filepath.Ext(output), ".app")
	if err := clearOutput(output, isApp); err != nil {
		return fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrPackaging, err)
		}
	}

	var err error
	if isApp {
		err = packageApp(ws, output)
	} else {
		err = CreateZip(ws.WorkingDir, output)
	}
	if err != nil {
		if isApp {
			os.RemoveAll(output)
		} else {
			os.Remove(output)
		}
		return fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	return nil
}

// clearOutput removes what is in the way of output
func clearOutput(output string, isApp bool) error {
	info, err := os.Lstat(output)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	if isApp {
		return os.RemoveAll(output)
	}
	if info.IsDir() {
		return fmt.Errorf("output %s is a directory", output)
	}
	return os.Remove(output)
}

func packageApp(ws *Workspace, output string) error {
	entries, err := os.ReadDir(ws.PayloadDir)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("an .app output needs exactly one bundle, found %d", len(entries))
	}
	return copyDir(filepath.Join(ws.PayloadDir, entries[0].Name()), output)
}
