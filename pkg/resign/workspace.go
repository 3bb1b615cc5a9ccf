package resign

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// PathKind names a location inside a Workspace
type PathKind int

const (
	PathWorking PathKind = iota
	PathPayload
	PathEggs
	PathDeb
	PathEntitlements
	PathDownload
)

// Workspace is the private temporary tree of a single run
type Workspace struct {
	Root             string
	WorkingDir       string
	PayloadDir       string
	EggDir           string
	DebDir           string
	EntitlementsPath string

	log     logrus.FieldLogger
	once    sync.Once
	mu      sync.Mutex
	eggSeq  int
	destroy bool
}

// NewWorkspace creates a uniquely named temporary tree under parent, or under
// the system temp directory when parent is empty
func NewWorkspace(parent string, log logrus.FieldLogger) (*Workspace, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	root, err := os.MkdirTemp(parent, "appsigner-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ws := &Workspace{
		Root:             root,
		WorkingDir:       filepath.Join(root, "out"),
		PayloadDir:       filepath.Join(root, "out", "Payload"),
		EggDir:           filepath.Join(root, "eggs"),
		DebDir:           filepath.Join(root, "deb"),
		EntitlementsPath: filepath.Join(root, "entitlements.plist"),
		log:              log,
	}

	for _, dir := range []string{ws.WorkingDir, ws.EggDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	log.WithField("path", root).Debug("created workspace")
	return ws, nil
}

// Path returns the location of kind inside the workspace
func (w *Workspace) Path(kind PathKind) string {
	switch kind {
	case PathWorking:
		return w.WorkingDir
	case PathPayload:
		return w.PayloadDir
	case PathEggs:
		return w.EggDir
	case PathDeb:
		return w.DebDir
	case PathEntitlements:
		return w.EntitlementsPath
	case PathDownload:
		return filepath.Join(w.Root, "download")
	default:
		panic(fmt.Sprintf("unknown workspace path kind %d", kind))
	}
}

// NextEggDir creates and returns a fresh numbered scratch directory for an
// egg. It fails once the workspace is destroyed.
func (w *Workspace) NextEggDir() (string, error) {
	if w.Destroyed() {
		return "", fmt.Errorf("workspace %s was destroyed", w.Root)
	}

	w.mu.Lock()
	w.eggSeq++
	dir := filepath.Join(w.EggDir, strconv.Itoa(w.eggSeq))
	w.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create egg directory: %w", err)
	}
	return dir, nil
}

// Destroy removes the workspace tree. Only the first call has an effect; a
// removal failure is logged and otherwise ignored.
func (w *Workspace) Destroy() {
	w.once.Do(func() {
		w.mu.Lock()
		w.destroy = true
		w.mu.Unlock()

		if err := os.RemoveAll(w.Root); err != nil {
			w.log.WithError(err).Warn("unable to delete temp folder")
			return
		}
		w.log.WithField("path", w.Root).Debug("deleted workspace")
	})
}

// Destroyed reports whether Destroy has run
func (w *Workspace) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroy
}
