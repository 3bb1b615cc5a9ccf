package resign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InputKind is the packaging of an input application
type InputKind int

const (
	KindIPA InputKind = iota + 1
	KindDeb
	KindApp
	KindXCArchive
)

func (k InputKind) String() string {
	switch k {
	case KindIPA:
		return "ipa"
	case KindDeb:
		return "deb"
	case KindApp:
		return "app"
	case KindXCArchive:
		return "xcarchive"
	default:
		return fmt.Sprintf("InputKind(%d)", int(k))
	}
}

// ParseInputKind maps the file extension of name to an InputKind
func ParseInputKind(name string) (InputKind, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimRight(name, `/\`)))
	switch ext {
	case ".ipa":
		return KindIPA, nil
	case ".deb":
		return KindDeb, nil
	case ".app":
		return KindApp, nil
	case ".xcarchive":
		return KindXCArchive, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedInput, ext)
	}
}

// Extract unpacks input into the workspace so that ws.PayloadDir holds the
// application bundles
func Extract(ctx context.Context, kind InputKind, input string, ws *Workspace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("%w: %s", ErrInputMissing, input)
	}

	var err error
	switch kind {
	case KindDeb:
		err = extractDeb(input, ws)
	case KindIPA:
		err = ExtractZip(input, ws.WorkingDir)
	case KindApp:
		if err = os.MkdirAll(ws.PayloadDir, 0755); err == nil {
			err = copyDir(input, filepath.Join(ws.PayloadDir, filepath.Base(filepath.Clean(input))))
		}
	case KindXCArchive:
		products := filepath.Join(input, "Products", "Applications")
		if _, statErr := os.Stat(products); statErr != nil {
			return fmt.Errorf("%w: %s has no Products/Applications", ErrPayloadMissing, filepath.Base(input))
		}
		err = copyDir(products, ws.PayloadDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInput, kind)
	}
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(ws.PayloadDir)
	if err != nil || len(entries) == 0 {
		return ErrPayloadMissing
	}
	return nil
}
