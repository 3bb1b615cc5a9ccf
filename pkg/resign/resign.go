package resign

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluedeke/go-appsigner/pkg/codesign"
	"github.com/sirupsen/logrus"
)

// CodeSigner signs and verifies files on disk
type CodeSigner interface {
	Sign(ctx context.Context, path, identity, entitlementsPath string) (string, error)
	Verify(ctx context.Context, path string) (string, error)
}

// IdentityDirectory looks up signing identities
type IdentityDirectory interface {
	Identities(ctx context.Context) ([]string, error)
	Certificate(ctx context.Context, name string) (*x509.Certificate, error)
}

// Options wires the collaborators of a Signer. Zero values select the
// codesign tool, the plist metadata service and logrus.
type Options struct {
	CodeSigner CodeSigner
	Identities IdentityDirectory
	Repairer   Repairer
	Metadata   MetadataService
	Observer   Observer
	Logger     logrus.FieldLogger

	// TempDir is the parent of the per-run workspace
	TempDir string

	HTTPClient      *http.Client
	DownloadRetries uint
}

// Signer resigns applications. A Signer holds no per-run state and may run
// several requests concurrently.
type Signer struct {
	opts Options
}

// Outcome describes a completed run
type Outcome struct {
	OutputPath      string
	Bundles         []string
	Warnings        int
	WarningMessages []string
}

// New returns a Signer. When no CodeSigner is given the codesign tool also
// serves as identity directory and repairer.
func New(opts Options) *Signer {
	if opts.CodeSigner == nil {
		tool := codesign.NewTool()
		opts.CodeSigner = tool
		if opts.Identities == nil {
			opts.Identities = tool
		}
		if opts.Repairer == nil {
			opts.Repairer = tool
		}
	}
	if opts.Metadata == nil {
		opts.Metadata = codesign.PlistMetadata{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Observer == nil {
		opts.Observer = LogObserver{Logger: opts.Logger}
	}
	if opts.DownloadRetries == 0 {
		opts.DownloadRetries = 3
	}
	return &Signer{opts: opts}
}

// run is the state of a single Run call
type run struct {
	req    Request
	ws     *Workspace
	signer CodeSigner
	meta   MetadataService
	obs    Observer
	log    logrus.FieldLogger

	certificate *x509.Certificate
	bundles     []string
	warnings    []string
}

func (r *run) status(format string, args ...interface{}) {
	r.obs.Status(fmt.Sprintf(format, args...))
}

func (r *run) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.log.Warn(msg)
	r.warnings = append(r.warnings, msg)
}

func (r *run) addWarnings(warnings []string) {
	for _, w := range warnings {
		r.warn("%s", w)
	}
}

// fail builds the terminal error of the run
func (r *run) fail(kind Kind, op, path string, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(kind, op, path, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.Kind = KindCanceled
	}
	e.Warnings = append([]string(nil), r.warnings...)
	return e
}

// Run resigns req.Input and writes the result to req.OutputPath(). The
// workspace is removed when Run returns, whatever the outcome.
func (s *Signer) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.BundleID = strings.TrimSpace(req.BundleID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Version = strings.TrimSpace(req.Version)
	req.ShortVersion = strings.TrimSpace(req.ShortVersion)

	kind, err := ParseInputKind(req.inputName())
	if err != nil {
		return nil, newError(KindInput, "resolve input", req.Input, err)
	}
	if !req.IsRemote() {
		if _, err := os.Stat(req.Input); err != nil {
			return nil, newError(KindInput, "resolve input", req.Input, ErrInputMissing)
		}
	}

	log := s.opts.Logger.WithField("input", req.inputName())
	ws, err := NewWorkspace(s.opts.TempDir, log)
	if err != nil {
		return nil, newError(KindIO, "create workspace", "", err)
	}
	defer ws.Destroy()

	r := &run{
		req:    req,
		ws:     ws,
		signer: s.opts.CodeSigner,
		meta:   s.opts.Metadata,
		obs:    s.opts.Observer,
		log:    log,
	}

	if err := s.checkIdentity(ctx, r); err != nil {
		return nil, err
	}

	if !req.SkipPreflight {
		r.status("Testing code signing")
		if err := Preflight(ctx, r.signer, s.opts.Repairer, req.Identity, ws.Root, log); err != nil {
			return nil, r.fail(KindSigning, "preflight", "", err)
		}
	}

	input := req.Input
	if req.IsRemote() {
		r.status("Downloading file")
		input = ws.Path(PathDownload) + filepath.Ext(req.inputName())
		if err := Download(ctx, s.opts.HTTPClient, req.Input, input, s.opts.DownloadRetries); err != nil {
			return nil, r.fail(KindIO, "download", req.Input, err)
		}
	}

	r.status("Extracting %s", kind)
	if err := Extract(ctx, kind, input, ws); err != nil {
		return nil, r.fail(extractKind(err), "extract", req.Input, err)
	}

	entries, err := os.ReadDir(ws.PayloadDir)
	if err != nil {
		return nil, r.fail(KindIO, "read payload", ws.PayloadDir, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(KindCanceled, "resign", "", err)
		}
		if err := r.processBundle(ctx, filepath.Join(ws.PayloadDir, entry.Name())); err != nil {
			return nil, err
		}
	}

	output := req.OutputPath()
	r.status("Packaging %s", filepath.Base(output))
	if err := Package(ws, output); err != nil {
		return nil, r.fail(KindPackaging, "package", output, err)
	}

	if len(r.warnings) > 0 {
		r.status("Signing completed with %d warnings", len(r.warnings))
	} else {
		r.status("Signing completed")
	}

	return &Outcome{
		OutputPath:      output,
		Bundles:         r.bundles,
		Warnings:        len(r.warnings),
		WarningMessages: r.warnings,
	}, nil
}

// checkIdentity makes sure the identity exists and remembers its certificate
func (s *Signer) checkIdentity(ctx context.Context, r *run) error {
	if s.opts.Identities == nil {
		return nil
	}

	identities, err := s.opts.Identities.Identities(ctx)
	if err != nil {
		r.warn("unable to list signing identities: %v", err)
		return nil
	}
	if err := codesign.ValidateIdentity(r.req.Identity, identities); err != nil {
		return r.fail(KindSigning, "find identity", "", fmt.Errorf("%w: %v", ErrIdentityNotFound, err))
	}

	cert, err := s.opts.Identities.Certificate(ctx, r.req.Identity)
	if err != nil {
		r.log.WithError(err).Debug("unable to look up the identity certificate")
		return nil
	}
	r.certificate = cert
	return nil
}

func extractKind(err error) Kind {
	switch {
	case errors.Is(err, ErrUnsupportedInput), errors.Is(err, ErrInputMissing), errors.Is(err, ErrPayloadMissing):
		return KindInput
	default:
		return KindIO
	}
}
