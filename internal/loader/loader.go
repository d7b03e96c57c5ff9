// Package loader fetches versioned script packages and injects them into the runtime that
// hosts the token's application.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/auth"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/nfps-dev/nfp-bootloader/internal/tokenloc"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var (
	ErrUnknownPackage    = errors.New("loader: unknown package")
	ErrNamespaceNotReady = errors.New("loader: namespace not ready")
	ErrPackageNotFound   = errors.New("loader: package not found")
	ErrInvalidPackage    = errors.New("loader: invalid package id")
)

// package ids double as file names in dev mode
var packageIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

const (
	OriginContract = "contract"
	OriginFile     = "file"
)

// Package names one version of a script package. An empty Tag means latest.
type Package struct {
	ID  string `json:"id"`
	Tag string `json:"tag,omitempty"`
}

// Validate rejects ids that are not plain lower-case names.
func (p Package) Validate() error {
	if !packageIDPattern.MatchString(p.ID) {
		return errors.Wrapf(ErrInvalidPackage, "%q", p.ID)
	}
	return nil
}

func (p Package) String() string {
	if p.Tag == "" {
		return p.ID
	}
	return p.ID + "@" + p.Tag
}

type Request struct {
	Package    Package
	Location   tokenloc.Location
	Credential auth.Credential
}

// Module is a fetched package ready for injection.
type Module struct {
	ID          string `json:"id"`
	Tag         string `json:"tag,omitempty"`
	Version     string `json:"version,omitempty"`
	Origin      string `json:"origin"`
	ContentType string `json:"content_type,omitempty"`
	Code        []byte `json:"-"`
	Digest      string `json:"digest"`
}

func newModule(pkg Package, origin, version, contentType string, code []byte) *Module {
	sum := sha256.Sum256(code)
	return &Module{
		ID:          pkg.ID,
		Tag:         pkg.Tag,
		Version:     version,
		Origin:      origin,
		ContentType: contentType,
		Code:        code,
		Digest:      hex.EncodeToString(sum[:]),
	}
}

// LoaderFunc produces the module for a request.
type LoaderFunc func(ctx context.Context, req Request) (*Module, error)

type Source interface {
	Fetch(ctx context.Context, req Request) (*Module, error)
}

type Injector interface {
	Inject(ctx context.Context, m *Module, ns *nfpx.Namespace) error
}

// Observer is told about every finished load.
type Observer interface {
	ObserveLoad(pkg Package, m *Module, err error)
}

type Registry struct {
	mu       sync.RWMutex
	loaders  map[string]LoaderFunc
	injector Injector
	observer Observer
}

func NewRegistry(injector Injector, observer Observer) *Registry {
	return &Registry{
		loaders:  make(map[string]LoaderFunc),
		injector: injector,
		observer: observer,
	}
}

// Register binds a package id to fn, replacing any earlier binding.
func (r *Registry) Register(id string, fn LoaderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[id] = fn
}

// Use binds a package id to a source.
func (r *Registry) Use(id string, src Source) {
	r.Register(id, src.Fetch)
}

func (r *Registry) lookup(id string) (LoaderFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.loaders[id]
	return fn, ok
}

// Fetch resolves the module without injecting it.
func (r *Registry) Fetch(ctx context.Context, req Request) (*Module, error) {
	if err := req.Package.Validate(); err != nil {
		return nil, err
	}
	fn, ok := r.lookup(req.Package.ID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPackage, "%q", req.Package.ID)
	}
	m, err := fn(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", req.Package)
	}
	return m, nil
}

// Load fetches and injects a package in the background. The namespace must be built already;
// modules never see a half populated one.
func (r *Registry) Load(ctx context.Context, req Request, ns *nfpx.Namespace) *Handle {
	h := newHandle(req.Package)
	if ns == nil {
		h.finish(nil, ErrNamespaceNotReady)
		r.observe(req.Package, nil, ErrNamespaceNotReady)
		return h
	}

	go func() {
		m, err := r.load(ctx, req, ns)
		r.observe(req.Package, m, err)
		h.finish(m, err)
	}()
	return h
}

func (r *Registry) load(ctx context.Context, req Request, ns *nfpx.Namespace) (*Module, error) {
	m, err := r.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := r.injector.Inject(ctx, m, ns); err != nil {
		return nil, errors.Wrapf(err, "inject %s", req.Package)
	}
	log.Info("module loaded", "package", req.Package.String(), "origin", m.Origin, "version", m.Version, "digest", m.Digest)
	return m, nil
}

func (r *Registry) observe(pkg Package, m *Module, err error) {
	if err != nil {
		log.Error("module load failed", "package", pkg.String(), "error", err)
	}
	if r.observer != nil {
		r.observer.ObserveLoad(pkg, m, err)
	}
}

// Handle tracks one load. Callbacks registered with OnLoad run exactly once.
type Handle struct {
	Package Package

	mu        sync.Mutex
	done      chan struct{}
	finished  bool
	module    *Module
	err       error
	callbacks []func(*Module, error)
}

func newHandle(pkg Package) *Handle {
	return &Handle{Package: pkg, done: make(chan struct{})}
}

func (h *Handle) finish(m *Module, err error) {
	h.mu.Lock()
	h.module, h.err = m, err
	h.finished = true
	cbs := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	for _, fn := range cbs {
		fn(m, err)
	}
	close(h.done)
}

// OnLoad runs fn with the result, right away if the load already finished.
func (h *Handle) OnLoad(fn func(*Module, error)) {
	h.mu.Lock()
	if !h.finished {
		h.callbacks = append(h.callbacks, fn)
		h.mu.Unlock()
		return
	}
	m, err := h.module, h.err
	h.mu.Unlock()
	fn(m, err)
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the load finishes and its callbacks ran, or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*Module, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.module, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
