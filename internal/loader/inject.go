package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dop251/goja"
	"github.com/nfps-dev/nfp-bootloader/internal/cache"
	"github.com/nfps-dev/nfp-bootloader/internal/constants"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrUnsupportedContent = errors.New("loader: unsupported content type")

const namespaceGlobal = "nfpx"

const installNamespace = `(function (raw, host) {
	function deepFreeze(o) {
		Object.getOwnPropertyNames(o).forEach(function (k) {
			var v = o[k];
			if (v && typeof v === "object") deepFreeze(v);
		});
		return Object.freeze(o);
	}
	var ns = JSON.parse(raw);
	ns.contract.query = host.query;
	ns.cache = { read: host.read, write: host.write };
	ns.load = host.load;
	Object.defineProperty(globalThis, "nfpx", {
		value: deepFreeze(ns),
		writable: false,
		configurable: true,
	});
})`

// Host is what modules may call back into besides the namespace values.
type Host struct {
	// Store backs nfpx.cache.
	Store cache.Store
	// Load backs nfpx.load. It is called while a module runs and must not wait for the
	// requested package, which is injected after the caller returns.
	Load func(pkg Package)
}

// Linker is implemented by injectors whose modules can reach a Host.
type Linker interface {
	Link(h Host)
}

var scriptTypes = map[string]bool{
	"":                       true,
	"application/javascript": true,
	"text/javascript":        true,
	"application/ecmascript": true,
}

// ScriptInjector runs modules in one shared goja runtime, the way scripts share a page.
// Each module sees the namespace as the frozen global nfpx and may define main(nfpx).
type ScriptInjector struct {
	mu   sync.Mutex
	vm   *goja.Runtime
	ns   *nfpx.Namespace
	host Host
	// ctx of the running Inject, for calls scripts make back into Go
	ctx context.Context
}

func NewScriptInjector() *ScriptInjector {
	return &ScriptInjector{vm: goja.New()}
}

// Link sets the host used by every module from now on.
func (s *ScriptInjector) Link(h Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = h
}

func (s *ScriptInjector) Inject(ctx context.Context, m *Module, ns *nfpx.Namespace) error {
	if ns == nil {
		return ErrNamespaceNotReady
	}
	ct, _, _ := strings.Cut(m.ContentType, ";")
	if !scriptTypes[strings.TrimSpace(ct)] {
		return errors.Wrapf(ErrUnsupportedContent, "%q", m.ContentType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.install(ns); err != nil {
		return err
	}
	s.bindConsole(m)
	s.ctx = ctx
	defer func() { s.ctx = nil }()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
		s.vm.ClearInterrupt()
	}()

	if _, err := s.vm.RunScript(m.ID, string(m.Code)); err != nil {
		return s.scriptError(ctx, err)
	}

	global := s.vm.GlobalObject()
	entry, ok := goja.AssertFunction(global.Get("main"))
	if !ok {
		return nil
	}
	// main belongs to this module only
	_ = global.Set("main", goja.Undefined())
	if _, err := entry(goja.Undefined(), global.Get(namespaceGlobal)); err != nil {
		return s.scriptError(ctx, err)
	}
	return nil
}

func (s *ScriptInjector) install(ns *nfpx.Namespace) error {
	if s.ns == ns {
		return nil
	}
	raw, err := json.Marshal(ns.Export())
	if err != nil {
		return errors.Wrap(err, "encode namespace")
	}
	v, err := s.vm.RunString(installNamespace)
	if err != nil {
		return errors.Wrap(err, "namespace installer")
	}
	fn, _ := goja.AssertFunction(v)
	host := s.vm.NewObject()
	_ = host.Set("query", s.jsQuery)
	_ = host.Set("read", s.jsCacheRead)
	_ = host.Set("write", s.jsCacheWrite)
	_ = host.Set("load", s.jsLoad)
	if _, err := fn(goja.Undefined(), s.vm.ToValue(string(raw)), host); err != nil {
		return errors.Wrap(err, "install namespace")
	}
	s.ns = ns
	return nil
}

// throw raises err as a JS exception. Only valid inside a call from a script.
func (s *ScriptInjector) throw(err error) {
	panic(s.vm.NewGoError(err))
}

// nfpx.contract.query(method, args) runs an authenticated query with the boot's credential.
func (s *ScriptInjector) jsQuery(call goja.FunctionCall) goja.Value {
	method := call.Argument(0).String()
	var args map[string]any
	if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
		m, ok := a.Export().(map[string]any)
		if !ok {
			panic(s.vm.NewTypeError("query arguments must be an object"))
		}
		args = m
	}
	var out any
	if err := s.ns.Contract().Query(s.ctx, method, args, s.ns.Credential(), &out); err != nil {
		s.throw(err)
	}
	return s.vm.ToValue(out)
}

func (s *ScriptInjector) cacheKey(call goja.FunctionCall) string {
	if s.host.Store == nil {
		s.throw(errors.New("loader: no cache linked"))
	}
	key := call.Argument(0).String()
	if key == "" || key == constants.SecretKeyKey {
		s.throw(errors.Newf("loader: cache key %q is not available to modules", key))
	}
	return key
}

// nfpx.cache.read(key) returns the cached string or null.
func (s *ScriptInjector) jsCacheRead(call goja.FunctionCall) goja.Value {
	key := s.cacheKey(call)
	v, ok, err := cache.ReadString(s.ctx, s.host.Store, key)
	if err != nil {
		s.throw(err)
	}
	if !ok {
		return goja.Null()
	}
	return s.vm.ToValue(v)
}

// nfpx.cache.write(key, value) stores value as a string and returns it.
func (s *ScriptInjector) jsCacheWrite(call goja.FunctionCall) goja.Value {
	key := s.cacheKey(call)
	v, err := cache.WriteString(s.ctx, s.host.Store, key, call.Argument(1).String())
	if err != nil {
		s.throw(err)
	}
	return s.vm.ToValue(v)
}

// nfpx.load(id, tag) queues another package.
func (s *ScriptInjector) jsLoad(call goja.FunctionCall) goja.Value {
	if s.host.Load == nil {
		s.throw(errors.New("loader: package loading is not linked"))
	}
	pkg := Package{ID: call.Argument(0).String()}
	if tag := call.Argument(1); !goja.IsUndefined(tag) && !goja.IsNull(tag) {
		pkg.Tag = tag.String()
	}
	if err := pkg.Validate(); err != nil {
		s.throw(err)
	}
	s.host.Load(pkg)
	return goja.Undefined()
}

func (s *ScriptInjector) bindConsole(m *Module) {
	console := s.vm.NewObject()
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprint(arg.Export())
			}
			msg := strings.Join(parts, " ")
			switch level {
			case "warn":
				log.Warn(msg, "module", m.ID, "tag", m.Tag)
			case "error":
				log.Error(msg, "module", m.ID, "tag", m.Tag)
			default:
				log.Info(msg, "module", m.ID, "tag", m.Tag)
			}
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt("info"))
	_ = console.Set("info", logAt("info"))
	_ = console.Set("warn", logAt("warn"))
	_ = console.Set("error", logAt("error"))
	_ = s.vm.Set("console", console)
}

func (s *ScriptInjector) scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) && ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Wrap(err, "script")
}

// Global exports a global value from the runtime, or nil when unset.
func (s *ScriptInjector) Global(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
