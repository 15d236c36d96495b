package object

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/google/go-tpm/tpm2"

	"go.step.sm/tpmobject/tpm/auth"
	"go.step.sm/tpmobject/tpm/ctxfile"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/primary"
	"go.step.sm/tpmobject/tpm/tss2"
)

// Resolver resolves object identifiers. It keeps no state between calls.
// Calls that may provision a primary key on the same TPM must be
// serialized by the caller.
type Resolver struct {
	dev         Device
	provisioner *primary.Provisioner
	establisher *auth.Establisher
	readFile    func(name string) ([]byte, error)
	logger      *log.Logger
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithLogger sets the logger. Strategy transitions are logged at debug
// level.
func WithLogger(l *log.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithReadFile replaces the function used to read identifier files and auth
// files.
func WithReadFile(fn func(name string) ([]byte, error)) ResolverOption {
	return func(r *Resolver) {
		r.readFile = fn
		r.establisher.ReadFile = fn
	}
}

// NewResolver returns a [Resolver] using dev.
func NewResolver(dev Device, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dev:         dev,
		provisioner: primary.New(dev),
		establisher: &auth.Establisher{},
		readFile:    readFile,
		logger:      log.New(io.Discard),
	}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

type options struct {
	wantAuth   bool
	authValue  string
	restricted bool
	flags      handle.Flags
}

// Option configures a call to [Resolver.Resolve].
type Option func(*options)

// WithAuth establishes an authorization from authValue before resolving. See
// [auth.Establish].
func WithAuth(authValue string, restricted bool) Option {
	return func(o *options) {
		o.wantAuth = true
		o.authValue = authValue
		o.restricted = restricted
	}
}

// WithHandleFlags sets the hierarchies and ranges accepted for handles. It
// defaults to [handle.AllHierarchies].
func WithHandleFlags(flags handle.Flags) Option {
	return func(o *options) {
		o.flags = flags
	}
}

// errNotApplicable hands the identifier over to the next strategy.
var errNotApplicable = errors.New("strategy not applicable")

type request struct {
	identifier string
	opts       options
	isFile     bool
	data       []byte
	contextErr error
}

type strategy struct {
	kind Strategy
	try  func(ctx context.Context, req *request) (*LoadedObject, error)
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{StrategyContextFile, r.fromContextFile},
		{StrategyLoadableKey, r.fromLoadableKey},
		{StrategyHandle, r.fromHandle},
	}
}

// Resolve resolves identifier. The strategies are tried in order and the
// first one that applies decides the result:
//
//  1. a readable file holding a tpm2-tools context is loaded;
//  2. any other readable file must be a TSS2 PRIVATE KEY, and its parent is
//     resolved, creating a primary key if the parent is a hierarchy;
//  3. anything else must be a handle or hierarchy name.
//
// An identifier that matches none of them returns [ErrUnrecognized]
// without using the TPM. All errors are of type [*Error].
func (r *Resolver) Resolve(ctx context.Context, identifier string, opts ...Option) (*LoadedObject, error) {
	req := &request{
		identifier: identifier,
		opts:       options{flags: handle.AllHierarchies},
	}
	for _, fn := range opts {
		fn(&req.opts)
	}

	if identifier == "" {
		return nil, &Error{Step: "validate", Err: ErrEmptyIdentifier}
	}

	var session *auth.Session
	if req.opts.wantAuth {
		var err error
		if session, err = r.establisher.Establish(ctx, r.dev, req.opts.authValue, req.opts.restricted); err != nil {
			return nil, &Error{Identifier: identifier, Step: "establish authorization", Err: err}
		}
	}

	obj, err := r.resolve(ctx, req)
	if err != nil {
		if cerr := session.Close(ctx); cerr != nil {
			r.logger.Warn("failed closing session", "error", cerr)
		}
		return nil, err
	}

	obj.Session = session
	return obj, nil
}

func (r *Resolver) resolve(ctx context.Context, req *request) (*LoadedObject, error) {
	if data, err := r.readFile(req.identifier); err == nil {
		req.isFile, req.data = true, data
	}

	for _, s := range r.strategies() {
		obj, err := s.try(ctx, req)
		switch {
		case errors.Is(err, errNotApplicable):
			r.logger.Debug("strategy not applicable", "identifier", req.identifier, "strategy", s.kind)
			continue
		case err != nil:
			return nil, err
		}
		obj.Strategy = s.kind
		r.logger.Debug("resolved object", "identifier", req.identifier, "strategy", s.kind, "handle", obj.Handle)
		return obj, nil
	}

	return nil, &Error{Identifier: req.identifier, Step: "match", Err: ErrUnrecognized}
}

func (r *Resolver) fromContextFile(ctx context.Context, req *request) (*LoadedObject, error) {
	if !req.isFile {
		return nil, errNotApplicable
	}

	c, err := ctxfile.Parse(req.data)
	if err != nil {
		req.contextErr = err
		return nil, errNotApplicable
	}
	nh, err := r.dev.LoadContext(ctx, c)
	if err != nil {
		req.contextErr = err
		r.logger.Debug("failed loading context", "identifier", req.identifier, "error", err)
		return nil, errNotApplicable
	}

	return &LoadedObject{
		Handle:          handle.TransientFirst,
		TransportHandle: nh,
		Path:            req.identifier,
	}, nil
}

func (r *Resolver) fromLoadableKey(ctx context.Context, req *request) (*LoadedObject, error) {
	if !req.isFile {
		return nil, errNotApplicable
	}

	fail := func(step string, err error, retryable bool) error {
		return &Error{
			Identifier: req.identifier,
			Strategy:   StrategyLoadableKey,
			Step:       step,
			Err:        err,
			ContextErr: req.contextErr,
			retryable:  retryable,
		}
	}

	key, err := tss2.Parse(req.data)
	if err != nil {
		return nil, fail("parse", err, false)
	}
	pub, err := key.Public()
	if err != nil {
		return nil, fail("parse", err, false)
	}
	priv, err := key.Private()
	if err != nil {
		return nil, fail("parse", err, false)
	}

	obj := &LoadedObject{
		Path:    req.identifier,
		Key:     key,
		Public:  pub,
		Private: priv,
	}

	switch parent := key.Parent; {
	case parent.IsPersistent():
		nh, err := r.dev.TranslateHandle(ctx, tpm2.TPMHandle(parent))
		if err != nil {
			return nil, fail("translate parent", err, true)
		}
		obj.Handle = parent
		obj.TransportHandle = nh
	default:
		hierarchy := parent
		if hierarchy == 0 {
			hierarchy = handle.Owner
		}
		p, err := r.provisioner.ProvisionDefault(ctx, hierarchy)
		if err != nil {
			return nil, fail("provision parent", err, true)
		}
		obj.Handle = handle.Handle(p.Handle.Handle)
		obj.TransportHandle = p.Handle
		obj.Ephemeral = true
		obj.Hierarchy = p.Hierarchy
		obj.Algorithm = p.Algorithm
	}

	return obj, nil
}

func (r *Resolver) fromHandle(ctx context.Context, req *request) (*LoadedObject, error) {
	if req.isFile {
		return nil, errNotApplicable
	}

	h, err := handle.Parse(req.identifier, req.opts.flags)
	if err != nil {
		return nil, errNotApplicable
	}
	nh, err := r.dev.TranslateHandle(ctx, tpm2.TPMHandle(h))
	if err != nil {
		return nil, &Error{
			Identifier: req.identifier,
			Strategy:   StrategyHandle,
			Step:       "translate handle",
			Err:        err,
			retryable:  true,
		}
	}

	return &LoadedObject{
		Handle:          h,
		TransportHandle: nh,
	}, nil
}
