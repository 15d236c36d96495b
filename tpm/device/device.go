// Package device provides the TPM used by the object resolver and signer. A
// TPM is safe for concurrent use. Commands are serialized.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"go.step.sm/tpmobject/tpm/debug"
	"go.step.sm/tpmobject/tpm/handle"
	closer "go.step.sm/tpmobject/tpm/internal/close"
	"go.step.sm/tpmobject/tpm/internal/interceptor"
	"go.step.sm/tpmobject/tpm/internal/open"
	"go.step.sm/tpmobject/tpm/simulator"
	"go.step.sm/tpmobject/uri"
)

// ErrClosed is returned when a command is sent to a TPM that is not open.
var ErrClosed = errors.New("TPM is not open")

// TPM is a connection to a TPM device, simulator or emulator.
type TPM struct {
	deviceName string
	tap        debug.Tap
	logger     *log.Logger
	external   transport.TPM

	mu       sync.Mutex
	opens    int
	rwc      io.ReadWriteCloser
	tpm      transport.TPM
	commands int
}

// Option configures a [TPM].
type Option func(*TPM) error

// WithDeviceName selects the TPM to open: a device path, the path of an
// emulator socket, "mssim:host=...;port=..." or "simulator:[seed=N]". An
// empty name selects the platform default.
func WithDeviceName(name string) Option {
	return func(t *TPM) error {
		t.deviceName = name
		return nil
	}
}

// WithTap records all commands and responses to tap.
func WithTap(tap debug.Tap) Option {
	return func(t *TPM) error {
		t.tap = tap
		return nil
	}
}

// WithTransport uses an already opened transport. Open and Close do not
// manage its lifetime.
func WithTransport(tpm transport.TPM) Option {
	return func(t *TPM) error {
		if tpm == nil {
			return errors.New("transport cannot be nil")
		}
		t.external = tpm
		return nil
	}
}

// WithLogger sets the logger used to report commands at debug level.
func WithLogger(l *log.Logger) Option {
	return func(t *TPM) error {
		t.logger = l
		return nil
	}
}

// New returns a TPM. It must be opened before use.
func New(opts ...Option) (*TPM, error) {
	t := &TPM{logger: log.New(io.Discard)}
	for _, fn := range opts {
		if err := fn(t); err != nil {
			return nil, fmt.Errorf("failed initializing TPM: %w", err)
		}
	}
	return t, nil
}

// DeviceName returns the configured device name.
func (t *TPM) DeviceName() string {
	return t.deviceName
}

// Open opens the TPM. Calls to Open and Close can be nested: the
// connection is closed by the Close matching the first Open.
func (t *TPM) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opens > 0 {
		t.opens++
		return nil
	}

	if t.external != nil {
		t.tpm = interceptor.FromTapTransport(t.tap, t.external)
		t.opens++
		return nil
	}

	rwc, err := t.openRWC(ctx)
	if err != nil {
		return fmt.Errorf("failed opening TPM %q: %w", t.deviceName, err)
	}

	t.rwc = interceptor.FromTap(t.tap, rwc)
	t.tpm = transport.FromReadWriteCloser(t.rwc)
	t.opens++
	t.logger.Debug("opened TPM", "device", t.deviceName)
	return nil
}

func (t *TPM) openRWC(ctx context.Context) (io.ReadWriteCloser, error) {
	if !strings.HasPrefix(t.deviceName, "simulator:") {
		return open.TPM(t.deviceName)
	}

	u, err := uri.ParseWithScheme("simulator", t.deviceName)
	if err != nil {
		return nil, err
	}
	var opts []simulator.Option
	if seed := u.GetInt("seed"); seed != nil {
		opts = append(opts, simulator.WithSeed(*seed))
	}
	sim := simulator.New(opts...)
	if err := sim.Open(ctx); err != nil {
		return nil, err
	}
	if _, err := (tpm2.Startup{StartupType: tpm2.TPMSUClear}).Execute(transport.FromReadWriter(sim)); err != nil {
		_ = sim.Close()
		return nil, fmt.Errorf("failed starting up simulator: %w", err)
	}
	return sim, nil
}

// Close closes the TPM.
func (t *TPM) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.opens == 0:
		return nil
	case t.opens > 1:
		t.opens--
		return nil
	}

	t.opens = 0
	t.tpm = nil
	if t.rwc == nil {
		return nil
	}

	rwc := t.rwc
	t.rwc = nil
	if err := closer.RWC(rwc); err != nil {
		return fmt.Errorf("failed closing TPM: %w", err)
	}
	t.logger.Debug("closed TPM", "device", t.deviceName, "commands", t.commands)
	return nil
}

// Send implements [transport.TPM].
func (t *TPM) Send(input []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tpm == nil {
		return nil, ErrClosed
	}
	t.commands++
	return t.tpm.Send(input)
}

// Commands returns the number of commands sent to the TPM.
func (t *TPM) Commands() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commands
}

// SupportedAlgorithms returns the algorithms implemented by the TPM.
func (t *TPM) SupportedAlgorithms(ctx context.Context) ([]tpm2.TPMAlgID, error) {
	var (
		algs []tpm2.TPMAlgID
		next uint32
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rsp, err := tpm2.GetCapability{
			Capability:    tpm2.TPMCapAlgs,
			Property:      next,
			PropertyCount: 64,
		}.Execute(t)
		if err != nil {
			return nil, fmt.Errorf("failed getting algorithms: %w", err)
		}
		props, err := rsp.CapabilityData.Data.Algorithms()
		if err != nil {
			return nil, fmt.Errorf("failed getting algorithms: %w", err)
		}
		for _, p := range props.AlgProperties {
			algs = append(algs, p.Alg)
		}
		if !rsp.MoreData || len(props.AlgProperties) == 0 {
			return algs, nil
		}
		next = uint32(props.AlgProperties[len(props.AlgProperties)-1].Alg) + 1
	}
}

// CreatePrimary executes TPM2_CreatePrimary.
func (t *TPM) CreatePrimary(ctx context.Context, cmd tpm2.CreatePrimary) (*tpm2.CreatePrimaryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("created primary key", "handle", handle.Handle(rsp.ObjectHandle))
	return rsp, nil
}

// TranslateHandle returns the name of the entity referenced by h. Objects
// and NV indices are read from the TPM; the name of any other entity is
// its handle.
func (t *TPM) TranslateHandle(ctx context.Context, h tpm2.TPMHandle) (tpm2.NamedHandle, error) {
	if err := ctx.Err(); err != nil {
		return tpm2.NamedHandle{}, err
	}

	switch hh := handle.Handle(h); {
	case hh.IsPersistent(), hh.IsTransient():
		rsp, err := tpm2.ReadPublic{ObjectHandle: h}.Execute(t)
		if err != nil {
			return tpm2.NamedHandle{}, fmt.Errorf("failed reading public area of %s: %w", hh, err)
		}
		return tpm2.NamedHandle{Handle: h, Name: rsp.Name}, nil
	case hh.IsNV():
		rsp, err := tpm2.NVReadPublic{NVIndex: h}.Execute(t)
		if err != nil {
			return tpm2.NamedHandle{}, fmt.Errorf("failed reading public area of %s: %w", hh, err)
		}
		return tpm2.NamedHandle{Handle: h, Name: rsp.NVName}, nil
	default:
		return tpm2.NamedHandle{Handle: h, Name: handleName(h)}, nil
	}
}

// LoadContext executes TPM2_ContextLoad. The name of a loaded object is
// read from the TPM.
func (t *TPM) LoadContext(ctx context.Context, c *tpm2.TPMSContext) (tpm2.NamedHandle, error) {
	if c == nil {
		return tpm2.NamedHandle{}, errors.New("context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return tpm2.NamedHandle{}, err
	}

	rsp, err := tpm2.ContextLoad{Context: *c}.Execute(t)
	if err != nil {
		return tpm2.NamedHandle{}, fmt.Errorf("failed loading context: %w", err)
	}
	h := tpm2.TPMHandle(rsp.LoadedHandle)
	if !handle.Handle(h).IsTransient() {
		return tpm2.NamedHandle{Handle: h, Name: handleName(h)}, nil
	}

	nh, err := t.TranslateHandle(ctx, h)
	if err != nil {
		if ferr := t.FlushContext(ctx, h); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return tpm2.NamedHandle{}, err
	}
	return nh, nil
}

// Load executes TPM2_Load.
func (t *TPM) Load(ctx context.Context, cmd tpm2.Load) (*tpm2.LoadResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cmd.Execute(t)
}

// ReadPublic returns the public area of a loaded object.
func (t *TPM) ReadPublic(ctx context.Context, h tpm2.TPMHandle) (*tpm2.ReadPublicResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tpm2.ReadPublic{ObjectHandle: h}.Execute(t)
}

// FlushContext removes a transient object or session from the TPM.
func (t *TPM) FlushContext(_ context.Context, h tpm2.TPMHandle) error {
	if _, err := (tpm2.FlushContext{FlushHandle: h}).Execute(t); err != nil {
		return fmt.Errorf("failed flushing %s: %w", handle.Handle(h), err)
	}
	return nil
}

func handleName(h tpm2.TPMHandle) tpm2.TPM2BName {
	return tpm2.TPM2BName{Buffer: binary.BigEndian.AppendUint32(nil, uint32(h))}
}
