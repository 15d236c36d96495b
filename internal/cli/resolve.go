package cli

import (
	"context"
	"encoding/hex"
	"io"

	"github.com/google/go-tpm/tpm2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.step.sm/tpmobject/internal/termutil"
	"go.step.sm/tpmobject/tpm/device"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/object"
)

// resolveFlags are the flags of the commands that take an object identifier.
type resolveFlags struct {
	auth       string
	authPrompt bool
	restricted bool
	hierarchy  string
}

func (f *resolveFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.auth, "auth", "p", "", `authorization value: "str:", "hex:", "file:" (- for stdin) or "session:" followed by the value`)
	flags.BoolVar(&f.authPrompt, "auth-prompt", false, "read the authorization password from the terminal")
	flags.BoolVar(&f.restricted, "password-only", false, "only accept password authorizations")
	flags.StringVar(&f.hierarchy, "hierarchies", "all", `hierarchies and ranges accepted for handles, e.g. "o,e,nv"`)
}

func (f *resolveFlags) options() ([]object.Option, error) {
	flags, err := handle.ParseFlags(f.hierarchy)
	if err != nil {
		return nil, err
	}
	opts := []object.Option{object.WithHandleFlags(flags)}

	switch {
	case f.authPrompt && f.auth != "":
		return nil, errors.New("flags --auth and --auth-prompt are mutually exclusive")
	case f.authPrompt:
		pw, err := termutil.ReadPassword("Enter authorization value:")
		if err != nil {
			return nil, errors.Wrap(err, "error reading password")
		}
		opts = append(opts, object.WithAuth("hex:"+hex.EncodeToString(pw), f.restricted))
	case f.auth != "":
		opts = append(opts, object.WithAuth(f.auth, f.restricted))
	}
	return opts, nil
}

func (a *app) resolve(ctx context.Context, dev *device.TPM, identifier string, f *resolveFlags) (*object.LoadedObject, error) {
	opts, err := f.options()
	if err != nil {
		return nil, err
	}
	r := object.NewResolver(dev, object.WithLogger(a.logger))
	obj, err := r.Resolve(ctx, identifier, opts...)
	if err != nil {
		var oe *object.Error
		if errors.As(err, &oe) && oe.ContextErr != nil {
			a.logger.Info("file is not a loadable context", "identifier", identifier, "error", oe.ContextErr)
		}
		return nil, err
	}
	return obj, nil
}

// release flushes the transient objects created while resolving obj.
func (a *app) release(ctx context.Context, dev *device.TPM, obj *object.LoadedObject) {
	if obj.Strategy == object.StrategyContextFile || obj.Ephemeral {
		if err := dev.FlushContext(ctx, obj.TransportHandle.Handle); err != nil {
			a.logger.Warn("failed flushing object", "error", err)
		}
	}
	if err := obj.Session.Close(ctx); err != nil {
		a.logger.Warn("failed closing session", "error", err)
	}
}

type resolveResult struct {
	Identifier string `json:"identifier"`
	Strategy   string `json:"strategy"`
	Handle     string `json:"handle"`
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	Parent     string `json:"parent,omitempty"`
	Ephemeral  bool   `json:"ephemeral,omitempty"`
	Hierarchy  string `json:"hierarchy,omitempty"`
	Algorithm  string `json:"algorithm,omitempty"`
	Session    string `json:"session,omitempty"`
}

func newResolveResult(identifier string, obj *object.LoadedObject) *resolveResult {
	res := &resolveResult{
		Identifier: identifier,
		Strategy:   obj.Strategy.String(),
		Handle:     obj.Handle.String(),
		Name:       nameString(obj.TransportHandle),
		Path:       obj.Path,
	}
	if obj.Strategy == object.StrategyLoadableKey {
		res.Parent = handle.Handle(obj.TransportHandle.Handle).String()
	}
	if obj.Ephemeral {
		res.Ephemeral = true
		res.Hierarchy = obj.Hierarchy.String()
		res.Algorithm = obj.Algorithm.String()
	}
	if obj.Session != nil {
		res.Session = obj.Session.Kind.String()
	}
	return res
}

func nameString(nh tpm2.NamedHandle) string {
	return hex.EncodeToString(nh.Name.Buffer)
}

func newResolveCmd(a *app) *cobra.Command {
	var f resolveFlags
	cmd := &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Show how an object identifier resolves",
		Long: `Resolve an object identifier and print the object it refers to. Objects
loaded by the command, including ephemeral primary keys, are flushed before
it exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dev, done, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer done()

			obj, err := a.resolve(ctx, dev, args[0], &f)
			if err != nil {
				return err
			}
			defer a.release(ctx, dev, obj)

			res := newResolveResult(args[0], obj)
			return a.print(res, func(w io.Writer) {
				field(w, "strategy", res.Strategy)
				field(w, "handle", res.Handle)
				field(w, "name", res.Name)
				if res.Path != "" {
					field(w, "path", res.Path)
				}
				if res.Parent != "" {
					field(w, "parent", res.Parent)
				}
				if res.Ephemeral {
					field(w, "hierarchy", res.Hierarchy)
					field(w, "algorithm", res.Algorithm)
				}
				if res.Session != "" {
					field(w, "session", res.Session)
				}
			})
		},
	}
	f.register(cmd)
	return cmd
}
