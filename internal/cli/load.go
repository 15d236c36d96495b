package cli

import (
	"io"
	"os"

	"github.com/google/go-tpm/tpm2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.step.sm/tpmobject/tpm/ctxfile"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/signer"
)

type loadResult struct {
	Identifier string `json:"identifier"`
	Strategy   string `json:"strategy"`
	Handle     string `json:"handle"`
	Name       string `json:"name"`
	Context    string `json:"context"`
}

func newLoadCmd(a *app) *cobra.Command {
	var (
		f           resolveFlags
		contextPath string
	)
	cmd := &cobra.Command{
		Use:   "load <identifier>",
		Short: "Load a key and save its context",
		Long: `Load the key an identifier resolves to and save it as a tpm2-tools
context file. The saved context can be used as an identifier while the TPM
keeps the same context keys, usually until it is reset.`,
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
			defer func() {
				if err := obj.Session.Close(ctx); err != nil {
					a.logger.Warn("failed closing session", "error", err)
				}
			}()

			s, err := signer.New(ctx, dev, obj)
			if err != nil {
				return errors.Wrap(err, "error loading key")
			}
			defer func() {
				if err := s.Close(ctx); err != nil {
					a.logger.Warn("failed flushing key", "error", err)
				}
			}()

			rsp, err := tpm2.ContextSave{SaveHandle: s.Handle().Handle}.Execute(dev)
			if err != nil {
				return errors.Wrap(err, "error saving context")
			}
			b, err := ctxfile.Marshal(&rsp.Context)
			if err != nil {
				return err
			}
			if err := os.WriteFile(contextPath, b, 0o600); err != nil {
				return errors.Wrap(err, "error writing context")
			}

			res := &loadResult{
				Identifier: args[0],
				Strategy:   obj.Strategy.String(),
				Handle:     handle.Handle(s.Handle().Handle).String(),
				Name:       nameString(s.Handle()),
				Context:    contextPath,
			}
			return a.print(res, func(w io.Writer) {
				field(w, "handle", res.Handle)
				field(w, "name", res.Name)
				field(w, "context", res.Context)
			})
		},
	}

	f.register(cmd)
	cmd.Flags().StringVarP(&contextPath, "context", "c", "", "path of the context file to write")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}
