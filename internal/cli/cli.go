// Package cli implements the tpm2obj command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.step.sm/tpmobject/tpm/debug"
	"go.step.sm/tpmobject/tpm/device"
)

// Version is set at build time.
var Version = "dev"

type app struct {
	cfg    *Config
	logger *log.Logger
	out    io.Writer
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd returns the root command. Each call returns an independent tree
// so tests can run commands in isolation.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "tpm2obj",
		Short: "Resolve and use TPM 2.0 objects",
		Long: `tpm2obj resolves the object identifiers accepted by tpm2-tools: a saved
context file, a TSS2 PRIVATE KEY file, a persistent handle or a hierarchy
name. Keys whose parent is a hierarchy are loaded under a primary key that is
created on demand.

Flags can also be set in a config file or with TPM2OBJ_* environment
variables, e.g. TPM2OBJ_DEVICE=mssim:host=localhost;port=2321.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg, a.logger, a.out = cfg, logger, cmd.OutOrStdout()
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file")
	flags.StringP("device", "d", "", `TPM to use: a device path, "mssim:host=...;port=..." or "simulator:seed=N"`)
	flags.String("tap", "", "record TPM commands to a file; the format is chosen by extension (.pcap, .pcapng, .bin or text)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringP("output", "o", "text", "output format (text or json)")

	cmd.AddCommand(
		newResolveCmd(a),
		newLoadCmd(a),
		newSignCmd(a),
		newCapsCmd(a),
		newTSS2Cmd(a),
	)
	return cmd
}

func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	return log.NewWithOptions(w, log.Options{
		Level:  lvl,
		Prefix: "tpm2obj",
	}), nil
}

// openDevice opens the configured TPM. The returned function closes the TPM
// and the tap file.
func (a *app) openDevice(ctx context.Context) (*device.TPM, func(), error) {
	opts := []device.Option{
		device.WithDeviceName(a.cfg.Device),
		device.WithLogger(a.logger),
	}

	var (
		tapFile *os.File
		flush   debug.FlushFunc
	)
	if a.cfg.Tap != "" {
		f, err := os.Create(a.cfg.Tap)
		if err != nil {
			return nil, nil, errors.Wrap(err, "error creating tap file")
		}
		tap, fn, err := debug.New(tapFormat(a.cfg.Tap), f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		tapFile, flush = f, fn
		opts = append(opts, device.WithTap(tap))
	}

	closeTap := func() {
		if tapFile == nil {
			return
		}
		if err := flush(); err != nil {
			a.logger.Error("failed flushing tap", "error", err)
		}
		if err := tapFile.Close(); err != nil {
			a.logger.Error("failed closing tap file", "error", err)
		}
	}

	dev, err := device.New(opts...)
	if err != nil {
		closeTap()
		return nil, nil, err
	}
	if err := dev.Open(ctx); err != nil {
		closeTap()
		return nil, nil, err
	}

	return dev, func() {
		if err := dev.Close(ctx); err != nil {
			a.logger.Error("failed closing TPM", "error", err)
		}
		a.logger.Debug("TPM session finished", "commands", dev.Commands())
		closeTap()
	}, nil
}

// print writes v as JSON or calls text to write it in text form.
func (a *app) print(v any, text func(w io.Writer)) error {
	switch a.cfg.Output {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(a.out)
		return nil
	default:
		return errors.Errorf("unsupported output format %q", a.cfg.Output)
	}
}

func field(w io.Writer, name string, value any) {
	fmt.Fprintf(w, "%-16s %v\n", name+":", value)
}
