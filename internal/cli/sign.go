package cli

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"   // register SHA-1
	_ "crypto/sha256" // register SHA-256
	_ "crypto/sha512" // register SHA-384 and SHA-512
	"encoding/base64"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.step.sm/tpmobject/tpm/signer"
)

var hashes = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

func parseHash(s string) (crypto.Hash, error) {
	h, ok := hashes[strings.ToLower(s)]
	if !ok {
		return 0, errors.Errorf("unsupported hash %q", s)
	}
	return h, nil
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

type signResult struct {
	Identifier string `json:"identifier"`
	Hash       string `json:"hash"`
	Signature  []byte `json:"signature"`
}

func newSignCmd(a *app) *cobra.Command {
	var (
		f      resolveFlags
		in     string
		out    string
		hash   string
		digest bool
		pss    bool
	)
	cmd := &cobra.Command{
		Use:   "sign <identifier>",
		Short: "Sign data with a TPM key",
		Long: `Sign data with the key an identifier resolves to. ECDSA signatures are
ASN.1 encoded, RSA signatures use PKCS #1 v1.5 unless --pss is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			h, err := parseHash(hash)
			if err != nil {
				return err
			}
			data, err := readInput(in)
			if err != nil {
				return errors.Wrap(err, "error reading input")
			}
			sum := data
			if !digest {
				hh := h.New()
				hh.Write(data)
				sum = hh.Sum(nil)
			}

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

			var opts crypto.SignerOpts = h
			if pss {
				opts = &rsa.PSSOptions{Hash: h, SaltLength: rsa.PSSSaltLengthEqualsHash}
			}
			sig, err := s.Sign(rand.Reader, sum, opts)
			if err != nil {
				return err
			}

			if out != "" {
				if err := os.WriteFile(out, sig, 0o600); err != nil {
					return errors.Wrap(err, "error writing signature")
				}
				a.logger.Info("signature written", "path", out)
				return nil
			}
			return a.print(&signResult{
				Identifier: args[0],
				Hash:       strings.ToLower(hash),
				Signature:  sig,
			}, func(w io.Writer) {
				io.WriteString(w, base64.StdEncoding.EncodeToString(sig)+"\n")
			})
		},
	}

	f.register(cmd)
	flags := cmd.Flags()
	flags.StringVarP(&in, "input", "i", "-", "file to sign, - for stdin")
	flags.StringVarP(&out, "signature", "s", "", "write the raw signature to a file instead of printing it")
	flags.StringVarP(&hash, "hash", "g", "sha256", "hash algorithm (sha1, sha256, sha384 or sha512)")
	flags.BoolVar(&digest, "digest", false, "the input is already a digest")
	flags.BoolVar(&pss, "pss", false, "use RSASSA-PSS for RSA keys")
	return cmd
}
