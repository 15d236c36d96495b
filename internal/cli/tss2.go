package cli

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.step.sm/tpmobject/tpm/algorithm"
	"go.step.sm/tpmobject/tpm/blob"
	"go.step.sm/tpmobject/tpm/handle"
	"go.step.sm/tpmobject/tpm/tss2"
)

func newTSS2Cmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tss2",
		Short: "Create and inspect TSS2 PRIVATE KEY files",
	}
	cmd.AddCommand(newTSS2EncodeCmd(a), newTSS2InspectCmd(a))
	return cmd
}

func newTSS2EncodeCmd(a *app) *cobra.Command {
	var (
		pubPath, privPath string
		parent            string
		out               string
		authRequired      bool
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode the blobs written by tpm2_create as a TSS2 PRIVATE KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pb, err := os.ReadFile(pubPath)
			if err != nil {
				return errors.Wrap(err, "error reading public blob")
			}
			pub, err := blob.UnmarshalPublic(pb)
			if err != nil {
				return errors.Wrapf(err, "error decoding %s", pubPath)
			}
			sb, err := os.ReadFile(privPath)
			if err != nil {
				return errors.Wrap(err, "error reading private blob")
			}
			priv, err := blob.UnmarshalPrivate(sb)
			if err != nil {
				return errors.Wrapf(err, "error decoding %s", privPath)
			}

			p, err := handle.Parse(parent, handle.AllHierarchies)
			if err != nil {
				return errors.Wrap(err, "error parsing parent")
			}
			if p != 0 && !p.IsHierarchy() && !p.IsPersistent() {
				return errors.Errorf("parent %s is not a hierarchy or a persistent handle", p)
			}

			b, err := tss2.FromBlobs(pub, priv,
				tss2.WithParent(p),
				tss2.WithEmptyAuth(!authRequired),
			).EncodeToMemory()
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = a.out.Write(b)
				return err
			}
			if err := os.WriteFile(out, b, 0o600); err != nil {
				return errors.Wrap(err, "error writing key")
			}
			a.logger.Info("key written", "path", out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&pubPath, "public", "u", "", "TPM2B_PUBLIC file")
	flags.StringVarP(&privPath, "private", "r", "", "TPM2B_PRIVATE file")
	flags.StringVarP(&parent, "parent", "C", "owner", "parent hierarchy or persistent handle")
	flags.StringVarP(&out, "out", "f", "", "output file, stdout by default")
	flags.BoolVar(&authRequired, "auth-required", false, "the key has a non-empty authorization value")
	_ = cmd.MarkFlagRequired("public")
	_ = cmd.MarkFlagRequired("private")
	return cmd
}

type inspectResult struct {
	Type        string              `json:"type"`
	Parent      string              `json:"parent"`
	EmptyAuth   bool                `json:"emptyAuth"`
	Policies    int                 `json:"policies,omitempty"`
	Algorithm   algorithm.Algorithm `json:"algorithm"`
	Key         string              `json:"key"`
	Fingerprint string              `json:"fingerprint"`
}

func newTSS2InspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the contents of a TSS2 PRIVATE KEY file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return errors.Wrap(err, "error reading key")
			}
			key, err := tss2.Parse(data)
			if err != nil {
				return err
			}
			pub, err := key.Public()
			if err != nil {
				return err
			}
			publicKey, err := pub.Key()
			if err != nil {
				return err
			}
			fp, err := fingerprint(publicKey)
			if err != nil {
				return err
			}

			res := &inspectResult{
				Type:        key.Type.String(),
				Parent:      key.Parent.String(),
				EmptyAuth:   key.EmptyAuth,
				Policies:    len(key.Policy) + len(key.AuthPolicy),
				Algorithm:   algorithm.Algorithm(pub.Type()),
				Key:         describeKey(publicKey),
				Fingerprint: fp,
			}
			return a.print(res, func(w io.Writer) {
				field(w, "type", res.Type)
				field(w, "parent", res.Parent)
				field(w, "empty auth", res.EmptyAuth)
				if res.Policies > 0 {
					field(w, "policies", res.Policies)
				}
				field(w, "algorithm", res.Algorithm)
				field(w, "key", res.Key)
				field(w, "fingerprint", res.Fingerprint)
			})
		},
	}
}

func describeKey(k crypto.PublicKey) string {
	switch k := k.(type) {
	case *ecdsa.PublicKey:
		return "ECDSA " + k.Curve.Params().Name
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", k.N.BitLen())
	default:
		return fmt.Sprintf("%T", k)
	}
}

func fingerprint(k crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k)
	if err != nil {
		return "", errors.Wrap(err, "error marshaling public key")
	}
	sum := sha256.Sum256(der)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:]), nil
}
