package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"go.step.sm/tpmobject/tpm/algorithm"
	"go.step.sm/tpmobject/tpm/device"
	"go.step.sm/tpmobject/tpm/primary"
)

type capsResult struct {
	Info       *device.Info          `json:"info"`
	Algorithms []algorithm.Algorithm `json:"algorithms"`
	Primary    string                `json:"primary"`
}

func newCapsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show the TPM vendor and supported algorithms",
		Long: `Show the TPM vendor, its supported algorithms and the algorithm of the
primary key created for keys whose parent is a hierarchy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dev, done, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer done()

			info, err := dev.Info(ctx)
			if err != nil {
				return err
			}
			ids, err := dev.SupportedAlgorithms(ctx)
			if err != nil {
				return err
			}

			res := &capsResult{
				Info:       info,
				Algorithms: algorithm.FromIDs(ids),
				Primary:    primary.SelectAlgorithm(ids).String(),
			}
			return a.print(res, func(w io.Writer) {
				field(w, "manufacturer", info.Manufacturer)
				field(w, "vendor", info.VendorInfo)
				field(w, "firmware", info.FirmwareVersion)
				field(w, "primary", res.Primary)

				byKind := map[algorithm.Kind][]string{}
				var kinds []algorithm.Kind
				for _, alg := range res.Algorithms {
					k := alg.Kind()
					if _, ok := byKind[k]; !ok {
						kinds = append(kinds, k)
					}
					byKind[k] = append(byKind[k], alg.String())
				}
				for _, k := range kinds {
					field(w, string(k), strings.Join(byKind[k], ", "))
				}
			})
		},
	}
}
