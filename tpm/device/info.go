package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/go-tpm/tpm2"

	"go.step.sm/tpmobject/tpm/manufacturer"
)

// Info describes a TPM.
type Info struct {
	Manufacturer    manufacturer.Manufacturer `json:"manufacturer"`
	VendorInfo      string                    `json:"vendorInfo"`
	FirmwareVersion FirmwareVersion           `json:"firmwareVersion"`
}

// FirmwareVersion is the version reported in TPM_PT_FIRMWARE_VERSION_1.
type FirmwareVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (fv FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d", fv.Major, fv.Minor)
}

// Info reads the fixed properties of the TPM.
func (t *TPM) Info(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTManufacturer),
		PropertyCount: uint32(tpm2.TPMPTFirmwareVersion2-tpm2.TPMPTManufacturer) + 1,
	}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("failed getting TPM properties: %w", err)
	}
	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil {
		return nil, fmt.Errorf("failed getting TPM properties: %w", err)
	}

	info := &Info{}
	var vendor [4]uint32
	for _, p := range props.TPMProperty {
		switch p.Property {
		case tpm2.TPMPTManufacturer:
			info.Manufacturer = manufacturer.Lookup(manufacturer.ID(p.Value))
		case tpm2.TPMPTVendorString1:
			vendor[0] = p.Value
		case tpm2.TPMPTVendorString2:
			vendor[1] = p.Value
		case tpm2.TPMPTVendorString3:
			vendor[2] = p.Value
		case tpm2.TPMPTVendorString4:
			vendor[3] = p.Value
		case tpm2.TPMPTFirmwareVersion1:
			info.FirmwareVersion = FirmwareVersion{
				Major: int(p.Value >> 16),
				Minor: int(p.Value & 0xffff),
			}
		}
	}
	info.VendorInfo = vendorString(vendor)

	return info, nil
}

func vendorString(v [4]uint32) string {
	var b []byte
	for _, w := range v {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}
