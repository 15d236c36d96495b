// Package manufacturer maps the TPM_PT_MANUFACTURER property to a vendor.
package manufacturer

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ID is the value of the TPM_PT_MANUFACTURER property: up to four ASCII
// characters packed big-endian.
type ID uint32

// Code returns the printable characters of the ID, e.g. "IFX".
func (id ID) Code() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, string(b[:]))
}

// MarshalJSON encodes the ID as a decimal string.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(id), 10))), nil
}

// Manufacturer is a TPM vendor.
type Manufacturer struct {
	ID   ID     `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

func (m Manufacturer) String() string {
	return fmt.Sprintf("%s (%s, 0x%08X)", m.Name, m.Code, uint32(m.ID))
}

// Lookup returns the manufacturer with the given ID. The name is "unknown"
// if the vendor is not registered.
func Lookup(id ID) Manufacturer {
	code := id.Code()
	name, ok := names[code]
	if !ok {
		name = "unknown"
	}
	return Manufacturer{ID: id, Code: code, Name: name}
}

// names is based on the TCG TPM Vendor ID Registry, plus a few known
// virtual TPMs.
var names = map[string]string{
	"AMD":  "AMD",
	"ATML": "Atmel",
	"BRCM": "Broadcom",
	"CSCO": "Cisco",
	"FLYS": "Flyslice Technologies",
	"ROCC": "Fuzhou Rockchip",
	"GOOG": "Google",
	"HPE":  "HPE",
	"HISI": "Huawei",
	"IBM":  "IBM",
	"IFX":  "Infineon",
	"INTC": "Intel",
	"LEN":  "Lenovo",
	"MSFT": "Microsoft",
	"NSM":  "National Semiconductor",
	"NTZ":  "Nationz",
	"NTC":  "Nuvoton Technology",
	"QCOM": "Qualcomm",
	"SMSN": "Samsung",
	"SNS":  "Sinosun",
	"SMSC": "SMSC",
	"STM":  "ST Microelectronics",
	"TXN":  "Texas Instruments",
	"WEC":  "Winbond",

	"SIM0": "Simulator 0",
	"SIM1": "Simulator 1",
	"SIM2": "Simulator 2",
	"SIM3": "Simulator 3",
	"TST0": "Test 0",
	"TST1": "Test 1",

	"PRLS": "Parallels Desktop",
	"VMW":  "VMWare",
}
