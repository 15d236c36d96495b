// Package algorithm names the TPM_ALG_ID values reported by a TPM.
package algorithm

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// Kind groups algorithms by their use.
type Kind string

const (
	KindObject    Kind = "object"
	KindSymmetric Kind = "symmetric"
	KindHash      Kind = "hash"
	KindSignature Kind = "signature"
	KindEncrypt   Kind = "encryption"
	KindKDF       Kind = "kdf"
	KindMode      Kind = "mode"
	KindOther     Kind = "other"
)

// https://trustedcomputinggroup.org/wp-content/uploads/TCG_TPM2_r1p59_Part2_Structures_pub.pdf
var names = map[tpm2.TPMAlgID]struct {
	name string
	kind Kind
}{
	0x0001: {"RSA", KindObject},
	0x0003: {"3DES", KindSymmetric},
	0x0004: {"SHA-1", KindHash},
	0x0005: {"HMAC", KindHash},
	0x0006: {"AES", KindSymmetric},
	0x0007: {"MGF1", KindHash},
	0x0008: {"Keyed Hash", KindObject},
	0x000A: {"XOR", KindSymmetric},
	0x000B: {"SHA-256", KindHash},
	0x000C: {"SHA-384", KindHash},
	0x000D: {"SHA-512", KindHash},
	0x0010: {"Null", KindOther},
	0x0012: {"SM3-256", KindHash},
	0x0013: {"SM4", KindSymmetric},
	0x0014: {"RSA-SSA", KindSignature},
	0x0015: {"RSAES", KindEncrypt},
	0x0016: {"RSA-PSS", KindSignature},
	0x0017: {"OAEP", KindEncrypt},
	0x0018: {"ECDSA", KindSignature},
	0x0019: {"ECDH", KindEncrypt},
	0x001A: {"ECDAA", KindSignature},
	0x001B: {"SM2", KindSignature},
	0x001C: {"EC-Schnorr", KindSignature},
	0x001D: {"ECMQV", KindEncrypt},
	0x0020: {"KDF1-SP800-56A", KindKDF},
	0x0021: {"KDF2", KindKDF},
	0x0022: {"KDF1-SP800-108", KindKDF},
	0x0023: {"ECC", KindObject},
	0x0025: {"Symmetric Cipher", KindObject},
	0x0026: {"Camellia", KindSymmetric},
	0x0027: {"SHA3-256", KindHash},
	0x0028: {"SHA3-384", KindHash},
	0x0029: {"SHA3-512", KindHash},
	0x003F: {"CMAC", KindSymmetric},
	0x0040: {"CTR", KindMode},
	0x0041: {"OFB", KindMode},
	0x0042: {"CBC", KindMode},
	0x0043: {"CFB", KindMode},
	0x0044: {"ECB", KindMode},
}

// Algorithm is a TPM_ALG_ID.
type Algorithm tpm2.TPMAlgID

// String returns the name of the algorithm, or its hexadecimal value if it
// is not known.
func (a Algorithm) String() string {
	if v, ok := names[tpm2.TPMAlgID(a)]; ok {
		return v.name
	}
	return fmt.Sprintf("0x%04X", uint16(a))
}

// Kind returns the use of the algorithm.
func (a Algorithm) Kind() Kind {
	if v, ok := names[tpm2.TPMAlgID(a)]; ok {
		return v.kind
	}
	return KindOther
}

// Known reports whether a is a registered algorithm.
func (a Algorithm) Known() bool {
	_, ok := names[tpm2.TPMAlgID(a)]
	return ok
}

// MarshalJSON marshals the algorithm as its name.
func (a Algorithm) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// FromIDs converts the algorithms returned by TPM2_GetCapability.
func FromIDs(ids []tpm2.TPMAlgID) []Algorithm {
	algs := make([]Algorithm, len(ids))
	for i, id := range ids {
		algs[i] = Algorithm(id)
	}
	return algs
}
