// Package tss2 implements the TSS2 PRIVATE KEY format used by the OpenSSL
// TPM 2.0 engine and provider, tpm2-tools and the Linux kernel to store TPM
// keys that can be loaded under a parent.
package tss2

import (
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"go.step.sm/tpmobject/tpm/blob"
	"go.step.sm/tpmobject/tpm/handle"
)

// PEMType is the PEM block type of a TSS2 key.
const PEMType = "TSS2 PRIVATE KEY"

var (
	oidLoadableKey   = asn1.ObjectIdentifier{2, 23, 133, 10, 1, 3}
	oidImportableKey = asn1.ObjectIdentifier{2, 23, 133, 10, 1, 4}
	oidSealedKey     = asn1.ObjectIdentifier{2, 23, 133, 10, 1, 5}
)

// TPMKey is defined in https://www.hansenpartnership.com/draft-bottomley-tpm2-keys.html#section-3.1:
//
//	TPMKey ::= SEQUENCE {
//		type        OBJECT IDENTIFIER,
//		emptyAuth   [0] EXPLICIT BOOLEAN OPTIONAL,
//		policy      [1] EXPLICIT SEQUENCE OF TPMPolicy OPTIONAL,
//		secret      [2] EXPLICIT OCTET STRING OPTIONAL,
//		authPolicy  [3] EXPLICIT SEQUENCE OF TPMAuthPolicy OPTIONAL,
//		parent      INTEGER,
//		pubkey      OCTET STRING,
//		privkey     OCTET STRING
//	}
//
// PublicKey and PrivateKey hold the marshaled TPM2B_PUBLIC and TPM2B_PRIVATE,
// including their size prefix. The optional Policy, Secret and AuthPolicy
// fields are present when they are not nil, so an empty but non-nil value is
// kept as an empty element.
type TPMKey struct {
	Type       asn1.ObjectIdentifier
	EmptyAuth  bool
	Policy     []TPMPolicy
	Secret     []byte
	AuthPolicy []TPMAuthPolicy
	Parent     handle.Handle
	PublicKey  []byte
	PrivateKey []byte
}

// TPMPolicy is defined in https://www.hansenpartnership.com/draft-bottomley-tpm2-keys.html#section-4.1:
//
//	TPMPolicy ::= SEQUENCE {
//		commandCode   [0] EXPLICIT INTEGER,
//		commandPolicy [1] EXPLICIT OCTET STRING
//	}
type TPMPolicy struct {
	CommandCode   int
	CommandPolicy []byte
}

// TPMAuthPolicy is defined in https://www.hansenpartnership.com/draft-bottomley-tpm2-keys.html#section-5.1
//
//	TPMAuthPolicy ::= SEQUENCE {
//		name    [0] EXPLICIT UTF8String OPTIONAL,
//		policy  [1] EXPLICIT SEQUENCE OF TPMPolicy
//	}
type TPMAuthPolicy struct {
	Name   string
	Policy []TPMPolicy
}

// Parse parses a TSS2 key from PEM or DER data and checks that it is a
// loadable key with a usable parent and well-formed blobs. Any failure is
// returned as a [*FormatError].
func Parse(data []byte) (*TPMKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != PEMType {
			return nil, malformed(fmt.Sprintf("PEM type %q", block.Type))
		}
		der = block.Bytes
	}

	key, err := ParsePrivateKey(der)
	if err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Validate checks the semantic constraints of a loadable key: the type must
// be the loadable key OID, the parent must be zero, a hierarchy or a
// persistent handle, and both blobs must decode.
func (k *TPMKey) Validate() error {
	if !k.Type.Equal(oidLoadableKey) {
		return &FormatError{Kind: ErrUnsupportedType, Field: describeType(k.Type)}
	}

	switch p := k.Parent; {
	case p == 0, p.IsHierarchy(), p.IsPersistent():
	default:
		return &FormatError{Kind: ErrInvalidParent, Field: p.String()}
	}

	if _, err := k.Public(); err != nil {
		return err
	}
	if _, err := k.Private(); err != nil {
		return err
	}
	return nil
}

// Public decodes the public blob of the key.
func (k *TPMKey) Public() (*blob.Public, error) {
	pub, err := blob.UnmarshalPublic(k.PublicKey)
	if err != nil {
		return nil, &FormatError{Kind: ErrBadBlob, Which: PublicBlob, Err: err}
	}
	return pub, nil
}

// Private decodes the private blob of the key.
func (k *TPMKey) Private() (*blob.Private, error) {
	priv, err := blob.UnmarshalPrivate(k.PrivateKey)
	if err != nil {
		return nil, &FormatError{Kind: ErrBadBlob, Which: PrivateBlob, Err: err}
	}
	return priv, nil
}

func describeType(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(oidImportableKey):
		return oid.String() + " (importable key)"
	case oid.Equal(oidSealedKey):
		return oid.String() + " (sealed data)"
	default:
		return oid.String()
	}
}

// ParsePrivateKey parses a single TPM key from the given ASN.1 DER data. It
// checks the structure only; use [Parse] or [TPMKey.Validate] to check that
// the key can be loaded.
func ParsePrivateKey(derBytes []byte) (*TPMKey, error) {
	var err error

	var input cryptobyte.String
	outer := cryptobyte.String(derBytes)
	if !outer.ReadASN1(&input, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("key")
	}
	if !outer.Empty() {
		return nil, &FormatError{Kind: ErrMalformed, Field: "key", Err: errors.New("trailing data")}
	}

	key := new(TPMKey)
	if !input.ReadASN1ObjectIdentifier(&key.Type) {
		return nil, malformed("type")
	}

	if tag, ok := readOptionalTag(&input, 0); ok {
		if !readASN1Boolean(&tag, &key.EmptyAuth) || !tag.Empty() {
			return nil, malformed("emptyAuth")
		}
	}

	if tag, ok := readOptionalTag(&input, 1); ok {
		var policy cryptobyte.String
		if !tag.ReadASN1(&policy, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("policy")
		}
		key.Policy, err = readTPMPolicySequence(&policy)
		if err != nil {
			return nil, err
		}
		if key.Policy == nil {
			key.Policy = []TPMPolicy{}
		}
	}

	if tag, ok := readOptionalTag(&input, 2); ok {
		if key.Secret, ok = readOctetString(&tag); !ok {
			return nil, malformed("secret")
		}
	}

	if tag, ok := readOptionalTag(&input, 3); ok {
		if key.AuthPolicy, err = readTPMAuthPolicy(&tag); err != nil {
			return nil, err
		}
		if key.AuthPolicy == nil {
			key.AuthPolicy = []TPMAuthPolicy{}
		}
	}

	parent := new(big.Int)
	if !input.ReadASN1Integer(parent) {
		return nil, malformed("parent")
	}
	if parent.Sign() < 0 || parent.BitLen() > 32 {
		return nil, &FormatError{
			Kind:  ErrInvalidParent,
			Field: parent.String(),
			Err:   errors.New("value does not fit in 32 bits"),
		}
	}
	key.Parent = handle.Handle(parent.Uint64())

	var ok bool
	if key.PublicKey, ok = readOctetString(&input); !ok {
		return nil, malformed("pubkey")
	}

	if key.PrivateKey, ok = readOctetString(&input); !ok {
		return nil, malformed("privkey")
	}

	if !input.Empty() {
		return nil, &FormatError{Kind: ErrMalformed, Field: "key", Err: errors.New("unexpected data after privkey")}
	}

	return key, nil
}

// MarshalPrivateKey converts the give key to a TSS2 ASN.1 DER form.
func MarshalPrivateKey(key *TPMKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("tpmKey cannot be nil")
	}

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(key.Type)
		if key.EmptyAuth {
			addExplicitTag(b, 0, func(b *cryptobyte.Builder) {
				b.AddASN1Boolean(true)
			})
		}
		if key.Policy != nil {
			addExplicitTag(b, 1, func(b *cryptobyte.Builder) {
				addTPMPolicySequence(b, key.Policy)
			})
		}
		if key.Secret != nil {
			addExplicitTag(b, 2, func(b *cryptobyte.Builder) {
				b.AddASN1OctetString(key.Secret)
			})
		}
		if key.AuthPolicy != nil {
			addExplicitTag(b, 3, func(b *cryptobyte.Builder) {
				b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					for _, ap := range key.AuthPolicy {
						b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
							if ap.Name != "" {
								addExplicitTag(b, 0, func(b *cryptobyte.Builder) {
									b.AddASN1(cryptobyte_asn1.UTF8String, func(b *cryptobyte.Builder) {
										b.AddBytes([]byte(ap.Name))
									})
								})
							}
							addExplicitTag(b, 1, func(b *cryptobyte.Builder) {
								addTPMPolicySequence(b, ap.Policy)
							})
						})
					}
				})
			})
		}
		b.AddASN1Uint64(uint64(key.Parent))
		b.AddASN1OctetString(key.PublicKey)
		b.AddASN1OctetString(key.PrivateKey)
	})

	return b.Bytes()
}

func addExplicitTag(b *cryptobyte.Builder, tag int, fn cryptobyte.BuilderContinuation) {
	b.AddASN1(cryptobyte_asn1.Tag(tag).Constructed().ContextSpecific(), fn)
}

func addTPMPolicySequence(b *cryptobyte.Builder, policies []TPMPolicy) {
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, p := range policies {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				addExplicitTag(b, 0, func(b *cryptobyte.Builder) {
					b.AddASN1Int64(int64(p.CommandCode))
				})
				addExplicitTag(b, 1, func(b *cryptobyte.Builder) {
					b.AddASN1OctetString(p.CommandPolicy)
				})
			})
		}
	})
}

func readOptionalTag(input *cryptobyte.String, tag int) (cryptobyte.String, bool) {
	var isPresent bool
	var output cryptobyte.String
	if !input.ReadOptionalASN1(&output, &isPresent, cryptobyte_asn1.Tag(tag).Constructed().ContextSpecific()) {
		return nil, false
	}
	return output, isPresent
}

func readOctetString(input *cryptobyte.String) ([]byte, bool) {
	var os cryptobyte.String
	if !input.ReadASN1(&os, cryptobyte_asn1.OCTET_STRING) {
		return nil, false
	}
	return append([]byte{}, os...), true
}

// readASN1Boolean accepts 0x01 as a TRUE value for a boolean type. OpenSSL
// seems to confuse DER with BER encoding and encodes the BOOLEAN TRUE as 0x01
// instead of 0xff.
func readASN1Boolean(input *cryptobyte.String, out *bool) bool {
	var bytes cryptobyte.String
	if !input.ReadASN1(&bytes, cryptobyte_asn1.BOOLEAN) || len(bytes) != 1 {
		return false
	}

	switch bytes[0] {
	case 0:
		*out = false
	case 1, 0xff:
		*out = true
	default:
		return false
	}

	return true
}

func readTPMPolicySequence(input *cryptobyte.String) ([]TPMPolicy, error) {
	var policies []TPMPolicy
	for !input.Empty() {
		var p TPMPolicy
		var seq cryptobyte.String
		if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("policy")
		}
		tag, ok := readOptionalTag(&seq, 0)
		if !ok || !tag.ReadASN1Integer(&p.CommandCode) {
			return nil, malformed("policy commandCode")
		}
		tag, ok = readOptionalTag(&seq, 1)
		if !ok {
			return nil, malformed("policy commandPolicy")
		}
		if p.CommandPolicy, ok = readOctetString(&tag); !ok {
			return nil, malformed("policy commandPolicy")
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func readTPMAuthPolicy(input *cryptobyte.String) ([]TPMAuthPolicy, error) {
	var (
		err          error
		authPolicy   cryptobyte.String
		authPolicies []TPMAuthPolicy
	)
	if !input.ReadASN1(&authPolicy, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("authPolicy")
	}

	for !authPolicy.Empty() {
		var ap TPMAuthPolicy
		var seq cryptobyte.String
		if !authPolicy.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("authPolicy")
		}

		var name cryptobyte.String
		if tag, ok := readOptionalTag(&seq, 0); ok {
			if !tag.ReadASN1(&name, cryptobyte_asn1.UTF8String) {
				return nil, malformed("authPolicy name")
			}
			ap.Name = string(name)
		}

		var policySeq cryptobyte.String
		if tag, ok := readOptionalTag(&seq, 1); ok {
			if !tag.ReadASN1(&policySeq, cryptobyte_asn1.SEQUENCE) {
				return nil, malformed("authPolicy policy")
			}
			if ap.Policy, err = readTPMPolicySequence(&policySeq); err != nil {
				return nil, malformed("authPolicy policy")
			}
		}
		authPolicies = append(authPolicies, ap)
	}

	return authPolicies, nil
}
