// Package uri parses the opaque "scheme:key=value;key=value" URIs used to
// name TPM devices, e.g. "mssim:host=127.0.0.1;port=2321".
package uri

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// URI implements a parser for URIs where the values are separated by
// semicolons. Values in the query string are also accepted.
type URI struct {
	*url.URL
	Values url.Values
}

// New creates a new URI from a scheme and key-value pairs.
func New(scheme string, values url.Values) *URI {
	return &URI{
		URL: &url.URL{
			Scheme: scheme,
			Opaque: strings.ReplaceAll(values.Encode(), "&", ";"),
		},
		Values: values,
	}
}

// NewOpaque returns a URI with the given scheme and opaque data.
func NewOpaque(scheme, opaque string) *URI {
	return &URI{
		URL: &url.URL{
			Scheme: scheme,
			Opaque: opaque,
		},
	}
}

// HasScheme returns true if the given uri has the given scheme, false
// otherwise. The comparison is case insensitive.
func HasScheme(scheme, rawuri string) bool {
	u, err := url.Parse(rawuri)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, scheme)
}

// Parse returns the URI for the given string or an error.
func Parse(rawuri string) (*URI, error) {
	u, err := url.Parse(rawuri)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", rawuri, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("error parsing %s: scheme is missing", rawuri)
	}
	// Starting with Go 1.17 url.ParseQuery returns an error using semicolon as
	// separator.
	v, err := url.ParseQuery(strings.ReplaceAll(u.Opaque, ";", "&"))
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", rawuri, err)
	}

	return &URI{
		URL:    u,
		Values: v,
	}, nil
}

// ParseWithScheme returns a new URI for the given string only if it has the
// given scheme.
func ParseWithScheme(scheme, rawuri string) (*URI, error) {
	u, err := Parse(rawuri)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return nil, fmt.Errorf("error parsing %s: scheme not expected", rawuri)
	}
	return u, nil
}

// String returns the string representation of the URI.
func (u *URI) String() string {
	if len(u.Values) > 0 {
		u.URL.Opaque = strings.ReplaceAll(u.Values.Encode(), "&", ";")
	}
	return u.URL.String()
}

// Get returns the first value in the uri with the given key, it will return
// empty string if that field is not present.
func (u *URI) Get(key string) string {
	v := u.Values.Get(key)
	if v == "" {
		v = u.URL.Query().Get(key)
	}
	return v
}

// GetBool returns true if a given key has the value "true". It returns false
// otherwise.
func (u *URI) GetBool(key string) bool {
	v := u.Values.Get(key)
	if v == "" {
		v = u.URL.Query().Get(key)
	}
	return strings.EqualFold(v, "true")
}

// GetInt returns the value of the given key as an int64, or nil if the key
// is missing or is not an integer.
func (u *URI) GetInt(key string) *int64 {
	v := u.Get(key)
	if v == "" {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &i
}

// GetEncoded returns the first value in the uri with the given key, it will
// return nil if the field is not present or if it is empty. If the value
// looks like a hexadecimal string it is decoded, otherwise the raw value is
// returned.
func (u *URI) GetEncoded(key string) []byte {
	v := u.Get(key)
	if v == "" {
		return nil
	}
	if len(v)%2 == 0 {
		if b, err := hex.DecodeString(strings.TrimPrefix(v, "0x")); err == nil {
			return b
		}
	}
	return bytes.TrimFunc([]byte(v), unicode.IsSpace)
}
