// Package keys derives stable cache keys from request content.
//
// A key is the first 128 bits of a SHA-256 digest over the normalized content
// and its context fields, rendered as 32 lowercase hex characters. Content is
// normalized to Unicode NFC, case folded, trimmed, and internal whitespace runs
// collapse to a single space, so "Hello World" and "  hello   world " share a key.
// Context fields (e.g. "lang") are normalized the same way and folded in sorted
// by name; each field is length-prefixed so boundaries cannot collide.
package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key is a derived cache key (32 hex chars).
type Key string

func (k Key) String() string { return string(k) }

// DerivationError reports malformed input passed to DeriveStrict.
type DerivationError struct {
	Field  string
	Reason string
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("keys: invalid %s: %s", e.Field, e.Reason)
}

// Derive returns the key for raw content under ctx. It never fails:
// invalid UTF-8 is replaced before normalization.
func Derive(raw string, ctx map[string]string) Key {
	return derive("", raw, ctx)
}

// DeriveStrict is Derive for callers that want malformed input reported
// instead of repaired.
func DeriveStrict(raw string, ctx map[string]string) (Key, error) {
	if err := validate(raw, ctx); err != nil {
		return "", err
	}
	return derive("", raw, ctx), nil
}

// Deriver scopes every key it derives, e.g. by analysis type
// ("text", "image", "audio") so equal content analyzed differently never
// shares an entry.
type Deriver struct {
	Scope string
}

func (d Deriver) Derive(raw string, ctx map[string]string) Key {
	return derive(Normalize(d.Scope), raw, ctx)
}

func (d Deriver) DeriveStrict(raw string, ctx map[string]string) (Key, error) {
	if err := validate(raw, ctx); err != nil {
		return "", err
	}
	return derive(Normalize(d.Scope), raw, ctx), nil
}

// Normalize applies the content normalization used for key derivation.
func Normalize(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func validate(raw string, ctx map[string]string) error {
	if !utf8.ValidString(raw) {
		return &DerivationError{Field: "content", Reason: "not valid UTF-8"}
	}
	for k, v := range ctx {
		if Normalize(k) == "" {
			return &DerivationError{Field: "context", Reason: "empty field name"}
		}
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return &DerivationError{Field: "context " + k, Reason: "not valid UTF-8"}
		}
	}
	return nil
}

func derive(scope, raw string, ctx map[string]string) Key {
	type field struct{ k, v string }

	fields := make([]field, 0, len(ctx))
	for k, v := range ctx {
		fields = append(fields, field{Normalize(k), Normalize(v)})
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].k != fields[j].k {
			return fields[i].k < fields[j].k
		}
		return fields[i].v < fields[j].v
	})

	h := sha256.New()
	var buf []byte
	put := func(s string) {
		buf = binary.AppendUvarint(buf[:0], uint64(len(s)))
		h.Write(buf)
		h.Write([]byte(s))
	}

	put(scope)
	put(Normalize(raw))
	for _, f := range fields {
		put(f.k)
		put(f.v)
	}

	sum := h.Sum(nil)
	return Key(hex.EncodeToString(sum[:16]))
}
