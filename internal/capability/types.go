// Package capability implements C6: CBOR macaroon-style capability tokens
// with a BLAKE3-keyed MAC and hybrid streaming/structure-of-arrays caveat
// evaluation, grounded on
// original_source/crates/ron-auth/src/verify/pipeline.rs.
package capability

import (
	"net"
	"time"
)

// CaveatKind discriminates a Caveat's variant, per spec.md §4.6.
type CaveatKind uint8

const (
	CaveatExp CaveatKind = iota
	CaveatTenant
	CaveatAud
	CaveatPathPrefix
	CaveatMethod
	CaveatIPCIDR
	CaveatBytesLE
	CaveatAmnesia
	CaveatCustom
)

// Caveat is a single restriction attached to a token. Only the fields
// relevant to Kind are populated, the same tagged-variant-by-value idiom
// used for busevent.Event.
type Caveat struct {
	Kind CaveatKind `cbor:"kind"`

	Str     string                 `cbor:"str,omitempty"`
	Int     int64                  `cbor:"int,omitempty"`
	Methods []string               `cbor:"methods,omitempty"`
	Bool    bool                   `cbor:"bool,omitempty"`
	Custom  map[string]interface{} `cbor:"custom,omitempty"`
}

// Scope restricts a token to a path prefix, an allowed method set, and an
// optional maximum object size, per spec.md §4.6's token data model.
// Each field is an independent restriction: a zero value (empty prefix,
// empty methods, nil MaxBytes) imposes no constraint on that dimension.
type Scope struct {
	Prefix   string   `cbor:"prefix,omitempty"`
	Methods  []string `cbor:"methods,omitempty"`
	MaxBytes *uint64  `cbor:"max_bytes,omitempty"`
}

// Token is the decoded capability, mirroring the Rust crate's `Capability`.
type Token struct {
	V       int      `cbor:"v"`
	Kid     string   `cbor:"kid"`
	Tid     string   `cbor:"tid"`
	Scope   Scope    `cbor:"scope"`
	Caveats []Caveat `cbor:"caveats"`
	Mac     []byte   `cbor:"mac"`
}

// RequestCtx is the request context caveats are evaluated against, per
// spec.md §4.6.
type RequestCtx struct {
	Now             time.Time
	Method          string
	Path            string
	PeerIP          net.IP
	ObjectAddr      string
	Tenant          string
	Amnesia         bool
	PolicyDigestHex string
	MaxBytes        *uint64
}

// VerifierConfig bounds decode and evaluation cost.
type VerifierConfig struct {
	MaxTokenBytes int
	MaxCaveats    int
	SoaThreshold  int
	ClockSkew     time.Duration
}

// DefaultVerifierConfig matches spec.md §4.6's defaults.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MaxTokenBytes: 4096,
		MaxCaveats:    128,
		SoaThreshold:  8,
		ClockSkew:     0,
	}
}

// DenyReason is the stable vocabulary of caveat failures, enumerated in
// full (not short-circuited) in a Deny decision.
type DenyReason string

const (
	ReasonExpired             DenyReason = "expired"
	ReasonTenantMismatch      DenyReason = "tenant_mismatch"
	ReasonAudMismatch         DenyReason = "aud_mismatch"
	ReasonPathPrefixMismatch  DenyReason = "path_prefix_mismatch"
	ReasonMethodMismatch      DenyReason = "method_mismatch"
	ReasonIPCIDRMismatch      DenyReason = "ip_cidr_mismatch"
	ReasonBytesLEExceeded     DenyReason = "bytes_le_exceeded"
	ReasonAmnesiaMismatch     DenyReason = "amnesia_mismatch"
	ReasonMalformedIPCIDR     DenyReason = "malformed_ip_cidr"
	ReasonScopePrefixMismatch DenyReason = "scope_prefix_mismatch"
	ReasonScopeMethodMismatch DenyReason = "scope_method_mismatch"
	ReasonScopeBytesExceeded  DenyReason = "scope_bytes_exceeded"
)

// Decision is the outcome of verifying one token.
type Decision struct {
	Allowed bool
	Scope   Scope
	Reasons []DenyReason
}

// MacKeyProvider resolves a (kid, tid) pair to a 32-byte symmetric MAC key.
type MacKeyProvider interface {
	KeyFor(kid, tid string) ([]byte, bool)
}

// StaticKeyProvider is a MacKeyProvider backed by an in-memory map, for
// tests and small deployments with a fixed key set.
type StaticKeyProvider map[string][]byte

// KeyFor looks up kid+":"+tid directly; tid is not otherwise interpreted.
func (p StaticKeyProvider) KeyFor(kid, tid string) ([]byte, bool) {
	key, ok := p[kid+":"+tid]
	return key, ok
}
