package capability

import (
	"net"
)

// VerifyToken decodes and verifies a single Base64URL token against ctx,
// per the pipeline in original_source/crates/ron-auth/src/verify/pipeline.rs:
// decode+bounds, MAC check, then hybrid caveat evaluation.
func VerifyToken(cfg VerifierConfig, tokenB64URL string, ctx RequestCtx, keys MacKeyProvider) (Decision, error) {
	tok, err := DecodeToken(tokenB64URL, cfg)
	if err != nil {
		return Decision{}, err
	}
	return verifyDecoded(cfg, tok, ctx, keys)
}

// VerifyMany verifies a batch of tokens, amortizing nothing special in Go
// (the Rust original reuses a scratch buffer across iterations; Go's GC
// makes that optimization not worth the complexity here) but preserving
// per-token independence: one token's MAC/bounds failure does not abort
// the batch.
func VerifyMany(cfg VerifierConfig, tokensB64URL []string, ctx RequestCtx, keys MacKeyProvider) ([]Decision, []error) {
	decisions := make([]Decision, len(tokensB64URL))
	errs := make([]error, len(tokensB64URL))
	for i, t := range tokensB64URL {
		d, err := VerifyToken(cfg, t, ctx, keys)
		decisions[i] = d
		errs[i] = err
	}
	return decisions, errs
}

func verifyDecoded(cfg VerifierConfig, tok Token, ctx RequestCtx, keys MacKeyProvider) (Decision, error) {
	key, ok := keys.KeyFor(tok.Kid, tok.Tid)
	if !ok {
		return Decision{}, ErrUnknownKid
	}

	expect, err := computeMAC(key, tok)
	if err != nil {
		return Decision{}, err
	}
	if !macsEqual(expect, tok.Mac) {
		return Decision{}, ErrMacMismatch
	}

	var reasons []DenyReason
	if len(tok.Caveats) <= cfg.SoaThreshold {
		reasons = evalCaveatsStreaming(cfg, ctx, tok.Caveats)
	} else {
		reasons = evalCaveatsSoA(cfg, ctx, tok.Caveats)
	}
	reasons = append(reasons, evalScope(ctx, tok.Scope)...)

	if len(reasons) == 0 {
		return Decision{Allowed: true, Scope: tok.Scope}, nil
	}
	return Decision{Allowed: false, Reasons: reasons}, nil
}

// evalScope enforces the token's path-prefix, method, and max-byte
// restrictions, fully enumerated alongside the caveat reasons rather than
// short-circuited. A Scope field left at its zero value imposes no
// restriction on that dimension. MaxBytes is only checked when ctx.MaxBytes
// is known (e.g. the caller has already resolved the object's size); a nil
// ctx.MaxBytes defers that check to the caller, the same convention
// CaveatBytesLE already uses.
func evalScope(ctx RequestCtx, scope Scope) []DenyReason {
	var reasons []DenyReason
	if scope.Prefix != "" && !hasPrefix(ctx.Path, scope.Prefix) {
		reasons = append(reasons, ReasonScopePrefixMismatch)
	}
	if len(scope.Methods) > 0 && !containsMethod(scope.Methods, ctx.Method) {
		reasons = append(reasons, ReasonScopeMethodMismatch)
	}
	if scope.MaxBytes != nil && ctx.MaxBytes != nil && *ctx.MaxBytes > *scope.MaxBytes {
		reasons = append(reasons, ReasonScopeBytesExceeded)
	}
	return reasons
}

// evalCaveatsStreaming evaluates caveats one at a time in original order,
// allocating the reasons slice lazily. Used for small tokens
// (len(caveats) <= soa_threshold), per spec.md §4.6.
func evalCaveatsStreaming(cfg VerifierConfig, ctx RequestCtx, caveats []Caveat) []DenyReason {
	var reasons []DenyReason
	for _, c := range caveats {
		if reason, ok := evalOne(cfg, ctx, c); !ok {
			reasons = append(reasons, reason)
		}
	}
	return reasons
}

// evalCaveatsSoA transposes caveats into per-kind columns before
// evaluating, trading one extra allocation pass for better cache behavior
// on large caveat sets. Semantics are identical to the streaming path:
// every failing caveat is reported, none short-circuit the others.
func evalCaveatsSoA(cfg VerifierConfig, ctx RequestCtx, caveats []Caveat) []DenyReason {
	byKind := make(map[CaveatKind][]Caveat, 9)
	order := make([]CaveatKind, 0, 9)
	for _, c := range caveats {
		if _, seen := byKind[c.Kind]; !seen {
			order = append(order, c.Kind)
		}
		byKind[c.Kind] = append(byKind[c.Kind], c)
	}

	var reasons []DenyReason
	for _, kind := range order {
		for _, c := range byKind[kind] {
			if reason, ok := evalOne(cfg, ctx, c); !ok {
				reasons = append(reasons, reason)
			}
		}
	}
	return reasons
}

// evalOne evaluates a single caveat against ctx, returning (reason, false)
// on failure or ("", true) on success. CaveatCustom always passes: it is
// reserved for extensions the core evaluator ignores, per spec.md §4.6.
func evalOne(cfg VerifierConfig, ctx RequestCtx, c Caveat) (DenyReason, bool) {
	switch c.Kind {
	case CaveatExp:
		deadline := c.Int
		if ctx.Now.Unix() > deadline+int64(cfg.ClockSkew.Seconds()) {
			return ReasonExpired, false
		}
	case CaveatTenant:
		if c.Str != ctx.Tenant {
			return ReasonTenantMismatch, false
		}
	case CaveatAud:
		if c.Str != ctx.PolicyDigestHex {
			return ReasonAudMismatch, false
		}
	case CaveatPathPrefix:
		if !hasPrefix(ctx.Path, c.Str) {
			return ReasonPathPrefixMismatch, false
		}
	case CaveatMethod:
		if !containsMethod(c.Methods, ctx.Method) {
			return ReasonMethodMismatch, false
		}
	case CaveatIPCIDR:
		_, network, err := net.ParseCIDR(c.Str)
		if err != nil {
			return ReasonMalformedIPCIDR, false
		}
		if ctx.PeerIP == nil || !network.Contains(ctx.PeerIP) {
			return ReasonIPCIDRMismatch, false
		}
	case CaveatBytesLE:
		if ctx.MaxBytes != nil && *ctx.MaxBytes > uint64(c.Int) {
			return ReasonBytesLEExceeded, false
		}
	case CaveatAmnesia:
		if c.Bool != ctx.Amnesia {
			return ReasonAmnesiaMismatch, false
		}
	case CaveatCustom:
		// Reserved: ignored by the core evaluator.
	}
	return "", true
}

func hasPrefix(path, prefix string) bool {
	if len(prefix) > len(path) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}
