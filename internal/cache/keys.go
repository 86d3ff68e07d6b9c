package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// dynamicBlockTags are block parameters whose meaning moves with the chain
// head; responses for them must never be cached.
var dynamicBlockTags = map[string]bool{
	"latest":    true,
	"pending":   true,
	"earliest":  true,
	"safe":      true,
	"finalized": true,
}

// Key builds the cache key for a request: the method plus a digest of its
// params, so distinct params never collide.
func Key(method string, params json.RawMessage) string {
	if len(params) == 0 {
		return method + ":"
	}
	sum := sha256.Sum256(params)
	return method + ":" + hex.EncodeToString(sum[:])
}

// Cacheable reports whether a request's response may be cached. Only methods
// named in the configured set qualify, and only when none of their params is
// a dynamic block tag (a "latest" result is stale the moment the chain
// advances).
func Cacheable(method string, params json.RawMessage, methods map[string]bool) bool {
	if !methods[method] {
		return false
	}
	return !hasDynamicBlockParam(params)
}

// hasDynamicBlockParam scans top-level params for dynamic block tags, either
// as plain strings or as blockNumber fields of filter-style objects.
func hasDynamicBlockParam(params json.RawMessage) bool {
	if len(params) == 0 {
		return false
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(params, &elems); err != nil {
		// Params that are not an array can't be inspected; be conservative.
		return true
	}

	for _, el := range elems {
		var s string
		if err := json.Unmarshal(el, &s); err == nil {
			if dynamicBlockTags[strings.ToLower(s)] {
				return true
			}
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(el, &obj); err != nil {
			continue
		}
		for _, field := range []string{"blockNumber", "fromBlock", "toBlock"} {
			raw, ok := obj[field]
			if !ok {
				continue
			}
			var tag string
			if err := json.Unmarshal(raw, &tag); err == nil && dynamicBlockTags[strings.ToLower(tag)] {
				return true
			}
		}
	}
	return false
}
