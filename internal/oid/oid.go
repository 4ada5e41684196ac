// Package oid computes the content-addressable object identifiers used
// throughout the store: a hex sha256 over the canonical byte encoding of a
// typed object.
package oid

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind enumerates the CAS object kinds.
type Kind string

const (
	KindSource       Kind = "source"
	KindPkgBuild     Kind = "pkg-build"
	KindRuntime      Kind = "runtime"
	KindRepoSnapshot Kind = "repo-snapshot"
	KindProfile      Kind = "profile"
	KindMeta         Kind = "meta"
)

// envelope is the canonical on-disk encoding: header keys are sorted
// lexicographically so two producers of identical logical content always
// serialize to identical bytes.
type envelope struct {
	Header  json.RawMessage `json:"header"`
	Kind    Kind            `json:"kind"`
	Payload string          `json:"payload"`
}

// Object is an in-memory typed object awaiting a digest.
type Object struct {
	Kind    Kind
	Header  map[string]any
	Payload []byte
}

// canonicalHeader re-marshals header with sorted keys at every nesting level.
func canonicalHeader(header map[string]any) (json.RawMessage, error) {
	sorted := sortKeys(header)
	b, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("oid: encode header: %w", err)
	}
	return b, nil
}

// sortKeys recursively rewrites maps into ordered key/value pairs that
// Go's json.Marshal already emits in sorted order for map[string]any, but we
// normalize nested maps explicitly so the rule is obvious and doesn't depend
// on that implementation detail for non-string-keyed maps produced by
// callers.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortKeys(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return v
	}
}

// Digest computes the canonical envelope bytes for obj and returns the
// hex sha256 over them: the object's OID.
func Digest(obj Object) (string, error) {
	header, err := canonicalHeader(obj.Header)
	if err != nil {
		return "", err
	}
	env := envelope{
		Header:  header,
		Kind:    obj.Kind,
		Payload: base64.RawStdEncoding.EncodeToString(obj.Payload),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("oid: encode envelope: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Shard returns the two-character shard prefix used for the objects/<aa>/
// directory layout.
func Shard(digest string) string {
	if len(digest) < 2 {
		return "00"
	}
	return digest[:2]
}

// DigestBytes is a convenience for content that has no interesting header,
// e.g. verifying a blob already on disk against its filename.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
