package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint returns a deterministic hash of the parts of a GenerateRequest
// that determine whether two requests are "the same" for deduplication:
// (tenant, model, canonicalized messages, functions schema, temperature,
// max_tokens). Function specs and their schema fields are sorted by name
// before hashing so declaration order never perturbs the fingerprint.
func Fingerprint(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tenant=%s\nmodel=%s\n", req.Tenant, req.Model)
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "msg:%s:%s:%s:%s\n", m.Role, canonicalize(m.Content), m.Name, m.ToolCallID)
	}
	names := make([]string, 0, len(req.Functions))
	byName := make(map[string]FunctionSpec, len(req.Functions))
	for _, fn := range req.Functions {
		names = append(names, fn.Name)
		byName[fn.Name] = fn
	}
	sort.Strings(names)
	for _, n := range names {
		fn := byName[n]
		fmt.Fprintf(&b, "fn:%s:%s:%s\n", fn.Name, fn.Description, schemaKey(fn.Params))
	}
	fmt.Fprintf(&b, "temp=%g\nmax=%d\n", req.Temperature, req.MaxTokens)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalize normalizes whitespace so semantically identical prompts that
// differ only in incidental formatting still fingerprint identically.
func canonicalize(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func schemaKey(s ParamsSchema) string {
	fields := append([]ParamField(nil), s.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s:%s:%v;", f.Name, f.Type, f.Required)
	}
	return b.String()
}
