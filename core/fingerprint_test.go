package core

import "testing"

func TestFingerprintStableUnderWhitespace(t *testing.T) {
	a := GenerateRequest{Tenant: "t1", Model: "m", Messages: []ChatMessage{{Role: RoleUser, Content: "2+2"}}}
	b := GenerateRequest{Tenant: "t1", Model: "m", Messages: []ChatMessage{{Role: RoleUser, Content: "  2+2  "}}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected identical fingerprints for whitespace-only difference")
	}
}

func TestFingerprintDiffersOnTenant(t *testing.T) {
	a := GenerateRequest{Tenant: "t1", Model: "m", Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}}
	b := a
	b.Tenant = "t2"
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("expected different fingerprints across tenants")
	}
}

func TestFingerprintFunctionOrderIndependent(t *testing.T) {
	fns1 := []FunctionSpec{{Name: "a"}, {Name: "b"}}
	fns2 := []FunctionSpec{{Name: "b"}, {Name: "a"}}
	base := GenerateRequest{Tenant: "t1", Model: "m"}
	r1, r2 := base, base
	r1.Functions, r2.Functions = fns1, fns2
	if Fingerprint(r1) != Fingerprint(r2) {
		t.Fatalf("expected fingerprint to be independent of function declaration order")
	}
}
