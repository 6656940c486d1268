package schema

import "testing"

func schemaAB() Schema {
	return Schema{
		{Name: "car$id", Type: I64},
		{Name: "car$value", Type: F64},
		{Name: "car$ts", Type: U64},
	}
}

func TestResolveFullyQualified(t *testing.T) {
	s := schemaAB()
	i, err := s.Resolve("car$value")
	if err != nil || i != 1 {
		t.Fatalf("Resolve = %d, %v", i, err)
	}
}

func TestResolveSuffixMatch(t *testing.T) {
	s := schemaAB()
	i, err := s.Resolve("value")
	if err != nil || i != 1 {
		t.Fatalf("Resolve(suffix) = %d, %v", i, err)
	}
}

func TestResolveAmbiguousSuffixFails(t *testing.T) {
	s := Schema{
		{Name: "left$id", Type: I64},
		{Name: "right$id", Type: I64},
	}
	if _, err := s.Resolve("id"); err == nil {
		t.Fatal("expected ambiguous suffix error")
	}
}

func TestValidateDuplicateRejected(t *testing.T) {
	s := Schema{{Name: "a$x", Type: I64}, {Name: "a$x", Type: I64}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected duplicate-attribute error")
	}
}

func TestQualifyRewritesPrefix(t *testing.T) {
	s := schemaAB().Qualify("bus")
	if s[0].Name != "bus$id" {
		t.Fatalf("Qualify: got %s", s[0].Name)
	}
}

func TestCommonSuffixJoinKey(t *testing.T) {
	left := Schema{{Name: "l$userId", Type: I64}, {Name: "l$tsL", Type: U64}}
	right := Schema{{Name: "r$id", Type: I64}, {Name: "r$tsR", Type: U64}}
	// differing local names but spec example resolves "userId"="id" only
	// via an explicit join-condition mapping, not CommonSuffix (that
	// helper is for the *same* logical field renamed by a source prefix).
	same := Schema{{Name: "l$userId", Type: I64}}
	same2 := Schema{{Name: "r$userId", Type: I64}}
	li, ri, err := CommonSuffix(same, same2, "userId")
	if err != nil || li != 0 || ri != 0 {
		t.Fatalf("CommonSuffix = %d,%d,%v", li, ri, err)
	}
	if _, _, err := CommonSuffix(left, right, "userId"); err == nil {
		t.Fatal("expected no-common-suffix error for id vs userId")
	}
}

func TestConcatCompoundQualifier(t *testing.T) {
	left := Schema{{Name: "l$a", Type: I64}}
	right := Schema{{Name: "r$b", Type: I64}}
	out := Concat(left, right)
	if out[0].Name != "leftl$a" || out[1].Name != "rightr$b" {
		t.Fatalf("Concat: %v", out)
	}
}

func TestHasTimestamp(t *testing.T) {
	if !schemaAB().HasTimestamp() {
		t.Fatal("expected ts attribute to be found")
	}
	noTS := Schema{{Name: "a$x", Type: I64}}
	if noTS.HasTimestamp() {
		t.Fatal("did not expect a timestamp attribute")
	}
}
