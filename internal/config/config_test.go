package config

import "testing"

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(`windowingStrategy: LEGACY`))
	if err != nil {
		t.Fatal(err)
	}
	if c.WindowingStrategy != Legacy {
		t.Fatalf("windowingStrategy = %s, want LEGACY", c.WindowingStrategy)
	}
	if c.BufferManager.BufferSize != 4096 {
		t.Fatalf("default bufferSize not applied: %+v", c.BufferManager)
	}
}

func TestParseRejectsUnknownEnum(t *testing.T) {
	_, err := Parse([]byte(`streamJoinStrategy: BOGUS`))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestParseOverridesNested(t *testing.T) {
	c, err := Parse([]byte(`
hashJoin:
  numPartitions: 16
bufferManager:
  numBuffers: 64
`))
	if err != nil {
		t.Fatal(err)
	}
	if c.HashJoin.NumPartitions != 16 {
		t.Fatalf("numPartitions = %d, want 16", c.HashJoin.NumPartitions)
	}
	if c.BufferManager.NumBuffers != 64 {
		t.Fatalf("numBuffers = %d, want 64", c.BufferManager.NumBuffers)
	}
	// untouched default fields survive
	if c.BufferManager.BufferSize != 4096 {
		t.Fatalf("bufferSize default clobbered: %d", c.BufferManager.BufferSize)
	}
}
