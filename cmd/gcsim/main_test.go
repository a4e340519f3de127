package main

import "testing"

func TestNumberedPath(t *testing.T) {
	tests := []struct {
		path, scenario, want string
	}{
		{"heap.cbor", "testdata/weak_edge.toml", "heap-weak_edge.cbor"},
		{"out/snap", "a.toml", "out/snap-a"},
		{"/tmp/x.bin", "/abs/gen.toml", "/tmp/x-gen.bin"},
	}
	for _, tt := range tests {
		if got := numberedPath(tt.path, tt.scenario); got != tt.want {
			t.Errorf("numberedPath(%q, %q) = %q, want %q", tt.path, tt.scenario, got, tt.want)
		}
	}
}
