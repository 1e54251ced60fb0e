package main

import (
	"testing"
	"time"
)

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.Flags().Parse([]string{"--addr", "127.0.0.1:9000", "--access-key-id", "ak", "--latency", "50ms"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", addr)
	}
	latency, _ := cmd.Flags().GetDuration("latency")
	if latency != 50*time.Millisecond {
		t.Errorf("latency = %s", latency)
	}
}
