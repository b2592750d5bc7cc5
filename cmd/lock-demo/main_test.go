package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunKeepsCountExact(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"-embedded", "-workers", "4", "-work", "100", "-lease", "200ms", "-delay", "5ms"}, &out)
	if code != 0 {
		t.Fatalf("exit code %d, output:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "count=400 expected=400 workers=4") {
		t.Fatalf("unexpected summary:\n%s", out.String())
	}
	if n := strings.Count(out.String(), "retries="); n != 4 {
		t.Fatalf("expected 4 worker lines, got %d", n)
	}
}

func TestRunUnreachableRedis(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{"-redis", "127.0.0.1:1"}, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
