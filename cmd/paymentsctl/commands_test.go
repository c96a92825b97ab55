package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func withRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("LEDGER_BACKEND", "redis")
	return mr
}

func TestEnqueueCommand(t *testing.T) {
	mr := withRedis(t)

	out, err := run(t, "enqueue", "a1", "100")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "accepted a1") {
		t.Fatalf("unexpected output %q", out)
	}
	items, err := mr.List("payments:queue:primary")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one queued item, got %v (%v)", items, err)
	}

	if _, err := run(t, "enqueue", "a1", "abc"); err == nil {
		t.Fatalf("expected invalid amount error")
	}
}

func TestSummaryCommandOnEmptyLedger(t *testing.T) {
	withRedis(t)

	out, err := run(t, "summary", "--from", time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	var got map[string]map[string]json.Number
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got["default"]["totalRequests"] != "0" || got["fallback"]["totalAmount"] != "0.00" {
		t.Fatalf("unexpected summary %v", got)
	}

	if _, err := run(t, "summary", "--to", "tomorrow"); err == nil {
		t.Fatalf("expected bad timestamp error")
	}
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	withRedis(t)
	if _, err := run(t, "purge"); err == nil {
		t.Fatalf("expected purge without --yes to fail")
	}
	out, err := run(t, "purge", "--yes")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !strings.Contains(out, "All payments purged.") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStatusCommand(t *testing.T) {
	mr := withRedis(t)
	if err := mr.Set("payments:processed:a1", "fallback"); err != nil {
		t.Fatalf("set: %v", err)
	}

	out, err := run(t, "status", "a1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "settled by fallback") {
		t.Fatalf("unexpected output %q", out)
	}
	out, err = run(t, "status", "a9")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "not settled") {
		t.Fatalf("unexpected output %q", out)
	}
}
