package hashtable

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func debugLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogger_ResizeAndTreeifyEvents(t *testing.T) {
	var buf bytes.Buffer
	tb := New[int, int](WithLogger(debugLogger(&buf).WithTable("users")), constHash[int](3))
	for i := range 11 {
		tb.Put(i, i)
	}
	out := buf.String()
	for _, want := range []string{
		"resize completed", "old_capacity=16", "new_capacity=32",
		"bucket treeified", "count=11", "table=users",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output lacks %q:\n%s", want, out)
		}
	}
	buf.Reset()
	for i := range 6 {
		tb.Remove(i)
	}
	if !strings.Contains(buf.String(), "bucket untreeified") {
		t.Fatalf("log output lacks untreeify:\n%s", buf.String())
	}
}

func TestLogger_RefusedIsThrottled(t *testing.T) {
	var buf bytes.Buffer
	l := debugLogger(&buf)
	err := errors.New("no room")
	for range 5 {
		l.LogResizeRefused(16, 32, err)
	}
	if n := strings.Count(buf.String(), "resize refused"); n != 1 {
		t.Fatalf("expected 1 warning, got %d:\n%s", n, buf.String())
	}
}

func TestLogger_Noop(t *testing.T) {
	l := NoopLogger()
	l.LogResize(1, 2, 3)
	l.LogTreeify(0, 9, true)
	l.LogResizeRefused(1, 2, nil)
}

func TestNewTextLogger_Level(t *testing.T) {
	l := NewTextLogger(slog.LevelWarn)
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !l.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn not enabled at warn level")
	}
}
