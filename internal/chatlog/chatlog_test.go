package chatlog

import (
	"fmt"
	"testing"
)

func TestAppendAndSnapshot(t *testing.T) {
	l := New(10)
	l.Append("hello", true, "")
	l.Append("hi there", false, "https://example.com/nft.png")

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if !entries[0].IsUser || entries[0].Message != "hello" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].ImageURL == "" {
		t.Error("image url dropped")
	}
	if entries[0].Timestamp == "" {
		t.Error("timestamp not set")
	}
}

func TestBoundedEviction(t *testing.T) {
	l := New(5)
	for i := 1; i <= 8; i++ {
		l.Append(fmt.Sprintf("m%d", i), false, "")
	}

	entries := l.Entries()
	if len(entries) != 5 {
		t.Fatalf("len = %d, want capped at 5", len(entries))
	}
	if entries[0].Message != "m4" || entries[4].Message != "m8" {
		t.Errorf("surviving window %s..%s, want m4..m8", entries[0].Message, entries[4].Message)
	}
}

func TestDefaultLimit(t *testing.T) {
	l := New(0)
	if l.limit != 1000 {
		t.Errorf("default limit = %d, want 1000", l.limit)
	}
}
