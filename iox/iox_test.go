package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

type spyBody struct {
	io.Reader
	closed bool
}

func (b *spyBody) Close() error { b.closed = true; return nil }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	r := strings.NewReader("response body")
	b := &spyBody{Reader: r}
	DrainClose(b, 1024)
	if !b.closed {
		t.Fatal("body not closed")
	}
	if r.Len() != 0 {
		t.Errorf("body not drained, %d bytes left", r.Len())
	}
}

func TestReadLimited(t *testing.T) {
	got, err := ReadLimited(strings.NewReader("0123456789"), 4)
	if err != nil {
		t.Fatalf("ReadLimited: %v", err)
	}
	if string(got) != "0123" {
		t.Errorf("got %q, want 0123", got)
	}
}
