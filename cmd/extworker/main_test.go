package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIgnoreCancel(t *testing.T) {
	if err := ignoreCancel(fmt.Errorf("serve: %w", context.Canceled)); err != nil {
		t.Fatalf("cancellation should be a clean stop, got %v", err)
	}
	if err := ignoreCancel(io.ErrUnexpectedEOF); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected other errors to pass through, got %v", err)
	}
	if err := ignoreCancel(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
