package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"mediamill/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "acquire", "fetch", "download interrupted", base)

	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped cause to survive")
	}
	if !strings.Contains(err.Error(), "acquire: fetch") {
		t.Fatalf("expected stage context in message, got %q", err.Error())
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "transcode", "", "", nil)
	if services.Classify(err) != services.KindTransient {
		t.Fatalf("expected transient default, got %s", services.Classify(err))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		marker error
		kind   services.Kind
		retry  bool
	}{
		{services.ErrTransient, services.KindTransient, true},
		{services.ErrTimeout, services.KindTimeout, true},
		{services.ErrPermanent, services.KindPermanent, false},
		{services.ErrNotFound, services.KindNotFound, false},
		{services.ErrResourceExhausted, services.KindResourceExhausted, false},
		{services.ErrBackpressure, services.KindBackpressure, false},
		{services.ErrIO, services.KindIO, true},
	}
	for _, tc := range cases {
		err := fmt.Errorf("outer: %w", services.Wrap(tc.marker, "stage", "op", "msg", nil))
		if got := services.Classify(err); got != tc.kind {
			t.Errorf("Classify(%v) = %s, want %s", tc.marker, got, tc.kind)
		}
		if got := services.Retryable(err); got != tc.retry {
			t.Errorf("Retryable(%v) = %v, want %v", tc.marker, got, tc.retry)
		}
	}
}

func TestClassifyUnmarkedErrorIsTransient(t *testing.T) {
	if services.Classify(errors.New("boom")) != services.KindTransient {
		t.Fatal("unmarked errors should classify as transient")
	}
}

func TestReasonNeverEmptyForErrors(t *testing.T) {
	markers := []error{
		services.ErrTransient, services.ErrPermanent, services.ErrTimeout,
		services.ErrNotFound, services.ErrResourceExhausted,
		services.ErrBackpressure, services.ErrIO,
	}
	for _, marker := range markers {
		reason := services.Reason(services.Wrap(marker, "s", "o", "m", nil))
		if strings.TrimSpace(reason) == "" {
			t.Errorf("Reason for %v is empty", marker)
		}
		if strings.Contains(reason, "s: o: m") {
			t.Errorf("Reason leaked raw detail: %q", reason)
		}
	}
}
