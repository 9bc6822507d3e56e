package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTransition(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		prev Status
		err  error
		want Status
	}{
		{StatusUnknown, nil, StatusActive},
		{StatusUnknown, boom, StatusError},
		{StatusActive, boom, StatusError},
		{StatusActive, nil, StatusActive},
		{StatusError, nil, StatusActive},
		{StatusError, boom, StatusError},
	}
	for _, tt := range tests {
		if got := Transition(tt.prev, tt.err); got != tt.want {
			t.Fatalf("Transition(%s, %v) = %s, want %s", tt.prev, tt.err, got, tt.want)
		}
	}
}

func TestChanged(t *testing.T) {
	if Changed(StatusUnknown, StatusActive) {
		t.Fatalf("first success should not be announced")
	}
	if !Changed(StatusActive, StatusError) || !Changed(StatusError, StatusActive) {
		t.Fatalf("expected active<->error to be announced")
	}
	if Changed(StatusError, StatusError) {
		t.Fatalf("expected no change")
	}
}

func TestConnectivityWrapsOnce(t *testing.T) {
	err := Connectivity(Jira, "search", context.DeadlineExceeded)
	again := Connectivity(Jira, "sync", fmt.Errorf("outer: %w", err))
	var ce *ConnectivityError
	if !errors.As(again, &ce) {
		t.Fatalf("expected ConnectivityError")
	}
	if ce.Op != "search" || !ce.Timeout() {
		t.Fatalf("unexpected error %#v", ce)
	}
	if Kind(again) != "connectivity" {
		t.Fatalf("unexpected kind %s", Kind(again))
	}
}

func TestStoreKeepsSentinel(t *testing.T) {
	notFound := errors.New("not found")
	if err := Store("get", notFound, notFound); err != notFound {
		t.Fatalf("expected sentinel to pass through, got %v", err)
	}
	err := Store("upsert", errors.New("unique violation"))
	if Kind(err) != "store" {
		t.Fatalf("unexpected kind %s", Kind(err))
	}
}
