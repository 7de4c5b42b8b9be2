package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type checkedEngine struct {
	name string
	err  error
}

func (c *checkedEngine) Name() string { return c.name }
func (c *checkedEngine) Convert(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}
func (c *checkedEngine) Check(context.Context) error { return c.err }

func TestCheckAll_ReportsEachEngine(t *testing.T) {
	c := NewChain(0,
		&checkedEngine{name: "office", err: ErrSofficeNotFound},
		NewPlaceholderEngine(),
	)
	var buf bytes.Buffer

	statuses, err := CheckAll(context.Background(), c, &buf)
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
	if statuses[0].Available {
		t.Error("office reported available")
	}
	if !statuses[1].Available {
		t.Error("placeholder reported unavailable")
	}
	out := buf.String()
	if !strings.Contains(out, "engine office: unavailable") || !strings.Contains(out, "engine placeholder: ready") {
		t.Errorf("output = %q", out)
	}
}

func TestCheckAll_NothingAvailable(t *testing.T) {
	c := NewChain(0, &checkedEngine{name: "office", err: ErrSofficeNotFound})
	if _, err := CheckAll(context.Background(), c, nil); err == nil {
		t.Fatal("expected error when no engine can run")
	}
}
