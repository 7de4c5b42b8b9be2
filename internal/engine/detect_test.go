package engine

import (
	"reflect"
	"testing"
	"time"
)

func TestBuild_DefaultOrder(t *testing.T) {
	c, err := Build(ChainConfig{Renderer: &fakeRenderer{}, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{Office, Raster, Synth, Placeholder}
	if got := c.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestBuild_PlaceholderAlwaysLast(t *testing.T) {
	tests := []struct {
		order []string
		want  []string
	}{
		{[]string{"synth"}, []string{Synth, Placeholder}},
		{[]string{"placeholder", "raster"}, []string{Raster, Placeholder}},
		{[]string{" Raster ", "synth", "placeholder"}, []string{Raster, Synth, Placeholder}},
	}
	for _, tt := range tests {
		c, err := Build(ChainConfig{Order: tt.order, Renderer: &fakeRenderer{}})
		if err != nil {
			t.Fatalf("Build(%v): %v", tt.order, err)
		}
		if got := c.Names(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Build(%v) = %v, want %v", tt.order, got, tt.want)
		}
	}
}

func TestBuild_UnknownEngine(t *testing.T) {
	if _, err := Build(ChainConfig{Order: []string{"office", "ghostscript"}}); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestBuild_Duplicate(t *testing.T) {
	if _, err := Build(ChainConfig{Order: []string{"synth", "synth"}}); err == nil {
		t.Fatal("expected error for duplicate engine")
	}
}

func TestBuild_Timeouts(t *testing.T) {
	c, err := Build(ChainConfig{
		Order:          []string{"office", "synth"},
		DefaultTimeout: 10 * time.Second,
		Timeouts:       map[string]time.Duration{Office: time.Minute},
		Runner:         &fakeRunner{},
		Renderer:       &fakeRenderer{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Timeout(Office); got != time.Minute {
		t.Errorf("office timeout = %v, want 1m", got)
	}
	if got := c.Timeout(Synth); got != 10*time.Second {
		t.Errorf("synth timeout = %v, want 10s", got)
	}
}

func TestNewChain_DefaultTimeout(t *testing.T) {
	c := NewChain(0, NewPlaceholderEngine())
	if got := c.Timeout(Placeholder); got != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", got, DefaultTimeout)
	}
}

func TestValidName(t *testing.T) {
	for _, n := range DefaultOrder {
		if !ValidName(n) {
			t.Errorf("ValidName(%q) = false", n)
		}
	}
	if ValidName("pandoc") {
		t.Error("ValidName(pandoc) = true")
	}
}
