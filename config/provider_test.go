package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ratefence/ratefence/core"
)

func testEntries() []Entry {
	return []Entry{
		{Name: "login-per-user", Scope: "user", Resource: "/api/login", Capacity: 5, RefillRate: 0.1},
		{Name: "user-default", Scope: "user", Capacity: 50, RefillRate: 5},
		{Name: "global", Scope: "global", Resource: "all", Capacity: 1000, RefillRate: 100},
	}
}

func TestProviderThreeTierResolution(t *testing.T) {
	p, err := NewStaticProvider(testEntries())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		scope    string
		resource string
		want     core.BucketConfig
	}{
		{
			name:     "exact match",
			scope:    "user",
			resource: "/api/login",
			want:     core.BucketConfig{Capacity: 5, RefillRate: 0.1}.WithDefaults(),
		},
		{
			name:     "scope default",
			scope:    "user",
			resource: "/api/search",
			want:     core.BucketConfig{Capacity: 50, RefillRate: 5}.WithDefaults(),
		},
		{
			name:     "global fallback",
			scope:    "ip",
			resource: "/api/search",
			want:     GlobalDefault.WithDefaults(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetConfig(tt.scope, tt.resource)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("GetConfig(%q, %q) = %+v, want %+v", tt.scope, tt.resource, got, tt.want)
			}
		})
	}
}

func TestProviderRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr error
	}{
		{
			name:    "zero capacity",
			entry:   Entry{Name: "bad", Scope: "user", Capacity: 0, RefillRate: 1},
			wantErr: core.ErrInvalidCapacity,
		},
		{
			name:    "rate beyond safety ratio",
			entry:   Entry{Name: "bad", Scope: "user", Capacity: 1, RefillRate: core.SafetyMultiplier + 1},
			wantErr: core.ErrRefillRateTooHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticProvider([]Entry{tt.entry})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	_, err := NewStaticProvider([]Entry{{Name: "no-scope", Capacity: 1, RefillRate: 1}})
	if err == nil {
		t.Fatal("entry without scope must be rejected")
	}
}

func TestDynamicProviderReloadSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	source := &StaticSource{Entries: testEntries()}

	p, err := NewDynamicProvider(ctx, source)
	if err != nil {
		t.Fatal(err)
	}

	got, _ := p.GetConfig("user", "/api/login")
	if got.Capacity != 5 {
		t.Fatalf("capacity = %d, want 5", got.Capacity)
	}

	source.Entries = []Entry{
		{Name: "login-per-user", Scope: "user", Resource: "/api/login", Capacity: 9, RefillRate: 1},
	}
	if err := p.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = p.GetConfig("user", "/api/login")
	if got.Capacity != 9 {
		t.Fatalf("capacity after reload = %d, want 9", got.Capacity)
	}
}

func TestDynamicProviderKeepsSnapshotOnFailedReload(t *testing.T) {
	ctx := context.Background()
	source := &StaticSource{Entries: testEntries()}

	p, err := NewDynamicProvider(ctx, source)
	if err != nil {
		t.Fatal(err)
	}

	source.Err = errors.New("source down")
	if err := p.Reload(ctx); err == nil {
		t.Fatal("reload must report the source failure")
	}
	got, _ := p.GetConfig("user", "/api/login")
	if got.Capacity != 5 {
		t.Fatalf("capacity = %d, want previous snapshot's 5", got.Capacity)
	}

	// Same for a load that parses but fails validation.
	source.Err = nil
	source.Entries = []Entry{{Name: "bad", Scope: "user", Capacity: -1, RefillRate: 1}}
	if err := p.Reload(ctx); err == nil {
		t.Fatal("invalid entries must fail the reload")
	}
	got, _ = p.GetConfig("user", "/api/login")
	if got.Capacity != 5 {
		t.Fatalf("capacity = %d, want previous snapshot's 5", got.Capacity)
	}
}

func TestDynamicProviderInitialLoadFailure(t *testing.T) {
	ctx := context.Background()
	_, err := NewDynamicProvider(ctx, &StaticSource{Err: errors.New("nope")})
	if err == nil {
		t.Fatal("constructor must surface a failed initial load")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	content := `limits:
  - name: login-per-user
    scope: user
    resource: /api/login
    capacity: 5
    refill_rate: 0.1
    min_refill_interval_ms: 20
  - name: ip-default
    scope: ip
    capacity: 200
    refill_rate: 20
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := NewFileSource(path).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].MinRefillIntervalMs != 20 {
		t.Errorf("min interval = %d, want 20", entries[0].MinRefillIntervalMs)
	}

	p, err := NewStaticProvider(entries)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _ := p.GetConfig("user", "/api/login")
	want := core.BucketConfig{Capacity: 5, RefillRate: 0.1, MinRefillInterval: 20 * time.Millisecond}
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}

	if _, err := NewFileSource(filepath.Join(dir, "missing.yaml")).Load(context.Background()); err == nil {
		t.Error("missing file must error")
	}
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("limits: [not a mapping"), 0o600)
	if _, err := NewFileSource(bad).Load(context.Background()); err == nil {
		t.Error("malformed yaml must error")
	}
}
