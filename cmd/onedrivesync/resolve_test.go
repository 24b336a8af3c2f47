package main

import (
	"strings"
	"testing"

	"github.com/onedrivesync/core/internal/store"
)

func TestResolveStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		flag        string
		want        store.ResolutionStrategy
		wantErr     bool
		errContains string
	}{
		{name: "keep local", flag: "keep-local", want: store.ResolutionKeepLocal},
		{name: "keep remote", flag: "keep-remote", want: store.ResolutionKeepRemote},
		{name: "keep both", flag: "keep-both", want: store.ResolutionKeepBoth},
		{name: "no flag set", flag: "", wantErr: true, errContains: "specify a resolution strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := newResolveCmd()
			if tt.flag != "" {
				if err := cmd.Flags().Set(tt.flag, "true"); err != nil {
					t.Fatalf("setting flag %q: %v", tt.flag, err)
				}
			}

			got, err := resolveStrategy(cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}

				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %q, want to contain %q", err.Error(), tt.errContains)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != tt.want {
				t.Errorf("strategy = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectConflicts(t *testing.T) {
	t.Parallel()

	conflicts := []store.Conflict{
		{ID: "conflict-1", RelativePath: "foo/bar.txt"},
		{ID: "conflict-2", RelativePath: "baz/qux.txt"},
	}

	tests := []struct {
		name    string
		args    []string
		all     bool
		wantLen int
		wantErr bool
	}{
		{name: "all resolves every conflict", all: true, wantLen: 2},
		{name: "match by id", args: []string{"conflict-2"}, wantLen: 1},
		{name: "match by path", args: []string{"foo/bar.txt"}, wantLen: 1},
		{name: "no match", args: []string{"missing.txt"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := selectConflicts(conflicts, tt.args, tt.all)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(got) != tt.wantLen {
				t.Errorf("len(got) = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}
