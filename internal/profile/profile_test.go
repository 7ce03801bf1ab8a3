package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/roomsync/internal/config"
)

func TestDirUsesHomeOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv("ROOMSYNC_HOME", base)

	if got, want := Dir("main"), filepath.Join(base, "profiles", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got, want := LockPath("work"), filepath.Join(base, "profiles", "work", "LOCK"); got != want {
		t.Errorf("LockPath(work) = %q, want %q", got, want)
	}
	if got, want := LogPath("work", "roomd"), filepath.Join(base, "profiles", "work", "logs", "roomd.log"); got != want {
		t.Errorf("LogPath(work, roomd) = %q, want %q", got, want)
	}
}

func TestDirDefaultsToHome(t *testing.T) {
	t.Setenv("ROOMSYNC_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := Dir("main"), filepath.Join(home, ".roomsync", "profiles", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("ROOMSYNC_HOME", t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	for _, d := range []string{Dir("test"), LogDir("test"), PreviewDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("ROOMSYNC_HOME", t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}
	if err := config.Save(ConfigPath(), &config.Config{DefaultProfile: "work"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want default_profile", got)
	}
	if got := Resolve("play"); got != "play" {
		t.Errorf("Resolve(play) = %q, want the flag to win", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-room", false},
		{"valid with underscore", "my_room", false},
		{"valid max length", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.room", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"slash", "../etc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsBadName(t *testing.T) {
	if _, err := Load("Bad Name"); err == nil {
		t.Error("Load() expected error for an invalid profile name")
	}
}

func TestSetDefaultAndList(t *testing.T) {
	t.Setenv("ROOMSYNC_HOME", t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List() on a fresh home = %v, %v", names, err)
	}

	for _, n := range []string{"work", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatal(err)
		}
	}
	// Not a valid profile name; ignored.
	if err := os.MkdirAll(filepath.Join(BaseDir(), "profiles", "Bad Name"), 0700); err != nil {
		t.Fatal(err)
	}
	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "main" || names[1] != "work" {
		t.Errorf("List() = %v, want [main work]", names)
	}

	if err := SetDefault("Bad Name"); err == nil {
		t.Error("SetDefault() accepted an invalid name")
	}
	if err := SetDefault("work"); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() after SetDefault = %q, want work", got)
	}
}
