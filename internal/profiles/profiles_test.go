package profiles

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/screenscribe/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sample = `
[profiles.terminal]
description = "Shell sessions"
mode = "snapshot"
prompt = "Summarize the commands being run"
window = "3s"

[profiles.video]
mode = "clip"
recording = true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	writeFile(t, path, sample)

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	term := got["terminal"]
	if term.Name != "terminal" || term.Mode != "snapshot" || term.WindowDuration() != 3*time.Second {
		t.Errorf("terminal = %+v", term)
	}
	if v := got["video"]; !v.Recording || v.WindowDuration() != 0 {
		t.Errorf("video = %+v", v)
	}
}

func TestLoadMissingFile(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad mode":     "[profiles.x]\nmode = \"gif\"\n",
		"bad window":   "[profiles.x]\nwindow = \"soon\"\n",
		"bad name":     "[profiles.\"has space\"]\nmode = \"clip\"\n",
		"invalid toml": "[profiles.x\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.toml")
			writeFile(t, path, content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStorePutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.toml")
	s, err := NewStore(path, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	p := Profile{Name: "docs", Mode: "clip", Prompt: "What is being read?", Window: Duration(5 * time.Second)}
	if err := s.Put(p); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("docs")
	if err != nil || got.Prompt != p.Prompt {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	// Round trips through the file.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded["docs"].WindowDuration() != 5*time.Second {
		t.Errorf("reloaded window = %v", reloaded["docs"].WindowDuration())
	}

	if err := s.Put(Profile{Name: "bad", Mode: "gif"}); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("Put invalid err = %v", err)
	}

	if err := s.Delete("docs"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("docs"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if err := s.Delete("docs"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Delete missing err = %v", err)
	}
}

func TestStoreListSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	writeFile(t, path, sample)
	s, err := NewStore(path, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	list := s.List()
	if len(list) != 2 || list[0].Name != "terminal" || list[1].Name != "video" {
		t.Errorf("List = %+v", list)
	}
}

func TestStoreWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	writeFile(t, path, sample)

	bus := events.New()
	reloaded := make(chan events.ProfilesReloadedEvent, 4)
	defer bus.Subscribe(func(e events.ProfilesReloadedEvent) { reloaded <- e })()

	s, err := NewStore(path, bus, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	writeFile(t, path, "[profiles.only]\nmode = \"clip\"\n")

	select {
	case ev := <-reloaded:
		if len(ev.Names) != 1 || ev.Names[0] != "only" {
			t.Errorf("reloaded names = %v", ev.Names)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload event")
	}

	if _, err := s.Get("only"); err != nil {
		t.Errorf("Get after reload: %v", err)
	}
	if _, err := s.Get("terminal"); !errors.Is(err, ErrProfileNotFound) {
		t.Error("old profile should be gone")
	}
}

func TestStoreKeepsProfilesOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	writeFile(t, path, sample)
	s, err := NewStore(path, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "[profiles.x\n")
	if err := s.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	if len(s.List()) != 2 {
		t.Error("invalid file should not replace profiles")
	}
}
