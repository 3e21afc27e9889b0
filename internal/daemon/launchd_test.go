package daemon

import (
	"strings"
	"testing"
)

func TestGeneratePlist(t *testing.T) {
	plist, err := GeneratePlist(PlistConfig{
		BinaryPath:       "/usr/local/bin/scrollback",
		LogPath:          "/Users/test/.local/share/scrollback/logs",
		WorkingDirectory: "/Users/test",
	})
	if err != nil {
		t.Fatalf("GeneratePlist: %v", err)
	}

	for _, want := range []string{
		"<string>com.scrollback.daemon</string>",
		"<string>/usr/local/bin/scrollback</string>",
		"<string>daemon</string>",
		"<string>/Users/test/.local/share/scrollback/logs/scrollback.log</string>",
		"<string>/Users/test/.local/share/scrollback/logs/scrollback.err</string>",
		"<string>/Users/test</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
}

func TestGeneratePlist_CustomLabel(t *testing.T) {
	plist, err := GeneratePlist(PlistConfig{
		Label:      "com.example.sync",
		BinaryPath: "/opt/scrollback",
	})
	if err != nil {
		t.Fatalf("GeneratePlist: %v", err)
	}
	if !strings.Contains(plist, "<string>com.example.sync</string>") {
		t.Error("custom label not used")
	}
}

func TestGeneratePlist_RequiresBinary(t *testing.T) {
	if _, err := GeneratePlist(PlistConfig{}); err == nil {
		t.Error("expected error without binary path")
	}
}

func TestGetPlistPath(t *testing.T) {
	t.Setenv("HOME", "/Users/test")

	path, err := GetPlistPath()
	if err != nil {
		t.Fatalf("GetPlistPath: %v", err)
	}
	if want := "/Users/test/Library/LaunchAgents/com.scrollback.daemon.plist"; path != want {
		t.Errorf("GetPlistPath = %q, want %q", path, want)
	}
}
