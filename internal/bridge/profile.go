package bridge

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var crashedPrefsReplacer = strings.NewReplacer(
	`"exit_type":"Crashed"`, `"exit_type":"Normal"`,
	`"exit_type": "Crashed"`, `"exit_type": "Normal"`,
	`"exited_cleanly":false`, `"exited_cleanly":true`,
	`"exited_cleanly": false`, `"exited_cleanly": true`,
)

var singletonFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

// PrepareProfile makes a profile left behind by a killed Chrome usable
// again: stale singleton locks are removed and, after a crash, the session
// restore data is cleared so the browser does not hang reopening tabs.
func PrepareProfile(profileDir string) error {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return err
	}
	for _, name := range singletonFiles {
		if err := os.Remove(filepath.Join(profileDir, name)); err == nil {
			slog.Warn("removed stale lock", "file", name)
		}
	}
	if WasUncleanExit(profileDir) {
		slog.Warn("previous session exited uncleanly, clearing session restore data")
		ClearChromeSessions(profileDir)
	}
	MarkCleanExit(profileDir)
	return nil
}

func MarkCleanExit(profileDir string) {
	prefsPath := filepath.Join(profileDir, "Default", "Preferences")
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		return
	}
	patched := crashedPrefsReplacer.Replace(string(data))
	if patched != string(data) {
		if err := os.WriteFile(prefsPath, []byte(patched), 0600); err != nil {
			slog.Error("patch prefs", "err", err)
		}
	}
}

func WasUncleanExit(profileDir string) bool {
	data, err := os.ReadFile(filepath.Join(profileDir, "Default", "Preferences"))
	if err != nil {
		return false
	}
	prefs := string(data)
	return strings.Contains(prefs, `"exit_type":"Crashed"`) || strings.Contains(prefs, `"exit_type": "Crashed"`)
}

func ClearChromeSessions(profileDir string) {
	sessionsDir := filepath.Join(profileDir, "Default", "Sessions")

	// File locks may outlive the Chrome process on Windows.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		if err = os.RemoveAll(sessionsDir); err == nil {
			slog.Info("cleared chrome sessions dir")
			return
		}
	}
	slog.Warn("failed to clear chrome sessions dir", "err", err)
}
