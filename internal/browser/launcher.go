// internal/browser/launcher.go
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/xkilldash9x/webtrail/internal/config"
)

// Function variables allow tests to intercept process creation.
var (
	execCommand = exec.Command
	fileExists  = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}
	lookPath = exec.LookPath
)

// candidatePaths lists well-known Chrome locations for the current platform.
func candidatePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome"),
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	case "windows":
		return []string{
			filepath.Join(os.Getenv("ProgramFiles"), `Google\Chrome\Application\chrome.exe`),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), `Google\Chrome\Application\chrome.exe`),
			filepath.Join(os.Getenv("LocalAppData"), `Google\Chrome\Application\chrome.exe`),
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}

// FindChrome returns the configured executable or the first Chrome found on
// this machine.
func FindChrome(customPath string) (string, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return "", fmt.Errorf("browser executable not found: %s", customPath)
		}
		return customPath, nil
	}
	for _, p := range candidatePaths() {
		if fileExists(p) {
			return p, nil
		}
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium installation found; set browser.executable_path")
}

// debugArgs builds the command line for a Chrome that accepts DevTools
// connections on the configured port.
func debugArgs(cfg config.BrowserConfig) []string {
	args := []string{
		"--remote-debugging-port=" + cfg.DebuggingPort(),
		"--user-data-dir=" + cfg.UserDataDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, cfg.Args...)
	return append(args, "about:blank")
}

// launchDebugChrome starts a detached Chrome with remote debugging enabled.
// The process is not tied to this one and keeps running after exit.
func launchDebugChrome(cfg config.BrowserConfig) (string, error) {
	path, err := FindChrome(cfg.ExecutablePath)
	if err != nil {
		return "", err
	}
	if cfg.UserDataDir != "" {
		if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create user data dir: %w", err)
		}
	}

	cmd := execCommand(path, debugArgs(cfg)...)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start Chrome: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}
	return path, nil
}

// remediation decorates a connection failure with the manual start command.
func remediation(cfg config.BrowserConfig, cause error) error {
	binary := "google-chrome"
	switch runtime.GOOS {
	case "darwin":
		binary = `"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"`
	case "windows":
		binary = "chrome.exe"
	}
	return fmt.Errorf("could not connect to Chrome at %s: %w\n\n"+
		"Start Chrome with remote debugging enabled, then retry:\n"+
		"  %s --remote-debugging-port=%s --user-data-dir=%s\n\n"+
		"Or set browser.connect_existing=false to let webtrail launch its own browser.",
		cfg.CDPURL, cause, binary, cfg.DebuggingPort(), cfg.UserDataDir)
}
