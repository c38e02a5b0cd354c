package config

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var (
	windowsPathPattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	envVarPattern      = regexp.MustCompile(`%([^%]+)%`)
)

// procVersionPath is read to detect WSL
var procVersionPath = "/proc/version"

// ResolvePath normalises a user supplied path. Surrounding quotes are
// removed, %VAR% and a leading ~ are expanded, and under WSL a Windows
// drive path is mapped below /mnt.
func ResolvePath(p string) string {
	return resolvePath(p, IsWSL())
}

func resolvePath(p string, wsl bool) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}

	p = strings.Trim(p, `"'`)
	p = envVarPattern.ReplaceAllStringFunc(p, func(m string) string {
		return os.Getenv(strings.Trim(m, "%"))
	})

	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = home + p[1:]
		}
	}

	if windowsPathPattern.MatchString(p) {
		if wsl {
			return windowsToWSL(p)
		}
		if runtime.GOOS == "windows" {
			return filepath.Clean(p)
		}
		return p
	}

	return filepath.Clean(p)
}

// windowsToWSL maps C:\dir\file to /mnt/c/dir/file
func windowsToWSL(p string) string {
	drive := strings.ToLower(p[:1])
	rest := strings.ReplaceAll(p[2:], `\`, "/")
	return filepath.Clean("/mnt/" + drive + "/" + strings.TrimLeft(rest, "/"))
}

// IsWSL reports whether the process runs under the Windows Subsystem for Linux
func IsWSL() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	data, err := os.ReadFile(procVersionPath)
	if err != nil {
		return false
	}
	release := strings.ToLower(string(data))
	return strings.Contains(release, "microsoft") || strings.Contains(release, "wsl")
}

// DefaultLogPaths lists the usual Client.txt locations for this platform
func DefaultLogPaths() []string {
	home, _ := os.UserHomeDir()

	switch {
	case runtime.GOOS == "windows":
		return []string{
			`C:\Program Files (x86)\Grinding Gear Games\Path of Exile 2\logs\Client.txt`,
			`C:\Program Files (x86)\Steam\steamapps\common\Path of Exile 2\logs\Client.txt`,
		}
	case runtime.GOOS == "darwin":
		return []string{
			"/Applications/Path of Exile 2/Contents/Resources/logs/Client.txt",
		}
	case IsWSL():
		return []string{
			"/mnt/c/Program Files (x86)/Grinding Gear Games/Path of Exile 2/logs/Client.txt",
			"/mnt/c/Program Files (x86)/Steam/steamapps/common/Path of Exile 2/logs/Client.txt",
		}
	default:
		return []string{
			filepath.Join(home, ".local/share/Steam/steamapps/common/Path of Exile 2/logs/Client.txt"),
			filepath.Join(home, ".local/share/Path of Exile 2/logs/Client.txt"),
		}
	}
}

// DefaultLogPath returns the first default location that exists, or the
// first candidate when none does
func DefaultLogPath() string {
	candidates := DefaultLogPaths()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}

// DefaultDir is the directory holding the config file, tokens and key
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "tradealert")
}

// DefaultConfigPath is where the config file is looked up and created
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}
