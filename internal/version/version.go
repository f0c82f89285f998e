package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/synebula/cc-switch/theme"
)

var (
	Name        = "cc-switch"
	Authors     = "cc-switch contributors"
	Description = "Multi-tenant LLM API reverse proxy with automatic provider failover"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/synebula/cc-switch"
	GithubHomeUri   = "https://github.com/synebula/cc-switch"
	GithubLatestUri = "https://github.com/synebula/cc-switch/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)
	padLatest := fmt.Sprintf("%*s", 1-len(Version), "")
	padBuffer := fmt.Sprintf("%*s", 2, "")

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔────────────────────────────────────────────────────────╗
│     ____ ____     ______        _ _       _             │
│    / ___/ ___|   / ___\ \      / (_) ___ | |__           │
│   | |  | |      _\___ \\ \ /\ / /| |/ _ \| '_ \          │
│   | |__| |___  |_ ___) |\ V  V / | | (_) | | | |         │
│    \____\____|   |____/  \_/\_/  |_|\___/|_| |_|         │` + "\n"))

	b.WriteString(theme.ColourSplash("│ "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(padLatest)
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(padBuffer)
	b.WriteString(theme.ColourSplash(" │\n"))
	b.WriteString(theme.ColourSplash("╚────────────────────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
