package discover

import (
	"os/exec"
	"runtime"

	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// brandProcessNames maps a brand to binary name substrings worth scanning for.
var brandProcessNames = map[types.Brand][]string{
	types.BrandChrome:  {"chrome", "chromium"},
	types.BrandEdge:    {"msedge", "microsoft-edge"},
	types.BrandFirefox: {"firefox"},
}

// processLikelyRunning scans the OS process list for a browser binary started
// with a remote-debugging flag. The heuristic is advisory: callers must treat
// a negative answer as a note, never as grounds to skip the network probe.
func processLikelyRunning(brand types.Brand) bool {
	if runtime.GOOS == "windows" {
		// No cheap pattern scan available; let the network probe decide.
		return true
	}
	for _, name := range brandProcessNames[brand] {
		cmd := exec.Command("pgrep", "-f", name+".*--remote-debugging-port")
		if err := cmd.Run(); err == nil {
			return true
		}
	}
	return false
}
