package diagnostics

import (
	"os"
	"os/exec"
	"runtime"
)

var (
	lookPath = exec.LookPath
	statFile = os.Stat
	goos     = runtime.GOOS
)

// Executable names tried on PATH, in order.
var browserNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
	"msedge",
}

// Install locations that are usually not on PATH.
var browserPaths = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

type BinaryStatus struct {
	Found bool   `json:"found"`
	Name  string `json:"name,omitempty"`
	Path  string `json:"path,omitempty"`
}

// DependencyReport says which page snapshot backends can run on this host.
type DependencyReport struct {
	Browser      BinaryStatus `json:"browser"`
	RemoteCDP    bool         `json:"remote_cdp"`
	CDPAvailable bool         `json:"cdp_available"`
}

// DetectDependencies looks for a local Chromium-family browser. cdpURL is the
// configured remote debugging endpoint, if any.
func DetectDependencies(cdpURL string) DependencyReport {
	browser := DetectBrowser()
	remote := cdpURL != ""
	return DependencyReport{
		Browser:      browser,
		RemoteCDP:    remote,
		CDPAvailable: remote || browser.Found,
	}
}

func DetectBrowser() BinaryStatus {
	for _, name := range browserNames {
		if status := detectBinary(name); status.Found {
			return status
		}
	}
	for _, path := range browserPaths[goos] {
		if info, err := statFile(path); err == nil && !info.IsDir() {
			return BinaryStatus{Found: true, Name: "chrome", Path: path}
		}
	}
	return BinaryStatus{}
}

func detectBinary(name string) BinaryStatus {
	path, err := lookPath(name)
	if err != nil {
		return BinaryStatus{Found: false}
	}

	return BinaryStatus{
		Found: true,
		Name:  name,
		Path:  path,
	}
}
