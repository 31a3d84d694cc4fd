// Package devicefp generates a stable fingerprint for the current device.
//
// Session keys are encrypted with a key derived from the holder's PIN and
// this fingerprint, so the fingerprint must be identical every time it is
// computed on the same machine. Stability comes from a ranked list of
// machine-identifier probes plus a random entropy value that is persisted
// locally on first use and reused forever after.
//
// Generation never fails: a wrong fingerprint merely makes a later decrypt
// fail, which is the safe outcome, so every probe falls through to the
// next on error.
package devicefp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fingerprint is a stable identifier binding a session key to one device.
type Fingerprint struct {
	Fingerprint string            `json:"fingerprint"`  // 64 hex chars (SHA-256)
	GeneratedAt int64             `json:"generated_at"` // epoch millis
	Components  map[string]string `json:"components"`
}

// Generator computes fingerprints and caches the first result.
// The zero value is ready to use; most callers share the package-level
// default via Generate / ClearCache.
type Generator struct {
	mu     sync.Mutex
	cached *Fingerprint

	// stateDir overrides where the entropy and machine-id fallback files
	// live. Empty means the user cache dir (or os.TempDir as last resort).
	stateDir string
}

// NewGenerator returns a Generator that persists its local state under dir.
// Tests use this for isolation; production code uses the package default.
func NewGenerator(dir string) *Generator {
	return &Generator{stateDir: dir}
}

var defaultGenerator Generator

// Generate returns the device fingerprint using the package-level generator.
// With useCache true the first computed fingerprint is returned unchanged
// for the life of the process.
func Generate(useCache bool) *Fingerprint {
	return defaultGenerator.Generate(useCache)
}

// ClearCache drops the package-level cached fingerprint, forcing the next
// Generate call to recompute from live probes.
func ClearCache() {
	defaultGenerator.ClearCache()
}

// Generate computes the fingerprint, or returns the cached copy when
// useCache is set and one exists.
func (g *Generator) Generate(useCache bool) *Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	if useCache && g.cached != nil {
		return g.cached
	}

	components := map[string]string{
		"platform":   runtime.GOOS,
		"machine":    runtime.GOARCH,
		"go_version": runtime.Version(),
	}
	if v := osVersion(); v != "" {
		components["platform_version"] = v
	}
	if host, err := os.Hostname(); err == nil {
		components["node"] = host
	}
	if id := g.machineID(); id != "" {
		components["machine_id"] = id
	}
	components["entropy"] = g.stableEntropy(components)

	result := &Fingerprint{
		Fingerprint: hashComponents(components),
		GeneratedAt: time.Now().UnixMilli(),
		Components:  components,
	}
	if useCache {
		g.cached = result
	}
	return result
}

// ClearCache drops the cached fingerprint.
func (g *Generator) ClearCache() {
	g.mu.Lock()
	g.cached = nil
	g.mu.Unlock()
}

// hashComponents joins sorted "key:value" pairs with "|" and hashes them.
// The sort makes the fingerprint independent of map iteration order.
func hashComponents(components map[string]string) string {
	keys := make([]string, 0, len(components))
	for k := range components {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+components[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// machineID tries a ranked list of stable machine identifiers. The first
// probe that yields a non-empty value wins. Returns "" only when every
// probe, including the persisted random fallback, fails.
func (g *Generator) machineID() string {
	probes := []func() string{
		func() string { return readTrimmed("/etc/machine-id") },
		func() string { return readTrimmed("/var/lib/dbus/machine-id") },
		func() string { return readTrimmed("/sys/class/dmi/id/product_uuid") },
		probePlatformUUID,
		g.persistedMachineID,
	}
	for _, probe := range probes {
		if id := probe(); id != "" {
			return id
		}
	}
	return ""
}

// probePlatformUUID shells out to the platform tool that reports a
// hardware UUID, where one exists.
func probePlatformUUID() string {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(out), "\n") {
			if !strings.Contains(line, "IOPlatformUUID") {
				continue
			}
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				return parts[3]
			}
		}
	case "windows":
		out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
		if err != nil {
			return ""
		}
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		if len(lines) >= 2 {
			return strings.TrimSpace(lines[len(lines)-1])
		}
	}
	return ""
}

// persistedMachineID generates a random identifier once and reuses it
// from local storage thereafter.
func (g *Generator) persistedMachineID() string {
	return g.persisted("machine_id", func() string { return uuid.NewString() })
}

// stableEntropy returns the locally persisted random entropy value,
// creating it on first use. If persistence is impossible it degrades to a
// hash of the collected components, which is still stable per machine.
func (g *Generator) stableEntropy(components map[string]string) string {
	if v := g.persisted("entropy", func() string { return uuid.NewString() }); v != "" {
		return v
	}
	sum := sha256.Sum256([]byte(components["node"] + components["platform"]))
	return hex.EncodeToString(sum[:16])
}

// persisted reads the named state file, or creates it with the value from
// generate and returns that. Returns "" if the state dir is unusable.
func (g *Generator) persisted(name string, generate func() string) string {
	dir := g.stateDir
	if dir == "" {
		if cache, err := os.UserCacheDir(); err == nil {
			dir = filepath.Join(cache, "zendfi")
		} else {
			dir = filepath.Join(os.TempDir(), ".zendfi")
		}
	}
	path := filepath.Join(dir, name)

	if v := readTrimmed(path); v != "" {
		return v
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	value := generate()
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return ""
	}
	return value
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// osVersion reports a best-effort OS version string.
func osVersion() string {
	switch runtime.GOOS {
	case "linux":
		if v := readTrimmed("/proc/sys/kernel/osrelease"); v != "" {
			return v
		}
	case "darwin":
		if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
			return strings.TrimSpace(string(out))
		}
	}
	if out, err := exec.Command("uname", "-r").Output(); err == nil {
		return strings.TrimSpace(string(out))
	}
	return fmt.Sprintf("%s-unknown", runtime.GOOS)
}
