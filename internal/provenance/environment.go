package provenance

import (
	"runtime"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// Environment describes the machine and build that produced a run. It holds
// no timestamps or host names so reruns on the same machine describe it
// identically.
type Environment struct {
	OS            string            `json:"os"`
	Arch          string            `json:"arch"`
	Kernel        string            `json:"kernel,omitempty"`
	Machine       string            `json:"machine,omitempty"`
	GoVersion     string            `json:"go_version"`
	ModuleVersion string            `json:"module_version,omitempty"`
	Capabilities  map[string]string `json:"capabilities"`
}

// CaptureEnvironment reads the running system. Capabilities maps each
// capability slot (degrade, restore_a, restore_b, score) to its descriptor.
func CaptureEnvironment(capabilities map[string]string) Environment {
	env := Environment{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		GoVersion:    runtime.Version(),
		Capabilities: capabilities,
	}
	if env.Capabilities == nil {
		env.Capabilities = map[string]string{}
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		env.Kernel = unix.ByteSliceToString(uts.Release[:])
		env.Machine = unix.ByteSliceToString(uts.Machine[:])
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		env.ModuleVersion = info.Main.Version
	}
	return env
}
