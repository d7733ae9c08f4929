package systeminfo

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// HostInfo describes the node a job ran on.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
	PID             int    `json:"pid"`
	BootTime        string `json:"boot_time,omitempty"`
}

var hostInfoFn = host.Info

// GetHostInfo gathers host facts. When the platform query fails the
// returned info still carries what the runtime knows, along with the error.
func GetHostInfo() (*HostInfo, error) {
	info := &HostInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		PID:  os.Getpid(),
	}
	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}

	stat, err := hostInfoFn()
	if err != nil {
		return info, err
	}
	if stat.Hostname != "" {
		info.Hostname = stat.Hostname
	}
	if stat.OS != "" {
		info.OS = stat.OS
	}
	info.Platform = stat.Platform
	info.PlatformVersion = stat.PlatformVersion
	info.KernelVersion = stat.KernelVersion
	if stat.BootTime > 0 {
		info.BootTime = time.Unix(int64(stat.BootTime), 0).UTC().Format(time.RFC3339)
	}
	return info, nil
}
