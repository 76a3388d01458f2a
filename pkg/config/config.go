// Package config holds the manager's boot-time configuration, loaded
// from the environment the same way the teacher's pkg/agent.Config is:
// struct tags consumed by caarlos0/env rather than a flags package or a
// hand-rolled parser.
package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
)

// Config is every environment-tunable knob the manager process reads at
// startup.
type Config struct {
	// ControlSocketPath is the control-plane Unix socket clients speak
	// the Operation/Response protocol on (spec.md §6).
	ControlSocketPath string `env:"MORTISE_SOCK_PATH" envDefault:"/tmp/mortise.sock"`
	// SidecarSocketPath is the analytics sidecar's Unix socket, best
	// effort: the manager runs fine without a listener there.
	SidecarSocketPath string `env:"MORTISE_PY_PATH" envDefault:"/tmp/mortise-py.sock"`
	// SidecarQueueDepth bounds how many unsent messages the Sidecar Link
	// buffers before it starts dropping (spec.md §4.G).
	SidecarQueueDepth int `env:"MORTISE_SIDECAR_QUEUE_DEPTH" envDefault:"1024"`

	// DefaultObjectPath is the struct_ops object loaded at boot, before
	// any client connects.
	DefaultObjectPath string `env:"MORTISE_DEFAULT_OBJECT_PATH" envDefault:"/usr/lib/mortise/mortise_copa.bpf.o"`
	// DefaultObjectID is the obj id the boot-time default object is
	// registered under, matching manager.rs's bin using obj_id 1 for its
	// ring buffer registration.
	DefaultObjectID uint32 `env:"MORTISE_DEFAULT_OBJECT_ID" envDefault:"1"`

	// DefaultRTTMapValueSize/MaxEntries and DefaultIncreaseMapValueSize/
	// MaxEntries describe mortise_copa's two scratch outer maps
	// (mim_rtt, mim_increase), matching
	// CongestionOpt::MortiseCopa::get_load_option exactly. The boot
	// sequence loads the default object with these wired in as its
	// ConnectOption, or Connect's per-flow map-in-map wiring never fires
	// for any flow that connects against it.
	DefaultRTTMapValueSize       uint32 `env:"MORTISE_RTT_MAP_VALUE_SIZE" envDefault:"16"`
	DefaultRTTMapMaxEntries      uint32 `env:"MORTISE_RTT_MAP_MAX_ENTRIES" envDefault:"100000"`
	DefaultIncreaseMapValueSize  uint32 `env:"MORTISE_INCREASE_MAP_VALUE_SIZE" envDefault:"8"`
	DefaultIncreaseMapMaxEntries uint32 `env:"MORTISE_INCREASE_MAP_MAX_ENTRIES" envDefault:"100000"`

	// MemlockLimitMB and NofileLimit raise the process's RLIMIT_MEMLOCK
	// (megabytes) and RLIMIT_NOFILE at boot, matching
	// bump_memlock_rlimit/bump_nofile_rlimit's hardcoded 1024MB/8192.
	MemlockLimitMB int64  `env:"MORTISE_MEMLOCK_LIMIT_MB" envDefault:"1024"`
	NofileLimit    uint64 `env:"MORTISE_NOFILE_LIMIT" envDefault:"8192"`

	// MetricsAddr is the address the Prometheus /metrics endpoint binds
	// to. Empty disables it.
	MetricsAddr string `env:"MORTISE_METRICS_ADDR" envDefault:":9090"`

	// LogLevel is parsed by logrus.ParseLevel; invalid values fall back
	// to "info".
	LogLevel string `env:"MORTISE_LOG_LEVEL" envDefault:"info"`

	// RequestQueueDepth bounds the channel between the IPC Broker and
	// the Manager Core's dedicated goroutine.
	RequestQueueDepth int `env:"MORTISE_REQUEST_QUEUE_DEPTH" envDefault:"128"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConnectOption is the ConnectOption the boot-time default
// object is loaded with, mirroring get_load_option's mim_rtt/
// mim_increase pair for mortise_copa (spec.md §6).
func (c *Config) DefaultConnectOption() *protocol.ConnectOption {
	return &protocol.ConnectOption{
		SkArrayMaps: []protocol.OuterMapDescriptor{
			{Mim: "mim_rtt", ValueSize: c.DefaultRTTMapValueSize, MaxEntries: c.DefaultRTTMapMaxEntries},
			{Mim: "mim_increase", ValueSize: c.DefaultIncreaseMapValueSize, MaxEntries: c.DefaultIncreaseMapMaxEntries},
		},
	}
}
