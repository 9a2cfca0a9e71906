package managed

import (
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	clrembed "github.com/wippyai/clr-embed"
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

// DefaultDomainName names the root domain when Settings leaves it empty.
const DefaultDomainName = "clr-embed"

// Settings configures a System.
//
//	domain_name = "app"
//	config_is_file = true
//	config = "runtime.toml"
//
//	[profiling]
//	events = ["calls", "exceptions", "gc"]
//	record_thread_events = true
type Settings struct {
	// DomainName names the root domain.
	DomainName string `toml:"domain_name"`

	// Config is runtime configuration text, or a path to it when
	// ConfigIsFile is set. Empty means defaults.
	Config       string `toml:"config"`
	ConfigIsFile bool   `toml:"config_is_file"`

	Profiling ProfilingSettings `toml:"profiling"`

	// Allocator overrides individual heap allocator entry points. The
	// overrides are installed process wide by the first System that
	// sets them.
	Allocator *clrembed.AllocatorFuncs `toml:"-"`

	// Events, when set, receives every profiler event the flags select.
	Events EventSink `toml:"-"`

	// Debug enables debugger support at start.
	Debug bool `toml:"debug"`
}

// ProfilingSettings selects the runtime events counted into profile frames.
type ProfilingSettings struct {
	Flags clr.ProfileFlags `toml:"-"`

	// Events lists flag names; see ParseProfileFlags.
	Events []string `toml:"events"`

	// RecordThreadEvents forwards thread start and end events to the
	// event sink.
	RecordThreadEvents bool `toml:"record_thread_events"`
}

// EventSink stores profiler events.
type EventSink interface {
	Record(ev clr.ProfileEvent) error
}

var profileFlagNames = map[string]clr.ProfileFlags{
	"calls":       clr.ProfileCalls,
	"coverage":    clr.ProfileCoverage,
	"allocations": clr.ProfileAllocations,
	"domain":      clr.ProfileDomain,
	"context":     clr.ProfileContext,
	"assembly":    clr.ProfileAssembly,
	"image":       clr.ProfileImage,
	"exceptions":  clr.ProfileExceptions,
	"gc":          clr.ProfileGC,
	"thread":      clr.ProfileThread,
	"all":         clr.ProfileAll,
}

// ParseProfileFlags converts flag names (calls, coverage, allocations,
// domain, context, assembly, image, exceptions, gc, thread, all) to flags.
func ParseProfileFlags(names []string) (clr.ProfileFlags, error) {
	var flags clr.ProfileFlags
	for _, n := range names {
		f, ok := profileFlagNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path("profiling", "events").
				Value(n).
				Detail("unknown profiling event %q", n).
				Build()
		}
		flags |= f
	}
	return flags, nil
}

// ParseSettings decodes settings from TOML text.
func ParseSettings(text string) (Settings, error) {
	var s Settings
	md, err := toml.Decode(text, &s)
	if err != nil {
		return Settings{}, errors.ParseFailed("settings", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Settings{}, errors.InvalidInput(errors.PhaseConfig, "unknown settings keys: "+strings.Join(keys, ", "))
	}

	flags, err := ParseProfileFlags(s.Profiling.Events)
	if err != nil {
		return Settings{}, err
	}
	s.Profiling.Flags = flags
	return s, nil
}

// LoadSettings reads settings from a TOML file. A relative config path in
// a file-based configuration is resolved against the settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrap(errors.PhaseConfig, errors.KindLoadFailure, err, "read settings "+path)
	}
	s, err := ParseSettings(string(data))
	if err != nil {
		return Settings{}, err
	}
	if s.ConfigIsFile && s.Config != "" {
		s.Config = resolvePath(path, s.Config)
	}
	return s, nil
}

func (s *Settings) domainName() string {
	if s.DomainName == "" {
		return DefaultDomainName
	}
	return s.DomainName
}
