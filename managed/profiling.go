package managed

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/clr-embed/clr"
)

// ProfileFrame holds event counters for one profiling scope.
type ProfileFrame struct {
	Name string

	Calls           uint64
	Coverage        uint64
	Allocations     uint64
	AllocatedBytes  uint64
	Moves           uint64
	DomainLoads     uint64
	DomainUnloads   uint64
	ContextLoads    uint64
	ContextUnloads  uint64
	AssemblyLoads   uint64
	AssemblyUnloads uint64
	ImageLoads      uint64
	ImageUnloads    uint64
	Exceptions      uint64
	Collections     uint64
	ThreadStarts    uint64
	ThreadEnds      uint64
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (f *ProfileFrame) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", f.Name)
	enc.AddUint64("calls", f.Calls)
	enc.AddUint64("coverage", f.Coverage)
	enc.AddUint64("allocations", f.Allocations)
	enc.AddUint64("allocated_bytes", f.AllocatedBytes)
	enc.AddUint64("moves", f.Moves)
	enc.AddUint64("domain_loads", f.DomainLoads)
	enc.AddUint64("domain_unloads", f.DomainUnloads)
	enc.AddUint64("context_loads", f.ContextLoads)
	enc.AddUint64("context_unloads", f.ContextUnloads)
	enc.AddUint64("assembly_loads", f.AssemblyLoads)
	enc.AddUint64("assembly_unloads", f.AssemblyUnloads)
	enc.AddUint64("image_loads", f.ImageLoads)
	enc.AddUint64("image_unloads", f.ImageUnloads)
	enc.AddUint64("exceptions", f.Exceptions)
	enc.AddUint64("collections", f.Collections)
	enc.AddUint64("thread_starts", f.ThreadStarts)
	enc.AddUint64("thread_ends", f.ThreadEnds)
	return nil
}

func (f *ProfileFrame) count(ev clr.ProfileEvent) {
	switch ev.Kind {
	case clr.EventMethodEnter:
		f.Calls++
	case clr.EventCoverage:
		f.Coverage++
	case clr.EventAlloc:
		f.Allocations++
		f.AllocatedBytes += ev.Bytes
	case clr.EventMove:
		f.Moves++
	case clr.EventDomainLoad:
		f.DomainLoads++
	case clr.EventDomainUnload:
		f.DomainUnloads++
	case clr.EventContextLoad:
		f.ContextLoads++
	case clr.EventContextUnload:
		f.ContextUnloads++
	case clr.EventAssemblyLoad:
		f.AssemblyLoads++
	case clr.EventAssemblyUnload:
		f.AssemblyUnloads++
	case clr.EventImageLoad:
		f.ImageLoads++
	case clr.EventImageUnload:
		f.ImageUnloads++
	case clr.EventException:
		f.Exceptions++
	case clr.EventGCEnd:
		f.Collections++
	case clr.EventThreadStart:
		f.ThreadStarts++
	case clr.EventThreadEnd:
		f.ThreadEnds++
	}
}

// profileStack always holds at least the base frame.
type profileStack struct {
	frames []*ProfileFrame
}

func newProfileStack() *profileStack {
	return &profileStack{frames: []*ProfileFrame{{Name: "base"}}}
}

func (s *profileStack) push(name string) *ProfileFrame {
	f := &ProfileFrame{Name: name}
	s.frames = append(s.frames, f)
	return f
}

func (s *profileStack) pop() *ProfileFrame {
	if len(s.frames) == 1 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

func (s *profileStack) current() *ProfileFrame {
	return s.frames[len(s.frames)-1]
}

// onEvent counts ev into the current frame and forwards it to the sink.
// Thread events reach the sink only when thread recording is on.
func (s *System) onEvent(ev clr.ProfileEvent) {
	s.profile.current().count(ev)
	if s.settings.Events == nil {
		return
	}
	if ev.Kind.Flag() == clr.ProfileThread && !s.settings.Profiling.RecordThreadEvents {
		return
	}
	if err := s.settings.Events.Record(ev); err != nil {
		Logger().Warn("profile event not recorded",
			zap.Stringer("event", ev.Kind),
			zap.Error(err),
		)
	}
}

// PushProfileFrame opens a new counting scope.
func (s *System) PushProfileFrame(name string) *ProfileFrame {
	return s.profile.push(name)
}

// PopProfileFrame closes the current scope and returns it. The base frame
// is never popped; popping it returns nil.
func (s *System) PopProfileFrame() *ProfileFrame {
	return s.profile.pop()
}

// CurrentProfileFrame returns the frame events are counted into.
func (s *System) CurrentProfileFrame() *ProfileFrame {
	return s.profile.current()
}

// ProfilingSettings returns the active profiling settings.
func (s *System) ProfilingSettings() ProfilingSettings {
	return s.settings.Profiling
}

// SetProfilingSettings replaces the event selection.
func (s *System) SetProfilingSettings(p ProfilingSettings) error {
	if len(p.Events) > 0 {
		flags, err := ParseProfileFlags(p.Events)
		if err != nil {
			return err
		}
		p.Flags |= flags
	}
	s.settings.Profiling = p
	s.rt.SetProfiler(p.Flags, s.onEvent)
	return nil
}

// ReportProfileStats logs the current frame and returns a copy of it.
func (s *System) ReportProfileStats() ProfileFrame {
	f := *s.profile.current()
	Logger().Info("profile stats", zap.Object("frame", &f))
	return f
}
