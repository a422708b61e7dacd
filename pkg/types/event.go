package types

// Phase determines how an event is serialized.
type Phase uint8

const (
	PhaseInstant Phase = iota
	// PhaseBeginEnd serializes as a "B"/"E" record pair.
	PhaseBeginEnd
	PhaseComplete
	// PhaseFlowStart and PhaseFlowEnd are only produced by the correlator.
	PhaseFlowStart
	PhaseFlowEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseInstant:
		return "instant"
	case PhaseBeginEnd:
		return "begin-end"
	case PhaseComplete:
		return "complete"
	case PhaseFlowStart:
		return "flow-start"
	case PhaseFlowEnd:
		return "flow-end"
	default:
		return "unknown"
	}
}

// NormalizedEvent is the unified event representation used after extraction.
// Timestamps share one clock domain (nanoseconds) across an entire conversion.
type NormalizedEvent struct {
	// Category is the activity class
	Category Category

	// Name is the display label
	Name string

	// Timestamp is the start in nanoseconds
	Timestamp int64

	// Duration is zero for instants and never negative
	Duration int64

	// Phase selects the wire representation
	Phase Phase

	// Key is the raw lane identity resolved by the extractor
	Key TrackKey

	// TrackID is filled by the track assigner; zero means unassigned
	TrackID int

	// Device is the GPU the event belongs to, when HasDevice is set
	Device    int64
	HasDevice bool

	// Devices lists further devices a host-side event may relate to
	Devices []int64

	// Args holds auxiliary attributes; never used for ordering
	Args map[string]any

	// Color is an optional display color token ("cname")
	Color string

	// FlowID links a flow start to its flow end
	FlowID int64
}

// End returns Timestamp + Duration.
func (e NormalizedEvent) End() int64 {
	return e.Timestamp + e.Duration
}

// DeviceSet returns every device the event relates to, lowest first.
func (e NormalizedEvent) DeviceSet() []int64 {
	if len(e.Devices) > 0 {
		return e.Devices
	}
	if e.HasDevice {
		return []int64{e.Device}
	}
	return nil
}

// Interval reports whether the event spans time.
func (e NormalizedEvent) Interval() bool {
	return e.Phase == PhaseComplete || e.Phase == PhaseBeginEnd
}

// Arg returns an integer argument, accepting the integer types extractors store.
func (e NormalizedEvent) Arg(key string) (int64, bool) {
	switch v := e.Args[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	default:
		return 0, false
	}
}
