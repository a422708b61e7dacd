package types

// Attr is one category-specific attribute carried from a source row.
type Attr struct {
	Key   string
	Value any
}

// RawActivityRow is one row read from a source table, before it is mapped
// onto the unified event model.
type RawActivityRow struct {
	// Category is the activity class the row belongs to
	Category Category

	// Name is the resolved display label
	Name string

	// Start is the row's start timestamp in nanoseconds
	Start int64

	// End is the end timestamp in nanoseconds, meaningful only when HasEnd is set
	End int64

	// HasEnd is false for instantaneous rows
	HasEnd bool

	// Attrs holds the remaining columns (ids, numeric arguments) in column order
	Attrs []Attr

	// PID and TID identify the host thread that recorded the row
	PID int64
	TID int64

	// DeviceID and StreamID are set for GPU-side rows; DeviceID is also set for
	// host rows whose process is known to drive a device
	DeviceID int64
	StreamID int64

	// HasDevice reports whether DeviceID is meaningful
	HasDevice bool

	// Devices lists every device a host row may relate to, lowest first;
	// DeviceID is its first entry
	Devices []int64

	// GPUSide places the row on a device stream lane instead of a thread lane
	GPUSide bool
}

// Key returns the raw track identity of the row.
func (r RawActivityRow) Key() TrackKey {
	if r.GPUSide {
		return StreamKey(r.DeviceID, r.StreamID)
	}
	return ThreadKey(r.PID, r.TID)
}

// Normalize maps the row onto a NormalizedEvent. Rows without an end become
// instants; an end before the start is clamped to a zero duration.
func (r RawActivityRow) Normalize() NormalizedEvent {
	ev := NormalizedEvent{
		Category:  r.Category,
		Name:      r.Name,
		Timestamp: r.Start,
		Phase:     PhaseInstant,
		Key:       r.Key(),
		Device:    r.DeviceID,
		HasDevice: r.HasDevice,
		Devices:   r.Devices,
	}
	if r.HasEnd {
		ev.Phase = PhaseComplete
		if r.End > r.Start {
			ev.Duration = r.End - r.Start
		}
	}
	if len(r.Attrs) > 0 {
		ev.Args = make(map[string]any, len(r.Attrs))
		for _, a := range r.Attrs {
			ev.Args[a.Key] = a.Value
		}
	}
	return ev
}
