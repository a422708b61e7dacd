package trace

import (
	"sort"
	"strconv"

	"github.com/arkilian/nsys2chrome/pkg/types"
)

// record is an Event plus the keys it is ordered by.
type record struct {
	ns    int64
	track int
	group int
	cat   types.Category
	rank  int
	ev    Event
}

// Records that close a slice sort ahead of everything else at the same
// instant on the same lane, so nesting stays balanced.
var phaseRank = map[string]int{
	PhEnd:       0,
	PhComplete:  1,
	PhBegin:     2,
	PhInstant:   3,
	PhFlowStart: 4,
	PhFlowEnd:   5,
}

// Build expands events into wire records, orders them, and injects naming
// metadata when opts asks for it. Events must already carry track ids.
func Build(events []types.NormalizedEvent, tracks []types.Track, opts types.ConversionOptions) *Trace {
	byID := make(map[int]types.Track, len(tracks))
	for _, tr := range tracks {
		byID[tr.ID] = tr
	}

	recs := make([]record, 0, len(events))
	for i := range events {
		recs = expand(recs, &events[i], byID)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if a.ns != b.ns {
			return a.ns < b.ns
		}
		if a.track != b.track {
			return a.track < b.track
		}
		if (a.rank == 0) != (b.rank == 0) {
			return a.rank == 0
		}
		if a.cat != b.cat {
			return a.cat < b.cat
		}
		if a.ev.Name != b.ev.Name {
			return a.ev.Name < b.ev.Name
		}
		return a.rank < b.rank
	})

	out := &Trace{Events: make([]Event, 0, len(recs)+len(tracks))}
	if !opts.IncludeMetadata() {
		for _, r := range recs {
			out.Events = append(out.Events, r.ev)
		}
		return out
	}

	namedGroup := make(map[int]bool)
	namedLane := make(map[int]bool)
	for _, r := range recs {
		if !namedGroup[r.group] {
			namedGroup[r.group] = true
			out.Events = append(out.Events, Event{
				Name: MetaProcessName,
				Cat:  MetaCategory,
				Ph:   PhMetadata,
				Ts:   r.ev.Ts,
				Pid:  r.group,
				Args: map[string]any{"name": byID[r.group].Name},
			})
		}
		if !namedLane[r.track] {
			namedLane[r.track] = true
			out.Events = append(out.Events, Event{
				Name: MetaThreadName,
				Cat:  MetaCategory,
				Ph:   PhMetadata,
				Ts:   r.ev.Ts,
				Pid:  r.group,
				Tid:  r.track,
				Args: map[string]any{"name": byID[r.track].Name},
			})
		}
		out.Events = append(out.Events, r.ev)
	}
	return out
}

func expand(recs []record, ev *types.NormalizedEvent, byID map[int]types.Track) []record {
	group := byID[ev.TrackID].ParentID
	base := Event{
		Name:  ev.Name,
		Cat:   ev.Category.String(),
		Ts:    micros(ev.Timestamp),
		Pid:   group,
		Tid:   ev.TrackID,
		Cname: ev.Color,
		Args:  ev.Args,
	}
	rec := func(ns int64, e Event) record {
		return record{ns: ns, track: ev.TrackID, group: group, cat: ev.Category, rank: phaseRank[e.Ph], ev: e}
	}

	switch ev.Phase {
	case types.PhaseComplete:
		e := base
		e.Ph = PhComplete
		dur := micros(ev.End()) - micros(ev.Timestamp)
		e.Dur = &dur
		return append(recs, rec(ev.Timestamp, e))
	case types.PhaseBeginEnd:
		b := base
		b.Ph = PhBegin
		e := Event{
			Name: ev.Name,
			Cat:  base.Cat,
			Ph:   PhEnd,
			Ts:   micros(ev.End()),
			Pid:  group,
			Tid:  ev.TrackID,
		}
		return append(recs, rec(ev.Timestamp, b), rec(ev.End(), e))
	case types.PhaseFlowStart, types.PhaseFlowEnd:
		e := base
		e.Ph = PhFlowStart
		if ev.Phase == types.PhaseFlowEnd {
			e.Ph = PhFlowEnd
			e.BP = "e"
		}
		e.ID = strconv.FormatInt(ev.FlowID, 10)
		return append(recs, rec(ev.Timestamp, e))
	default:
		e := base
		e.Ph = PhInstant
		e.S = "t"
		return append(recs, rec(ev.Timestamp, e))
	}
}

// micros converts nanoseconds to whole microseconds.
func micros(ns int64) int64 {
	return ns / 1000
}
