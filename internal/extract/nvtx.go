package extract

import (
	"context"
	"fmt"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

// NVTX event types.
const (
	NVTXMark         = 34
	NVTXPushPop      = 59
	NVTXStartEnd     = 60
	NVTXDomainCreate = 75
)

const unnamedRange = "[No name]"

var nvtxCols = columnSet{
	table:    TableNVTX,
	required: []string{"start", "end", "eventType", "globalTid"},
	optional: []string{"text", "textId", "domainId", "color"},
}

type nvtxRow struct {
	start, end int64
	hasEnd     bool
	eventType  int64
	name       string
	gtid       int64
	domain     int64
	color      int64
	hasColor   bool
}

// nvtxExtractor reads annotation marks and ranges onto host thread lanes.
type nvtxExtractor struct{}

func (nvtxExtractor) Category() types.Category { return types.CategoryNVTX }
func (nvtxExtractor) Table() string            { return TableNVTX }

func (nvtxExtractor) Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error) {
	if !opts.Includes(types.CategoryNVTX) {
		return nil, nil
	}

	var (
		rows    []nvtxRow
		domains = make(map[int64]string)
	)
	err := scan(ctx, ex, nvtxCols, func(f *fields) error {
		var r nvtxRow
		r.start, _ = f.int("start")
		r.end, r.hasEnd = f.int("end")
		r.eventType, _ = f.int("eventType")
		r.gtid, _ = f.int("globalTid")
		r.domain, _ = f.int("domainId")
		r.color, r.hasColor = f.int("color")

		r.name = unnamedRange
		if id, ok := f.int("textId"); ok {
			r.name = resolve(env.Strings, id, true, unnamedRange)
		} else if text, ok := f.str("text"); ok && text != "" {
			r.name = text
		}

		switch r.eventType {
		case NVTXDomainCreate:
			domains[r.domain] = r.name
		case NVTXMark, NVTXPushPop, NVTXStartEnd:
			rows = append(rows, r)
		}
		return nil
	})
	if err != nil {
		return nil, classify(types.CategoryNVTX, err)
	}

	out := make([]types.NormalizedEvent, 0, len(rows))
	for _, r := range rows {
		if !opts.KeepNVTX(r.name) {
			continue
		}
		pid, tid := export.DecomposeGlobalID(r.gtid)
		row := types.RawActivityRow{
			Category: types.CategoryNVTX,
			Name:     r.name,
			Start:    r.start,
			End:      r.end,
			HasEnd:   r.hasEnd && r.eventType != NVTXMark,
			PID:      pid,
			TID:      tid,
		}
		if ds := env.DevicesFor(pid, tid); len(ds) > 0 {
			row.DeviceID, row.HasDevice, row.Devices = ds[0], true, ds
		}
		if name, ok := domains[r.domain]; ok && r.domain != 0 {
			row.Attrs = append(row.Attrs, types.Attr{Key: "domain", Value: name})
		}
		if r.hasColor {
			row.Attrs = append(row.Attrs, types.Attr{Key: "color", Value: argbToHex(r.color)})
		}

		ev := finish(row, opts)
		if ev.Phase == types.PhaseComplete && r.eventType == NVTXStartEnd && opts.BeginEndRanges() {
			ev.Phase = types.PhaseBeginEnd
		}
		out = append(out, ev)
	}
	return out, nil
}

// argbToHex drops the alpha channel of a packed ARGB color.
func argbToHex(argb int64) string {
	return fmt.Sprintf("#%06X", argb&0xFFFFFF)
}
