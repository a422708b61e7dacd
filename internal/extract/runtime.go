package extract

import (
	"context"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

var runtimeCols = columnSet{
	table:    TableRuntime,
	required: []string{"start", "end", "globalTid", "nameId"},
	optional: []string{"correlationId", "returnValue"},
}

// runtimeExtractor reads CUDA runtime API calls onto host thread lanes.
type runtimeExtractor struct{}

func (runtimeExtractor) Category() types.Category { return types.CategoryCUDAAPI }
func (runtimeExtractor) Table() string            { return TableRuntime }

func (runtimeExtractor) Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error) {
	if !opts.Includes(types.CategoryCUDAAPI) {
		return nil, nil
	}

	var out []types.NormalizedEvent
	err := scan(ctx, ex, runtimeCols, func(f *fields) error {
		start, _ := f.int("start")
		end, hasEnd := f.int("end")
		gtid, _ := f.int("globalTid")
		nameID, hasName := f.int("nameId")
		pid, tid := export.DecomposeGlobalID(gtid)

		row := types.RawActivityRow{
			Category: types.CategoryCUDAAPI,
			Name:     resolve(env.Strings, nameID, hasName, "[Unknown API]"),
			Start:    start,
			End:      end,
			HasEnd:   hasEnd,
			PID:      pid,
			TID:      tid,
		}
		if d, ok := env.Device(pid); ok {
			row.DeviceID, row.HasDevice = d, true
		}
		var attrs []types.Attr
		attrs = f.attrInt(attrs, "correlationId")
		attrs = f.attrInt(attrs, "returnValue")
		row.Attrs = attrs

		out = append(out, finish(row, opts))
		return nil
	})
	if err != nil {
		return nil, classify(types.CategoryCUDAAPI, err)
	}
	return out, nil
}
