package extract

import (
	"context"
	"slices"
	"sort"

	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/pkg/types"
)

const unknownKernel = "[Unknown kernel]"

var kernelCols = columnSet{
	table:    TableKernel,
	required: []string{"start", "end", "deviceId", "streamId"},
	optional: []string{
		"correlationId", "globalPid", "shortName", "demangledName",
		"gridX", "gridY", "gridZ", "blockX", "blockY", "blockZ",
		"registersPerThread", "staticSharedMemory", "dynamicSharedMemory",
	},
}

// kernelExtractor reads GPU kernel executions onto device stream lanes.
type kernelExtractor struct{}

func (kernelExtractor) Category() types.Category { return types.CategoryKernel }
func (kernelExtractor) Table() string            { return TableKernel }

func (kernelExtractor) Extract(ctx context.Context, ex *export.Export, env Env, opts types.ConversionOptions) ([]types.NormalizedEvent, error) {
	if !opts.Includes(types.CategoryKernel) {
		return nil, nil
	}

	var out []types.NormalizedEvent
	err := scan(ctx, ex, kernelCols, func(f *fields) error {
		start, _ := f.int("start")
		end, hasEnd := f.int("end")
		device, _ := f.int("deviceId")
		stream, _ := f.int("streamId")

		short, hasShort := f.int("shortName")
		demangledID, hasDemangled := f.int("demangledName")
		demangled := resolve(env.Strings, demangledID, hasDemangled, "")
		name := resolve(env.Strings, short, hasShort, demangled)
		if name == "" {
			name = unknownKernel
		}

		row := types.RawActivityRow{
			Category:  types.CategoryKernel,
			Name:      name,
			Start:     start,
			End:       end,
			HasEnd:    hasEnd,
			DeviceID:  device,
			StreamID:  stream,
			HasDevice: true,
			GPUSide:   true,
		}
		if g, ok := f.int("globalPid"); ok {
			row.PID, _ = export.DecomposeGlobalID(g)
		}

		attrs := []types.Attr{
			{Key: "deviceId", Value: device},
			{Key: "streamId", Value: stream},
		}
		attrs = f.attrInt(attrs, "correlationId")
		if demangled != "" && demangled != name {
			attrs = append(attrs, types.Attr{Key: "demangledName", Value: demangled})
		}
		if gx, ok := f.int("gridX"); ok {
			gy, _ := f.int("gridY")
			gz, _ := f.int("gridZ")
			attrs = append(attrs, types.Attr{Key: "grid", Value: []int64{gx, gy, gz}})
		}
		if bx, ok := f.int("blockX"); ok {
			by, _ := f.int("blockY")
			bz, _ := f.int("blockZ")
			attrs = append(attrs, types.Attr{Key: "block", Value: []int64{bx, by, bz}})
		}
		attrs = f.attrInt(attrs, "registersPerThread")
		attrs = f.attrInt(attrs, "staticSharedMemory")
		attrs = f.attrInt(attrs, "dynamicSharedMemory")
		row.Attrs = attrs

		out = append(out, finish(row, opts))
		return nil
	})
	if err != nil {
		return nil, classify(types.CategoryKernel, err)
	}
	return out, nil
}

// Thread identifies a host thread.
type Thread struct {
	PID, TID int64
}

// DeviceMap records the devices each process and each host thread launched
// kernels on, in ascending order. Threads are attributed through the
// correlation ids shared by runtime calls and the kernels they launched.
type DeviceMap struct {
	Processes map[int64][]int64
	Threads   map[Thread][]int64
}

type launch struct {
	pid, corr int64
}

// LoadDeviceMap reads the device map. An export without kernels yields an
// empty map; one without runtime calls yields process entries only.
func LoadDeviceMap(ctx context.Context, ex *export.Export) (DeviceMap, error) {
	var dm DeviceMap
	if !ex.HasTable(TableKernel) {
		return dm, nil
	}
	present, err := ex.Present(ctx, TableKernel, "globalPid", "deviceId", "correlationId")
	if err != nil {
		return dm, err
	}
	if !slices.Contains(present, "globalPid") || !slices.Contains(present, "deviceId") {
		return dm, nil
	}
	withCorr := slices.Contains(present, "correlationId")
	cols := []string{"globalPid", "deviceId"}
	if withCorr {
		cols = append(cols, "correlationId")
	}

	processes := make(map[int64]map[int64]struct{})
	launches := make(map[launch]int64)
	_, err = ex.ReadRows(ctx, export.Query{
		Table:   TableKernel,
		Columns: cols,
		Where:   "globalPid IS NOT NULL AND deviceId IS NOT NULL",
	}, func(r export.Row) error {
		g, _, err := r.Int("globalPid")
		if err != nil {
			return err
		}
		d, _, err := r.Int("deviceId")
		if err != nil {
			return err
		}
		pid, _ := export.DecomposeGlobalID(g)
		addDevice(processes, pid, d)
		if corr := r.IntOr("correlationId", 0); withCorr && corr != 0 {
			launches[launch{pid: pid, corr: corr}] = d
		}
		return nil
	})
	if err != nil {
		return dm, err
	}
	dm.Processes = flatten(processes)

	if len(launches) == 0 || !ex.HasTable(TableRuntime) {
		return dm, nil
	}
	present, err = ex.Present(ctx, TableRuntime, "globalTid", "correlationId")
	if err != nil {
		return dm, err
	}
	if len(present) != 2 {
		return dm, nil
	}

	threads := make(map[Thread]map[int64]struct{})
	_, err = ex.ReadRows(ctx, export.Query{
		Table:   TableRuntime,
		Columns: []string{"globalTid", "correlationId"},
		Where:   "globalTid IS NOT NULL AND correlationId IS NOT NULL",
	}, func(r export.Row) error {
		g, _, err := r.Int("globalTid")
		if err != nil {
			return err
		}
		corr, _, err := r.Int("correlationId")
		if err != nil {
			return err
		}
		pid, tid := export.DecomposeGlobalID(g)
		if d, ok := launches[launch{pid: pid, corr: corr}]; ok {
			addDevice(threads, Thread{PID: pid, TID: tid}, d)
		}
		return nil
	})
	if err != nil {
		return dm, err
	}
	dm.Threads = flatten(threads)
	return dm, nil
}

func addDevice[K comparable](m map[K]map[int64]struct{}, k K, device int64) {
	set, ok := m[k]
	if !ok {
		set = make(map[int64]struct{})
		m[k] = set
	}
	set[device] = struct{}{}
}

func flatten[K comparable](m map[K]map[int64]struct{}) map[K][]int64 {
	out := make(map[K][]int64, len(m))
	for k, set := range m {
		ds := make([]int64, 0, len(set))
		for d := range set {
			ds = append(ds, d)
		}
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		out[k] = ds
	}
	return out
}
