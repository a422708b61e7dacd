package extract

import (
	"context"
	"testing"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/arkilian/nsys2chrome/internal/export"
	"github.com/arkilian/nsys2chrome/internal/export/exporttest"
	"github.com/arkilian/nsys2chrome/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExport(t *testing.T, fx exporttest.Fixture) (*export.Export, Env) {
	t.Helper()
	ctx := context.Background()
	ex, err := export.Open(ctx, exporttest.Path(t, fx))
	require.NoError(t, err)
	t.Cleanup(func() { ex.Close() })

	strs, err := ex.Strings(ctx)
	require.NoError(t, err)
	devices, err := LoadDeviceMap(ctx, ex)
	require.NoError(t, err)
	return ex, Env{Strings: strs, Devices: devices}
}

func run(t *testing.T, x Extractor, ex *export.Export, env Env, opts types.ConversionOptions) []types.NormalizedEvent {
	t.Helper()
	events, err := x.Extract(context.Background(), ex, env, opts)
	require.NoError(t, err)
	return events
}

func TestRegistry(t *testing.T) {
	var cats []types.Category
	for _, x := range All() {
		cats = append(cats, x.Category())
	}
	assert.Equal(t, []types.Category{
		types.CategoryKernel, types.CategoryCUDAAPI, types.CategoryNVTX,
		types.CategoryOSRT, types.CategorySched, types.CategoryComposite,
	}, cats)

	_, ok := For(types.CategoryNVTXKernel)
	assert.False(t, ok, "nvtx-kernel is derived, not extracted")
	x, ok := For(types.CategorySched)
	require.True(t, ok)
	assert.Equal(t, TableSched, x.Table())
}

func TestKernelExtractor(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Kernels: []exporttest.Kernel{
			{Start: 1000, End: 3000, Device: 1, Stream: 7, Correlation: 42, PID: 100,
				Name: "gemm", Demangled: "void gemm<float>(float*)",
				Grid: [3]int64{8, 1, 1}, Block: [3]int64{256, 1, 1}, Registers: 32},
		},
	})
	x, _ := For(types.CategoryKernel)
	events := run(t, x, ex, env, types.DefaultOptions())
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, types.CategoryKernel, ev.Category)
	assert.Equal(t, "gemm", ev.Name)
	assert.Equal(t, int64(1000), ev.Timestamp)
	assert.Equal(t, int64(2000), ev.Duration)
	assert.Equal(t, types.PhaseComplete, ev.Phase)
	assert.Equal(t, types.StreamKey(1, 7), ev.Key)
	assert.True(t, ev.HasDevice)
	assert.Equal(t, int64(1), ev.Device)
	assert.Zero(t, ev.TrackID)

	corr, ok := ev.Arg("correlationId")
	assert.True(t, ok)
	assert.Equal(t, int64(42), corr)
	assert.Equal(t, "void gemm<float>(float*)", ev.Args["demangledName"])
	assert.Equal(t, []int64{8, 1, 1}, ev.Args["grid"])
	assert.Equal(t, []int64{256, 1, 1}, ev.Args["block"])
	assert.Equal(t, int64(32), ev.Args["registersPerThread"])
}

func TestKernelExtractor_NegativeDurationClamped(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Kernels: []exporttest.Kernel{{Start: 500, End: 400, Name: "k"}},
	})
	x, _ := For(types.CategoryKernel)
	events := run(t, x, ex, env, types.DefaultOptions())
	require.Len(t, events, 1)
	assert.Equal(t, types.PhaseComplete, events[0].Phase)
	assert.Zero(t, events[0].Duration)
}

func TestExtractor_NotRequested(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Kernels: []exporttest.Kernel{{Start: 1, End: 2, Name: "k"}},
	})
	x, _ := For(types.CategoryKernel)
	events := run(t, x, ex, env, types.DefaultOptions().WithCategories(types.CategoryNVTX))
	assert.Empty(t, events)
}

func TestExtractor_TableMissing(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{Omit: []string{exporttest.TableSched}})
	x, _ := For(types.CategorySched)
	_, err := x.Extract(context.Background(), ex, env, types.DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, converrors.CodeTableMissing, converrors.GetCode(err))
	assert.False(t, converrors.IsFatal(err))
}

func TestRuntimeExtractor(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Kernels: []exporttest.Kernel{
			{Start: 10, End: 20, Device: 3, PID: 100, Name: "k"},
			{Start: 30, End: 40, Device: 2, PID: 100, Name: "k"},
		},
		Runtime: []exporttest.Runtime{
			{Start: 5, End: 9, PID: 100, TID: 101, Correlation: 1, Name: "cudaLaunchKernel"},
			{Start: 6, End: 8, PID: 200, TID: 201, Name: "cudaMalloc", Return: 2},
		},
	})
	x, _ := For(types.CategoryCUDAAPI)
	events := run(t, x, ex, env, types.DefaultOptions())
	require.Len(t, events, 2)

	launch := events[0]
	assert.Equal(t, "cudaLaunchKernel", launch.Name)
	assert.Equal(t, types.ThreadKey(100, 101), launch.Key)
	assert.True(t, launch.HasDevice)
	assert.Equal(t, int64(2), launch.Device, "lowest device the process used")

	malloc := events[1]
	assert.Equal(t, "cudaMalloc", malloc.Name)
	assert.False(t, malloc.HasDevice)
	assert.Equal(t, int64(2), malloc.Args["returnValue"])
}

func TestNVTXExtractor(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		NVTX: []exporttest.NVTX{
			{Start: 0, Type: exporttest.NVTXDomainCreate, Text: "training", Domain: 5},
			{Start: 100, End: 500, Text: "forward", PID: 1, TID: 2, Color: 0xFF00FF00, Domain: 5},
			{Start: 150, Type: exporttest.NVTXMark, Text: "checkpoint", PID: 1, TID: 2},
			{Start: 200, End: 300, Type: exporttest.NVTXStartEnd, Text: "load", Interned: true, PID: 1, TID: 3},
			{Start: 250, End: 260, PID: 1, TID: 2},
		},
	})
	x, _ := For(types.CategoryNVTX)
	events := run(t, x, ex, env, types.DefaultOptions())
	require.Len(t, events, 4)

	forward := events[0]
	assert.Equal(t, "forward", forward.Name)
	assert.Equal(t, types.PhaseComplete, forward.Phase)
	assert.Equal(t, int64(400), forward.Duration)
	assert.Equal(t, "#00FF00", forward.Args["color"])
	assert.Equal(t, "training", forward.Args["domain"])
	assert.Equal(t, types.ThreadKey(1, 2), forward.Key)

	mark := events[1]
	assert.Equal(t, "checkpoint", mark.Name)
	assert.Equal(t, types.PhaseInstant, mark.Phase)
	assert.Zero(t, mark.Duration)

	load := events[2]
	assert.Equal(t, "load", load.Name, "textId resolves through the string table")
	assert.Equal(t, types.PhaseComplete, load.Phase)

	assert.Equal(t, unnamedRange, events[3].Name)
}

func TestNVTXExtractor_Options(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		NVTX: []exporttest.NVTX{
			{Start: 100, End: 500, Type: exporttest.NVTXStartEnd, Text: "step:1"},
			{Start: 600, End: 700, Text: "io"},
		},
	})
	x, _ := For(types.CategoryNVTX)
	opts := types.DefaultOptions().
		WithNVTXPrefixes([]string{"step"}).
		WithBeginEndRanges(true).
		WithColorScheme([]types.ColorRule{{Pattern: "^step:", Color: "good"}})

	events := run(t, x, ex, env, opts)
	require.Len(t, events, 1)
	assert.Equal(t, "step:1", events[0].Name)
	assert.Equal(t, types.PhaseBeginEnd, events[0].Phase)
	assert.Equal(t, "good", events[0].Color)
}

func TestOSRTExtractor(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		OSRT: []exporttest.OSRT{
			{Start: 10, End: 30, PID: 4, TID: 5, Name: "pthread_mutex_lock", Return: 0, Nesting: 1},
			{Start: 40, Open: true, PID: 4, TID: 5, Name: "poll"},
		},
	})
	x, _ := For(types.CategoryOSRT)
	events := run(t, x, ex, env, types.DefaultOptions())
	require.Len(t, events, 2)

	assert.Equal(t, "pthread_mutex_lock", events[0].Name)
	assert.Equal(t, int64(20), events[0].Duration)
	assert.Equal(t, int64(1), events[0].Args["nestingLevel"])
	assert.Equal(t, types.PhaseInstant, events[1].Phase, "null end becomes an instant")
}

func TestSchedAndCompositeExtractors(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Sched: []exporttest.Sched{
			{Start: 10, PID: 1, TID: 2, CPU: 3, In: true},
			{Start: 20, PID: 1, TID: 2, CPU: 3},
		},
		Composite: []exporttest.Composite{
			{Start: 15, PID: 1, TID: 2, CPU: 0, Cycles: 1234},
		},
	})
	sched, _ := For(types.CategorySched)
	events := run(t, sched, ex, env, types.DefaultOptions())
	require.Len(t, events, 2)
	assert.Equal(t, "sched_in", events[0].Name)
	assert.Equal(t, "sched_out", events[1].Name)
	assert.Equal(t, types.PhaseInstant, events[0].Phase)
	assert.Equal(t, int64(3), events[0].Args["cpu"])

	comp, _ := For(types.CategoryComposite)
	events = run(t, comp, ex, env, types.DefaultOptions())
	require.Len(t, events, 1)
	assert.Equal(t, types.PhaseInstant, events[0].Phase)
	assert.Equal(t, int64(1234), events[0].Args["cpuCycles"])
	assert.Equal(t, types.ThreadKey(1, 2), events[0].Key)
}

func TestLoadDeviceMap_NoKernels(t *testing.T) {
	ex, _ := newTestExport(t, exporttest.Fixture{Omit: []string{exporttest.TableKernel}})
	devices, err := LoadDeviceMap(context.Background(), ex)
	require.NoError(t, err)
	assert.Empty(t, devices.Processes)
	assert.Empty(t, devices.Threads)
}

func TestLoadDeviceMap_Threads(t *testing.T) {
	_, env := newTestExport(t, exporttest.Fixture{
		Kernels: []exporttest.Kernel{
			{Start: 100, End: 200, Device: 0, Stream: 7, Correlation: 1, PID: 1, Name: "gemm0"},
			{Start: 2_000, End: 3_500, Device: 1, Stream: 9, Correlation: 3, PID: 1, Name: "gemm1"},
			{Start: 4_000, End: 4_100, Device: 2, Stream: 9, Correlation: 4, PID: 1, Name: "gemm2"},
		},
		Runtime: []exporttest.Runtime{
			{Start: 90, End: 95, PID: 1, TID: 2, Correlation: 1, Name: "cudaLaunchKernel"},
			{Start: 1_900, End: 1_990, PID: 1, TID: 3, Correlation: 3, Name: "cudaLaunchKernel"},
			{Start: 3_900, End: 3_990, PID: 1, TID: 3, Correlation: 4, Name: "cudaLaunchKernel"},
		},
	})
	dm := env.Devices
	assert.Equal(t, map[int64][]int64{1: {0, 1, 2}}, dm.Processes)
	assert.Equal(t, map[Thread][]int64{
		{PID: 1, TID: 2}: {0},
		{PID: 1, TID: 3}: {1, 2},
	}, dm.Threads)

	assert.Equal(t, []int64{1, 2}, env.DevicesFor(1, 3))
	assert.Equal(t, []int64{0, 1, 2}, env.DevicesFor(1, 9), "threads without launches inherit the process devices")
	assert.Nil(t, env.DevicesFor(5, 5))

	d, ok := env.Device(1)
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestNVTXExtractor_ThreadDevices(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Kernels: []exporttest.Kernel{
			{Start: 100, End: 200, Device: 0, Stream: 7, Correlation: 1, PID: 1, Name: "gemm0"},
			{Start: 2_000, End: 3_500, Device: 1, Stream: 9, Correlation: 3, PID: 1, Name: "gemm1"},
		},
		Runtime: []exporttest.Runtime{
			{Start: 90, End: 95, PID: 1, TID: 2, Correlation: 1, Name: "cudaLaunchKernel"},
			{Start: 1_900, End: 1_990, PID: 1, TID: 3, Correlation: 3, Name: "cudaLaunchKernel"},
		},
		NVTX: []exporttest.NVTX{
			{Start: 50, End: 1_000, Type: exporttest.NVTXPushPop, Text: "step_gpu0", PID: 1, TID: 2},
			{Start: 1_500, End: 4_000, Type: exporttest.NVTXPushPop, Text: "step_gpu1", PID: 1, TID: 3},
		},
	})
	x, _ := For(types.CategoryNVTX)
	events := run(t, x, ex, env, types.DefaultOptions())
	require.Len(t, events, 2)

	assert.Equal(t, []int64{0}, events[0].DeviceSet())
	assert.True(t, events[1].HasDevice)
	assert.Equal(t, int64(1), events[1].Device)
	assert.Equal(t, []int64{1}, events[1].DeviceSet())
}

func TestLoadNames(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		ThreadNames: []exporttest.ThreadName{{PID: 1, TID: 2, Name: "python"}},
		Processes:   []exporttest.Process{{PID: 1, Name: "train.py"}},
		GPUs:        []exporttest.GPU{{ID: 0, Name: "NVIDIA H100"}},
	})
	names, err := LoadNames(context.Background(), ex, env.Strings)
	require.NoError(t, err)
	assert.Equal(t, "python", names.Threads[types.ThreadKey(1, 2)])
	assert.Equal(t, "train.py", names.Processes[1])
	assert.Equal(t, "NVIDIA H100", names.Devices[0])
}

func TestLoadNames_TablesAbsent(t *testing.T) {
	ex, env := newTestExport(t, exporttest.Fixture{
		Omit: []string{exporttest.TableThreadNames, exporttest.TableProcesses, exporttest.TableGPUs},
	})
	names, err := LoadNames(context.Background(), ex, env.Strings)
	require.NoError(t, err)
	assert.Empty(t, names.Threads)
	assert.Empty(t, names.Processes)
	assert.Empty(t, names.Devices)
}
