package correlate

import (
	"testing"

	"github.com/arkilian/nsys2chrome/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nvtxRange(name string, start, end, device, tid int64) types.NormalizedEvent {
	return types.NormalizedEvent{
		Category:  types.CategoryNVTX,
		Name:      name,
		Timestamp: start,
		Duration:  end - start,
		Phase:     types.PhaseComplete,
		Key:       types.ThreadKey(1, tid),
		Device:    device,
		HasDevice: true,
	}
}

func kernel(name string, start, end, device, corr int64) types.NormalizedEvent {
	return types.NormalizedEvent{
		Category:  types.CategoryKernel,
		Name:      name,
		Timestamp: start,
		Duration:  end - start,
		Phase:     types.PhaseComplete,
		Key:       types.StreamKey(device, 7),
		Device:    device,
		HasDevice: true,
		Args:      map[string]any{"correlationId": corr},
	}
}

func TestCorrelate_ContainedAndPartial(t *testing.T) {
	nvtx := []types.NormalizedEvent{nvtxRange("step", 100, 500, 0, 11)}
	kernels := []types.NormalizedEvent{
		kernel("k1", 120, 200, 0, 1),
		kernel("k2", 450, 600, 0, 2),
	}

	out := Correlate(nvtx, kernels, types.ContainStrict)
	require.Len(t, out, 1)

	ev := out[0]
	assert.Equal(t, types.CategoryNVTXKernel, ev.Category)
	assert.Equal(t, "step", ev.Name)
	assert.Equal(t, int64(120), ev.Timestamp)
	assert.Equal(t, int64(80), ev.Duration)
	assert.Equal(t, types.AnnotationKey(0, 11), ev.Key)
	assert.Equal(t, "k1", ev.Args[ArgKernel])
	assert.Equal(t, int64(100), ev.Args[ArgNVTXStart])
	assert.Equal(t, int64(500), ev.Args[ArgNVTXEnd])
	assert.Equal(t, int64(1), ev.Args[ArgCorrelationID])

	// Sources stay intact.
	assert.Len(t, nvtx, 1)
	assert.Len(t, kernels, 2)
	assert.Equal(t, types.CategoryNVTX, nvtx[0].Category)
}

func TestCorrelate_StartRule(t *testing.T) {
	nvtx := []types.NormalizedEvent{nvtxRange("step", 100, 500, 0, 11)}
	kernels := []types.NormalizedEvent{
		kernel("k1", 120, 200, 0, 1),
		kernel("k2", 450, 600, 0, 2),
		kernel("k3", 500, 510, 0, 3),
	}

	out := Correlate(nvtx, kernels, types.ContainStart)
	require.Len(t, out, 2)
	assert.Equal(t, "k1", out[0].Args[ArgKernel])
	assert.Equal(t, "k2", out[1].Args[ArgKernel])
}

func TestCorrelate_Boundaries(t *testing.T) {
	nvtx := []types.NormalizedEvent{nvtxRange("r", 100, 200, 0, 1)}
	kernels := []types.NormalizedEvent{
		kernel("same-bounds", 100, 200, 0, 1),
		kernel("starts-before", 99, 150, 0, 2),
		kernel("zero-at-end", 200, 200, 0, 3),
	}
	out := Correlate(nvtx, kernels, types.ContainStrict)
	require.Len(t, out, 1)
	assert.Equal(t, "same-bounds", out[0].Args[ArgKernel])
}

func TestCorrelate_DevicesAndMarks(t *testing.T) {
	mark := nvtxRange("mark", 100, 100, 0, 1)
	mark.Phase = types.PhaseInstant
	noDevice := nvtxRange("host-only", 0, 1000, 0, 1)
	noDevice.HasDevice = false

	nvtx := []types.NormalizedEvent{
		mark,
		noDevice,
		nvtxRange("gpu1", 0, 1000, 1, 2),
	}
	kernels := []types.NormalizedEvent{
		kernel("on0", 100, 100, 0, 1),
		kernel("on1", 10, 20, 1, 2),
	}
	out := Correlate(nvtx, kernels, types.ContainStrict)
	require.Len(t, out, 1)
	assert.Equal(t, "gpu1", out[0].Name)
	assert.Equal(t, "on1", out[0].Args[ArgKernel])
	assert.Equal(t, types.AnnotationKey(1, 2), out[0].Key)
}

func TestCorrelate_RangeSpanningDevices(t *testing.T) {
	step := nvtxRange("step", 1_000, 5_000, 0, 3)
	step.Devices = []int64{0, 1}
	nvtx := []types.NormalizedEvent{step}
	kernels := []types.NormalizedEvent{
		kernel("gemm0", 1_200, 1_800, 0, 1),
		kernel("gemm1", 2_000, 3_500, 1, 2),
		kernel("gemm2", 2_000, 3_500, 2, 3),
	}

	out := Correlate(nvtx, kernels, types.ContainStrict)
	require.Len(t, out, 2)
	assert.Equal(t, "gemm0", out[0].Args[ArgKernel])
	assert.Equal(t, types.AnnotationKey(0, 3), out[0].Key)
	assert.Equal(t, "gemm1", out[1].Args[ArgKernel])
	assert.Equal(t, types.AnnotationKey(1, 3), out[1].Key)
	assert.Equal(t, int64(1), out[1].Device)
}

func TestCorrelate_Nested(t *testing.T) {
	nvtx := []types.NormalizedEvent{
		nvtxRange("outer", 0, 1000, 0, 1),
		nvtxRange("inner", 100, 200, 0, 1),
	}
	kernels := []types.NormalizedEvent{kernel("k", 150, 160, 0, 1)}

	out := Correlate(nvtx, kernels, types.ContainStrict)
	require.Len(t, out, 2)
	assert.Equal(t, "inner", out[0].Name)
	assert.Equal(t, "outer", out[1].Name)
}

func TestFlows(t *testing.T) {
	api := []types.NormalizedEvent{
		{Category: types.CategoryCUDAAPI, Name: "cudaLaunchKernel", Timestamp: 10, Duration: 5,
			Phase: types.PhaseComplete, Key: types.ThreadKey(1, 2), Args: map[string]any{"correlationId": int64(9)}},
		{Category: types.CategoryCUDAAPI, Name: "cudaMalloc", Timestamp: 20, Duration: 5,
			Phase: types.PhaseComplete, Key: types.ThreadKey(1, 2)},
	}
	kernels := []types.NormalizedEvent{
		kernel("k", 40, 60, 0, 9),
		kernel("orphan", 70, 80, 0, 10),
	}

	out := Flows(api, kernels)
	require.Len(t, out, 2)
	assert.Equal(t, types.PhaseFlowStart, out[0].Phase)
	assert.Equal(t, types.ThreadKey(1, 2), out[0].Key)
	assert.Equal(t, int64(10), out[0].Timestamp)
	assert.Equal(t, types.PhaseFlowEnd, out[1].Phase)
	assert.Equal(t, types.StreamKey(0, 7), out[1].Key)
	assert.Equal(t, int64(40), out[1].Timestamp)
	for _, ev := range out {
		assert.Equal(t, types.CategoryFlow, ev.Category)
		assert.Equal(t, int64(9), ev.FlowID)
	}
}

// TestProperty_CorrelateMatchesBruteForce checks the sweep against a direct
// pairwise evaluation of the containment rule.
func TestProperty_CorrelateMatchesBruteForce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	build := func(starts, lens []int64, mk func(i int, s, e int64) types.NormalizedEvent) []types.NormalizedEvent {
		n := len(starts)
		if len(lens) < n {
			n = len(lens)
		}
		out := make([]types.NormalizedEvent, n)
		for i := 0; i < n; i++ {
			out[i] = mk(i, starts[i], starts[i]+lens[i])
		}
		return out
	}

	for _, rule := range []types.ContainmentRule{types.ContainStrict, types.ContainStart} {
		rule := rule
		properties.Property("sweep equals pairwise evaluation ("+rule.String()+")", prop.ForAll(
			func(rs, rl, ks, kl []int64) bool {
				nvtx := build(rs, rl, func(i int, s, e int64) types.NormalizedEvent {
					return nvtxRange("r", s, e, int64(i%2), 1)
				})
				kernels := build(ks, kl, func(i int, s, e int64) types.NormalizedEvent {
					return kernel("k", s, e, int64(i%2), int64(i))
				})

				want := 0
				for _, r := range nvtx {
					for _, k := range kernels {
						if r.Device == k.Device && rule.Contains(r.Timestamp, r.End(), k.Timestamp, k.End()) {
							want++
						}
					}
				}

				out := Correlate(nvtx, kernels, rule)
				if len(out) != want {
					return false
				}
				for i, ev := range out {
					ns, _ := ev.Arg(ArgNVTXStart)
					ne, _ := ev.Arg(ArgNVTXEnd)
					if ev.Timestamp < ns || ev.Timestamp >= ne || ev.Duration < 0 {
						return false
					}
					if rule == types.ContainStrict && ev.End() > ne {
						return false
					}
					if i > 0 && out[i-1].Timestamp > ev.Timestamp {
						return false
					}
				}
				return true
			},
			gen.SliceOfN(12, gen.Int64Range(0, 1000)),
			gen.SliceOfN(12, gen.Int64Range(0, 400)),
			gen.SliceOfN(30, gen.Int64Range(0, 1000)),
			gen.SliceOfN(30, gen.Int64Range(0, 100)),
		))
	}

	properties.TestingRun(t)
}
