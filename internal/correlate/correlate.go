// Package correlate derives events that relate one category to another:
// annotation ranges projected onto the kernels they bracket, and flow
// arrows from API calls to the kernels they launched.
package correlate

import (
	"sort"

	"github.com/arkilian/nsys2chrome/pkg/types"
)

// Argument keys on derived nvtx-kernel events.
const (
	ArgKernel        = "kernel"
	ArgNVTXStart     = "nvtx_start_ns"
	ArgNVTXEnd       = "nvtx_end_ns"
	ArgCorrelationID = "correlationId"
)

// Correlate emits one nvtx-kernel event for every (range, kernel) pair on
// the same device where the range contains the kernel under rule. A range is
// tried against every device in its DeviceSet. Marks and ranges without a
// device never match. Inputs are not modified.
func Correlate(nvtx, kernels []types.NormalizedEvent, rule types.ContainmentRule) []types.NormalizedEvent {
	ranges := make(map[int64][]*types.NormalizedEvent)
	for i := range nvtx {
		ev := &nvtx[i]
		if !ev.Interval() {
			continue
		}
		for _, d := range ev.DeviceSet() {
			ranges[d] = append(ranges[d], ev)
		}
	}
	byDevice := make(map[int64][]*types.NormalizedEvent)
	for i := range kernels {
		k := &kernels[i]
		if !k.HasDevice {
			continue
		}
		byDevice[k.Device] = append(byDevice[k.Device], k)
	}

	var out []types.NormalizedEvent
	for device, rs := range ranges {
		ks := byDevice[device]
		if len(ks) == 0 {
			continue
		}
		sort.SliceStable(ks, func(i, j int) bool { return ks[i].Timestamp < ks[j].Timestamp })
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp < rs[j].Timestamp })

		for _, r := range rs {
			rEnd := r.End()
			first := sort.Search(len(ks), func(i int) bool { return ks[i].Timestamp >= r.Timestamp })
			for _, k := range ks[first:] {
				if k.Timestamp >= rEnd {
					break
				}
				if !rule.Contains(r.Timestamp, rEnd, k.Timestamp, k.End()) {
					continue
				}
				out = append(out, derive(r, k, device))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Device != b.Device {
			return a.Device < b.Device
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Key.B != b.Key.B {
			return a.Key.B < b.Key.B
		}
		as, _ := a.Arg(ArgNVTXStart)
		bs, _ := b.Arg(ArgNVTXStart)
		if as != bs {
			return as < bs
		}
		return a.Args[ArgKernel].(string) < b.Args[ArgKernel].(string)
	})
	return out
}

func derive(r, k *types.NormalizedEvent, device int64) types.NormalizedEvent {
	args := map[string]any{
		ArgKernel:    k.Name,
		ArgNVTXStart: r.Timestamp,
		ArgNVTXEnd:   r.End(),
	}
	if corr, ok := k.Arg(ArgCorrelationID); ok {
		args[ArgCorrelationID] = corr
	}
	return types.NormalizedEvent{
		Category:  types.CategoryNVTXKernel,
		Name:      r.Name,
		Timestamp: k.Timestamp,
		Duration:  k.Duration,
		Phase:     types.PhaseComplete,
		Key:       types.AnnotationKey(device, r.Key.B),
		Device:    device,
		HasDevice: true,
		Args:      args,
		Color:     r.Color,
	}
}

// Flows links every kernel to the API call with the same correlation id
// through a flow-start on the call and a flow-end on the kernel.
func Flows(api, kernels []types.NormalizedEvent) []types.NormalizedEvent {
	calls := make(map[int64]*types.NormalizedEvent, len(api))
	for i := range api {
		a := &api[i]
		corr, ok := a.Arg(ArgCorrelationID)
		if !ok {
			continue
		}
		if cur, seen := calls[corr]; !seen || a.Timestamp < cur.Timestamp {
			calls[corr] = a
		}
	}

	var out []types.NormalizedEvent
	for i := range kernels {
		k := &kernels[i]
		corr, ok := k.Arg(ArgCorrelationID)
		if !ok {
			continue
		}
		call, ok := calls[corr]
		if !ok {
			continue
		}
		out = append(out,
			types.NormalizedEvent{
				Category:  types.CategoryFlow,
				Name:      call.Name,
				Timestamp: call.Timestamp,
				Phase:     types.PhaseFlowStart,
				Key:       call.Key,
				FlowID:    corr,
			},
			types.NormalizedEvent{
				Category:  types.CategoryFlow,
				Name:      call.Name,
				Timestamp: k.Timestamp,
				Phase:     types.PhaseFlowEnd,
				Key:       k.Key,
				Device:    k.Device,
				HasDevice: k.HasDevice,
				FlowID:    corr,
			})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FlowID != out[j].FlowID {
			return out[i].FlowID < out[j].FlowID
		}
		return out[i].Phase < out[j].Phase
	})
	return out
}
