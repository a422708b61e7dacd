package types

import "fmt"

// TrackKind namespaces raw identifiers so that, for example, a thread id and
// a device id with the same numeric value never share a track.
type TrackKind uint8

const (
	KindProcess TrackKind = iota + 1
	KindThread
	KindDevice
	KindStream
	// KindAnnotationLane is the per-device lane that carries nvtx-kernel
	// events for one host thread.
	KindAnnotationLane
)

func (k TrackKind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindThread:
		return "thread"
	case KindDevice:
		return "device"
	case KindStream:
		return "stream"
	case KindAnnotationLane:
		return "annotation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsGroup reports whether tracks of this kind group lanes (a Chrome "pid").
func (k TrackKind) IsGroup() bool {
	return k == KindProcess || k == KindDevice
}

// TrackKey is the raw identity of a timeline lane.
//
//	KindProcess:        A = pid
//	KindThread:         A = pid,    B = tid
//	KindDevice:         A = device
//	KindStream:         A = device, B = stream
//	KindAnnotationLane: A = device, B = tid
type TrackKey struct {
	Kind TrackKind
	A    int64
	B    int64
}

// ThreadKey returns the key of a host thread lane.
func ThreadKey(pid, tid int64) TrackKey {
	return TrackKey{Kind: KindThread, A: pid, B: tid}
}

// StreamKey returns the key of a GPU stream lane.
func StreamKey(device, stream int64) TrackKey {
	return TrackKey{Kind: KindStream, A: device, B: stream}
}

// AnnotationKey returns the key of the nvtx-kernel lane for a host thread
// on a device.
func AnnotationKey(device, tid int64) TrackKey {
	return TrackKey{Kind: KindAnnotationLane, A: device, B: tid}
}

// Parent returns the group a lane belongs to. Groups are their own parent.
func (k TrackKey) Parent() TrackKey {
	switch k.Kind {
	case KindThread:
		return TrackKey{Kind: KindProcess, A: k.A}
	case KindStream, KindAnnotationLane:
		return TrackKey{Kind: KindDevice, A: k.A}
	default:
		return TrackKey{Kind: k.Kind, A: k.A}
	}
}

// Less orders keys by kind, then A, then B.
func (k TrackKey) Less(o TrackKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.A != o.A {
		return k.A < o.A
	}
	return k.B < o.B
}

func (k TrackKey) String() string {
	if k.Kind.IsGroup() {
		return fmt.Sprintf("%s:%d", k.Kind, k.A)
	}
	return fmt.Sprintf("%s:%d/%d", k.Kind, k.A, k.B)
}

// Track is one logical timeline lane with a stable id and display name.
type Track struct {
	// ID is stable for the lifetime of one conversion
	ID int `json:"id"`

	// Key is the raw identity the track was created for
	Key TrackKey `json:"-"`

	// Name is the resolved or synthesized display name
	Name string `json:"name"`

	// ParentID is the id of the group track; equal to ID for groups
	ParentID int `json:"parent_id"`
}
