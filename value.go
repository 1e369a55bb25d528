package paramtree

import (
	"fmt"
)

// Value is the dynamic payload of a node. The concrete types used by the
// tree are:
//
//	int64, float64, string, complex128
//	TriggerSample, CntSample, DemodSample
//	[]byte, []float64
//	EnumValue (produced by the enum parser stage)
//	nil
//
// The core never interprets device specific binary payloads. Vectors are
// carried opaquely together with their optional extra header.
type Value any

// AnnotatedValue is a value together with its originating path and the
// device timestamp at which it was produced.
type AnnotatedValue struct {
	Value       Value
	Path        string
	Timestamp   int64
	ExtraHeader *ExtraHeader
}

func (self AnnotatedValue) String() string {
	return fmt.Sprintf("AnnotatedValue(value=%v, path=%s, timestamp=%d)", self.Value, self.Path, self.Timestamp)
}

// ExtraHeader carries additional information for some vector values.
type ExtraHeader struct {
	Timestamp        uint64
	TriggerTimestamp uint64
	CenterFrequency  float64
	Scaling          float64
}

// TriggerSample is a single trigger event record.
type TriggerSample struct {
	Timestamp      int64
	SampleTick     int64
	Trigger        uint32
	MissedTriggers uint32
	AwgTrigger     uint32
	Dio            uint32
	SequenceIndex  uint32
}

// CntSample is a single counter record.
type CntSample struct {
	Timestamp int64
	Counter   int32
	Trigger   uint32
}

// DemodSample is a fixed-shape demodulator record, one x/y pair per sample.
type DemodSample struct {
	X []float64
	Y []float64
}

// asInt64 reports the integer content of a value, unwrapping enum values.
func asInt64(value Value) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case EnumValue:
		return v.Value, true
	}
	return 0, false
}

// valueEqual compares two values for state matching. Enum values compare
// equal to their integer value and to their keyword.
func valueEqual(a Value, b Value) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
		if bs, ok := b.(string); ok {
			if ae, ok := a.(EnumValue); ok {
				return ae.Name == NormalizePathSegment(bs)
			}
		}
		return false
	}
	if as, ok := a.(string); ok {
		if be, ok := b.(EnumValue); ok {
			return be.Name == NormalizePathSegment(as)
		}
		if bs, ok := b.(string); ok {
			return as == bs
		}
		return false
	}
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		return ok && af == bf
	}
	if ac, ok := a.(complex128); ok {
		bc, ok := b.(complex128)
		return ok && ac == bc
	}
	return false
}
