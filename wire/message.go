package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/attolab/paramtree"
)

// ops
const (
	opAuth              = "auth"
	opListNodes         = "list_nodes"
	opListNodesInfo     = "list_nodes_info"
	opGet               = "get"
	opGetWithExpression = "get_with_expression"
	opSet               = "set"
	opSetWithExpression = "set_with_expression"
	opSubscribe         = "subscribe"
	opUnsubscribe       = "unsubscribe"
	opUpdate            = "update"
	opPing              = "ping"
)

// value type tags
const (
	typeInt           = "int"
	typeDouble        = "double"
	typeString        = "string"
	typeComplex       = "complex"
	typeBytes         = "bytes"
	typeVectorDouble  = "vector_double"
	typeVectorInt     = "vector_int"
	typeDemodSample   = "demod_sample"
	typeTriggerSample = "trigger_sample"
	typeCntSample     = "cnt_sample"
)

// message is one frame in either direction. Requests carry an id that the
// response echoes. Push updates carry the subscription id instead.
type message struct {
	Id             string                        `json:"id,omitempty"`
	Op             string                        `json:"op"`
	Path           string                        `json:"path,omitempty"`
	Flags          int                           `json:"flags,omitempty"`
	Token          string                        `json:"token,omitempty"`
	Value          *wireAnnotatedValue           `json:"value,omitempty"`
	Values         []wireAnnotatedValue          `json:"values,omitempty"`
	Paths          []string                      `json:"paths,omitempty"`
	PathToInfo     map[string]paramtree.NodeInfo `json:"path_to_info,omitempty"`
	SubscriptionId string                        `json:"subscription_id,omitempty"`
	Error          string                        `json:"error,omitempty"`
}

type wireValue struct {
	Type          string                   `json:"type"`
	Int           int64                    `json:"int,omitempty"`
	Double        float64                  `json:"double,omitempty"`
	String        string                   `json:"string,omitempty"`
	Complex       [2]float64               `json:"complex,omitempty"`
	Bytes         string                   `json:"bytes,omitempty"`
	VectorDouble  []float64                `json:"vector_double,omitempty"`
	VectorInt     []int64                  `json:"vector_int,omitempty"`
	DemodSample   *paramtree.DemodSample   `json:"demod_sample,omitempty"`
	TriggerSample *paramtree.TriggerSample `json:"trigger_sample,omitempty"`
	CntSample     *paramtree.CntSample     `json:"cnt_sample,omitempty"`
}

type wireAnnotatedValue struct {
	Path        string                 `json:"path"`
	Timestamp   int64                  `json:"timestamp"`
	Value       wireValue              `json:"value"`
	ExtraHeader *paramtree.ExtraHeader `json:"extra_header,omitempty"`
}

func encodeValue(value paramtree.Value) (wireValue, error) {
	switch v := value.(type) {
	case nil:
		return wireValue{Type: typeInt}, nil
	case paramtree.EnumValue:
		// enums travel as their integer value
		return wireValue{Type: typeInt, Int: v.Value}, nil
	case int:
		return wireValue{Type: typeInt, Int: int64(v)}, nil
	case int32:
		return wireValue{Type: typeInt, Int: int64(v)}, nil
	case int64:
		return wireValue{Type: typeInt, Int: v}, nil
	case float64:
		return wireValue{Type: typeDouble, Double: v}, nil
	case string:
		return wireValue{Type: typeString, String: v}, nil
	case complex128:
		return wireValue{Type: typeComplex, Complex: [2]float64{real(v), imag(v)}}, nil
	case []byte:
		return wireValue{Type: typeBytes, Bytes: base64.StdEncoding.EncodeToString(v)}, nil
	case []float64:
		return wireValue{Type: typeVectorDouble, VectorDouble: v}, nil
	case []int64:
		return wireValue{Type: typeVectorInt, VectorInt: v}, nil
	case paramtree.DemodSample:
		return wireValue{Type: typeDemodSample, DemodSample: &v}, nil
	case paramtree.TriggerSample:
		return wireValue{Type: typeTriggerSample, TriggerSample: &v}, nil
	case paramtree.CntSample:
		return wireValue{Type: typeCntSample, CntSample: &v}, nil
	default:
		return wireValue{}, fmt.Errorf("cannot encode value type %T", value)
	}
}

func decodeValue(value wireValue) (paramtree.Value, error) {
	switch value.Type {
	case typeInt:
		return value.Int, nil
	case typeDouble:
		return value.Double, nil
	case typeString:
		return value.String, nil
	case typeComplex:
		return complex(value.Complex[0], value.Complex[1]), nil
	case typeBytes:
		return base64.StdEncoding.DecodeString(value.Bytes)
	case typeVectorDouble:
		return value.VectorDouble, nil
	case typeVectorInt:
		return value.VectorInt, nil
	case typeDemodSample:
		if value.DemodSample == nil {
			return nil, fmt.Errorf("missing demod sample payload")
		}
		return *value.DemodSample, nil
	case typeTriggerSample:
		if value.TriggerSample == nil {
			return nil, fmt.Errorf("missing trigger sample payload")
		}
		return *value.TriggerSample, nil
	case typeCntSample:
		if value.CntSample == nil {
			return nil, fmt.Errorf("missing cnt sample payload")
		}
		return *value.CntSample, nil
	default:
		return nil, fmt.Errorf("cannot decode value type %q", value.Type)
	}
}

func encodeAnnotatedValue(value paramtree.AnnotatedValue) (*wireAnnotatedValue, error) {
	encoded, err := encodeValue(value.Value)
	if err != nil {
		return nil, err
	}
	return &wireAnnotatedValue{
		Path:        value.Path,
		Timestamp:   value.Timestamp,
		Value:       encoded,
		ExtraHeader: value.ExtraHeader,
	}, nil
}

func decodeAnnotatedValue(value *wireAnnotatedValue) (paramtree.AnnotatedValue, error) {
	if value == nil {
		return paramtree.AnnotatedValue{}, fmt.Errorf("missing value payload")
	}
	decoded, err := decodeValue(value.Value)
	if err != nil {
		return paramtree.AnnotatedValue{}, err
	}
	return paramtree.AnnotatedValue{
		Value:       decoded,
		Path:        value.Path,
		Timestamp:   value.Timestamp,
		ExtraHeader: value.ExtraHeader,
	}, nil
}

func encodeAnnotatedValues(values []paramtree.AnnotatedValue) ([]wireAnnotatedValue, error) {
	encoded := make([]wireAnnotatedValue, 0, len(values))
	for _, value := range values {
		one, err := encodeAnnotatedValue(value)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, *one)
	}
	return encoded, nil
}

func decodeAnnotatedValues(values []wireAnnotatedValue) ([]paramtree.AnnotatedValue, error) {
	decoded := make([]paramtree.AnnotatedValue, 0, len(values))
	for i := range values {
		one, err := decodeAnnotatedValue(&values[i])
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, one)
	}
	return decoded, nil
}
