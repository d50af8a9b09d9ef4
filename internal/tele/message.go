package tele

import (
	"time"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/juju/errors"
)

// denote value type in persistent queue bytes form
const (
	qState byte = 1
	qEvent byte = 2
)

// Message field names, wire payload is protobuf Struct.
const (
	FieldKind  = "kind"
	FieldTime  = "time"
	FieldBuild = "build"
	FieldState = "state"
	FieldError = "error"
	FieldName  = "name"
	FieldValue = "value"
)

const (
	KindState      = "state"
	KindError      = "error"
	KindPreference = "preference"
)

func pbString(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func pbNumber(f float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: f}}
}

func newMessage(kind, build string, t time.Time) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldKind:  pbString(kind),
		FieldTime:  pbNumber(float64(t.Unix())),
		FieldBuild: pbString(build),
	}}
}

// ParsePayload decodes wire payload, used by tests and diagnostic tools.
func ParsePayload(b []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, errors.Annotate(err, "tele payload")
	}
	return &s, nil
}

// StringField returns empty string for absent or non-string field.
func StringField(s *structpb.Struct, name string) string {
	if v, ok := s.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func NumberField(s *structpb.Struct, name string) float64 {
	if v, ok := s.GetFields()[name]; ok {
		return v.GetNumberValue()
	}
	return 0
}
