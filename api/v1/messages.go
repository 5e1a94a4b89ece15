package v1

import (
	"github.com/pixperk/tabsession/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// field names used inside the Struct messages
const (
	FieldContext    = "context"
	FieldKey        = "key"
	FieldValue      = "value"
	FieldPresent    = "present"
	FieldWriter     = "writer"
	FieldOld        = "old"
	FieldOldPresent = "old_present"
	FieldNew        = "new"
	FieldNewPresent = "new_present"
	FieldReady      = "ready"
)

func fields(m map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: m}
}

// Get and Remove request
func NewKeyRequest(contextID, key string) *structpb.Struct {
	return fields(map[string]*structpb.Value{
		FieldContext: structpb.NewStringValue(contextID),
		FieldKey:     structpb.NewStringValue(key),
	})
}

func NewSetRequest(contextID, key, value string) *structpb.Struct {
	return fields(map[string]*structpb.Value{
		FieldContext: structpb.NewStringValue(contextID),
		FieldKey:     structpb.NewStringValue(key),
		FieldValue:   structpb.NewStringValue(value),
	})
}

func NewWatchRequest(contextID string) *structpb.Struct {
	return fields(map[string]*structpb.Value{
		FieldContext: structpb.NewStringValue(contextID),
	})
}

// Get response
func NewValue(v types.Value) *structpb.Struct {
	return fields(map[string]*structpb.Value{
		FieldValue:   structpb.NewStringValue(v.Data),
		FieldPresent: structpb.NewBoolValue(v.Set),
	})
}

func ParseValue(s *structpb.Struct) types.Value {
	if !Bool(s, FieldPresent) {
		return types.Absent()
	}
	return types.Present(String(s, FieldValue))
}

// first message of every Watch stream, sent once the server listens
func NewReady() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		FieldReady: structpb.NewBoolValue(true),
	})
}

func IsReady(s *structpb.Struct) bool {
	return Bool(s, FieldReady)
}

// Watch stream message
func NewChange(c types.Change) *structpb.Struct {
	return fields(map[string]*structpb.Value{
		FieldKey:        structpb.NewStringValue(c.Key),
		FieldWriter:     structpb.NewStringValue(c.Writer),
		FieldOld:        structpb.NewStringValue(c.Old.Data),
		FieldOldPresent: structpb.NewBoolValue(c.Old.Set),
		FieldNew:        structpb.NewStringValue(c.New.Data),
		FieldNewPresent: structpb.NewBoolValue(c.New.Set),
	})
}

func ParseChange(s *structpb.Struct) types.Change {
	c := types.Change{
		Key:    String(s, FieldKey),
		Writer: String(s, FieldWriter),
	}
	if Bool(s, FieldOldPresent) {
		c.Old = types.Present(String(s, FieldOld))
	}
	if Bool(s, FieldNewPresent) {
		c.New = types.Present(String(s, FieldNew))
	}
	return c
}

// String reads a string field, "" when missing or of another kind.
func String(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// Bool reads a bool field, false when missing or of another kind.
func Bool(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}
