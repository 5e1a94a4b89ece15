package v1

import (
	"testing"

	"github.com/pixperk/tabsession/pkg/types"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestChangeSurvivesTheWire(t *testing.T) {
	change := types.Change{
		Key:    "app_session_tab",
		Writer: "tab-2",
		Old:    types.Present("tab-1"),
		New:    types.Absent(),
	}

	data, err := proto.Marshal(NewChange(change))
	assert.NoError(t, err)

	var decoded structpb.Struct
	assert.NoError(t, proto.Unmarshal(data, &decoded))
	assert.Equal(t, change, ParseChange(&decoded))
	assert.False(t, IsReady(&decoded))
}

func TestEmptyStringIsPresent(t *testing.T) {
	assert.Equal(t, types.Present(""), ParseValue(NewValue(types.Present(""))))
	assert.Equal(t, types.Absent(), ParseValue(NewValue(types.Absent())))
}

func TestMissingFieldsReadAsZero(t *testing.T) {
	var empty *structpb.Struct
	assert.Equal(t, "", String(empty, FieldKey))
	assert.False(t, Bool(empty, FieldPresent))
	assert.True(t, IsReady(NewReady()))
	assert.Equal(t, "ctx", String(NewWatchRequest("ctx"), FieldContext))
}
