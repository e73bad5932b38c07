package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRequestStatus_LegacyDone(t *testing.T) {
	assert.True(t, StatusDone.IsCompleted())
	assert.True(t, StatusCompleted.IsCompleted())
	assert.False(t, StatusPending.IsCompleted())
	assert.Equal(t, StatusCompleted, StatusDone.Normalized())
	assert.True(t, StatusInProgress.IsOpen())
	assert.False(t, StatusCancelled.IsOpen())
	assert.False(t, RequestStatus("archived").Valid())
}

func TestServiceOption_ImageRequirement(t *testing.T) {
	form := ServiceOption{OptionType: OptionForm}
	assert.Equal(t, ImageOptional, form.ImageRequirement(), "missing value defaults to optional")

	form.Config = datatypes.NewJSONType(OptionConfig{IssueImage: ImageRequired})
	assert.Equal(t, ImageRequired, form.ImageRequirement())

	form.Config = datatypes.NewJSONType(OptionConfig{IssueImage: "mandatory"})
	assert.Equal(t, ImageOptional, form.ImageRequirement(), "unknown value defaults to optional")

	rules := ServiceOption{OptionType: OptionRules, Config: datatypes.NewJSONType(OptionConfig{IssueImage: ImageRequired})}
	assert.Equal(t, ImageNone, rules.ImageRequirement())
}

func TestWeekdaySet_Parse(t *testing.T) {
	set, err := ParseWeekdaySet(" 1, 2,3 ,,5,1")
	require.NoError(t, err)
	assert.Equal(t, WeekdaySet{1, 2, 3, 5}, set)
	assert.Equal(t, "Mon, Tue, Wed, Fri", set.Names())
	assert.True(t, set.Contains(5))
	assert.False(t, set.Contains(0))

	_, err = ParseWeekdaySet("1,9")
	assert.Error(t, err)

	empty, err := ParseWeekdaySet("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestWeekdaySet_ValueScan(t *testing.T) {
	v, err := WeekdaySet{1, 2, 3}.Value()
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", v)

	v, err = WeekdaySet(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var s WeekdaySet
	require.NoError(t, s.Scan([]byte("0,6")))
	assert.Equal(t, WeekdaySet{0, 6}, s)
	require.NoError(t, s.Scan(nil))
	assert.Nil(t, s)
}

func TestWeekdaySet_ScanKeepsRowsReadable(t *testing.T) {
	var s WeekdaySet
	require.NoError(t, s.Scan("1,2,7"))
	assert.Equal(t, WeekdaySet{1, 2, InvalidWeekday}, s)
	assert.True(t, s.HasInvalid())
	assert.Equal(t, "Mon, Tue", s.Names())

	require.NoError(t, s.Scan([]byte("Mon,Tue")))
	assert.Equal(t, WeekdaySet{InvalidWeekday}, s)
	for day := 0; day <= 6; day++ {
		assert.False(t, s.Contains(day), day)
	}

	require.NoError(t, s.Scan("1;2"))
	assert.Equal(t, WeekdaySet{InvalidWeekday}, s)

	// writes stay strict
	_, err := ParseWeekdaySet("1,2,7")
	assert.Error(t, err)
}

func TestWeekdaySet_JSON(t *testing.T) {
	var payload struct {
		Days WeekdaySet `json:"days"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"days":"1,2,3,4,5"}`), &payload))
	assert.Equal(t, WeekdaySet{1, 2, 3, 4, 5}, payload.Days)

	require.NoError(t, json.Unmarshal([]byte(`{"days":[0,6]}`), &payload))
	assert.Equal(t, WeekdaySet{0, 6}, payload.Days)

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"days":"0,6"}`, string(out))
}
