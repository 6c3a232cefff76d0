package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamSchemaV1_Filter(t *testing.T) {
	raw := map[string]any{
		"size_mm":   100.0,
		"invert":    false,
		"sharpness": 3,   // unknown
		"bevel":     0.5, // unknown
	}

	kept, dropped := ParamSchemaV1.Filter(raw)

	assert.Equal(t, map[string]any{"size_mm": 100.0, "invert": false}, kept)
	assert.Equal(t, []string{"bevel", "sharpness"}, dropped, "dropped keys are sorted")

	// Input untouched.
	assert.Len(t, raw, 4)
}

func TestReliefParamsFrom_Defaults(t *testing.T) {
	p, err := ReliefParamsFrom(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, DefaultReliefParams(), p)
}

func TestReliefParamsFrom_StringCoercion(t *testing.T) {
	// Multipart form fields arrive as strings.
	p, err := ReliefParamsFrom(map[string]any{
		"size_mm":   "120.5",
		"thickness": "3",
		"relief":    "6.25",
		"invert":    "false",
		"mode":      "emboss",
	})
	require.NoError(t, err)

	assert.Equal(t, 120.5, p.SizeMM)
	assert.Equal(t, 3.0, p.Thickness)
	assert.Equal(t, 6.25, p.Relief)
	assert.False(t, p.Invert)
	assert.Equal(t, "emboss", p.Mode)
}

func TestReliefParamsFrom_MaxHeightAlias(t *testing.T) {
	// Submission forms send max_height; it must set the relief height, not
	// fall through to the default.
	kept, dropped := ParamSchemaV1.Filter(map[string]any{"max_height": "9"})
	assert.NotContains(t, dropped, "max_height")

	p, err := ReliefParamsFrom(kept)
	require.NoError(t, err)
	assert.Equal(t, 9.0, p.Relief)

	// relief wins when both arrive.
	p, err = ReliefParamsFrom(map[string]any{"relief": 5.0, "max_height": 9.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Relief)

	_, err = ReliefParamsFrom(map[string]any{"max_height": "tall"})
	assert.Error(t, err)
	_, err = ReliefParamsFrom(map[string]any{"max_height": -2.0})
	assert.Error(t, err)
}

func TestReliefParamsFrom_Invalid(t *testing.T) {
	cases := []map[string]any{
		{"size_mm": "not-a-number"},
		{"size_mm": -10.0},
		{"thickness": 0.0},
		{"relief": "-1"},
		{"invert": "maybe"},
		{"mode": ""},
	}
	for _, raw := range cases {
		_, err := ReliefParamsFrom(raw)
		assert.Error(t, err, "raw=%v", raw)
	}
}

func TestReliefParams_DimensionsMM(t *testing.T) {
	p := ReliefParams{SizeMM: 80, Thickness: 2, Relief: 4}
	assert.Equal(t, [3]float64{80, 80, 6}, p.DimensionsMM())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}
