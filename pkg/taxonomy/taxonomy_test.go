package taxonomy

import (
	"testing"

	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/stretchr/testify/require"
)

func TestMapLabel(t *testing.T) {
	for _, tc := range []struct {
		source string
		raw    string
		label  string
		ok     bool
	}{
		{"imagenet", "n04389033", AFV, true},
		{"imagenet", "n02121808", "", false},
		{"roboflow", "t-72", AFV, true},
		{"roboflow", "bmd-2", AFV, true},
		{"roboflow", "mt-lb", APC, true},
		{"roboflow", "btr-70", APC, true},
		{"roboflow", "T-72", "", false},
		{"openimages", "Tank", AFV, true},
		{"google", "LAV", LAV, true},
		{"google", "MEV", MEV, true},
	} {
		label, ok := MapLabel(tc.source, tc.raw)
		require.Equal(t, tc.ok, ok, "%v %v", tc.source, tc.raw)
		if ok {
			require.Equal(t, tc.label, label, "%v %v", tc.source, tc.raw)
		}
	}
	require.True(t, HasTable("roboflow"))
	require.False(t, HasTable("google"))
}

func TestApply(t *testing.T) {
	samples := []*dataset.Sample{
		{ID: "roboflow/a", Annotations: []dataset.Annotation{{Label: "t-80"}, {Label: "btr-80"}}},
		{ID: "roboflow/b", Annotations: []dataset.Annotation{{Label: "truck"}}},
	}
	mapped, unmapped := Apply("roboflow", samples)
	require.Equal(t, 2, mapped)
	require.Equal(t, 1, unmapped)
	require.Equal(t, []string{AFV, APC}, samples[0].Labels())
	// Unmapped labels survive, for the export whitelist to drop
	require.Equal(t, []string{"truck"}, samples[1].Labels())
}
