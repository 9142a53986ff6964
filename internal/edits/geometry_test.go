package edits

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tt := []struct {
		srcW, srcH int
		resize     Resize
		want       Geometry
	}{
		{640, 480, Resize{Fit: FitInside}, Geometry{640, 480, 640, 480, FitInside}},
		{640, 480, Resize{Width: intPtr(320), Fit: FitInside}, Geometry{320, 240, 320, 240, FitInside}},
		{640, 480, Resize{Height: intPtr(120), Fit: FitCover}, Geometry{160, 120, 160, 120, FitCover}},
		{640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitInside}, Geometry{267, 200, 267, 200, FitInside}},
		{640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitOutside}, Geometry{300, 225, 300, 225, FitOutside}},
		{640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitCover}, Geometry{300, 225, 300, 200, FitCover}},
		{640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitContain}, Geometry{267, 200, 300, 200, FitContain}},
		{640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitFill}, Geometry{300, 200, 300, 200, FitFill}},
		{100, 100, Resize{Width: intPtr(400), Height: intPtr(200), Fit: FitInside}, Geometry{200, 200, 200, 200, FitInside}},
		{1000, 1, Resize{Width: intPtr(10)}, Geometry{10, 1, 10, 1, FitInside}},
	}

	for _, tc := range tt {
		name := fmt.Sprintf("%dx%d->%s", tc.srcW, tc.srcH, tc.want.Fit)
		t.Run(name, func(t *testing.T) {
			got, err := Plan(tc.srcW, tc.srcH, tc.resize)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPlanInsideStaysWithinBox(t *testing.T) {
	for _, src := range [][2]int{{640, 480}, {480, 640}, {1000, 333}, {17, 911}} {
		g, err := Plan(src[0], src[1], Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitInside})
		require.NoError(t, err)
		assert.LessOrEqual(t, g.Width, 300)
		assert.LessOrEqual(t, g.Height, 200)
		assert.False(t, g.Crops())
		assert.False(t, g.Embeds())
	}
}

func TestPlanOffsets(t *testing.T) {
	cover, err := Plan(640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitCover})
	require.NoError(t, err)
	assert.True(t, cover.Crops())
	x, y := cover.Offset()
	assert.Equal(t, 0, x)
	assert.Equal(t, 12, y)

	contain, err := Plan(640, 480, Resize{Width: intPtr(300), Height: intPtr(200), Fit: FitContain})
	require.NoError(t, err)
	assert.True(t, contain.Embeds())
	x, y = contain.Offset()
	assert.Equal(t, 16, x)
	assert.Equal(t, 0, y)
}

func TestPlanRejectsNonPositive(t *testing.T) {
	_, err := Plan(640, 480, Resize{Width: intPtr(0)})
	assert.ErrorContains(t, err, "width")

	_, err = Plan(640, 480, Resize{Width: intPtr(10), Height: intPtr(-3)})
	assert.ErrorContains(t, err, "height")

	_, err = Plan(0, 480, Resize{})
	assert.Error(t, err)
}

func TestPlanRejectsOversized(t *testing.T) {
	_, err := Plan(640, 480, Resize{Width: intPtr(MaxDimension + 1)})
	assert.ErrorContains(t, err, "width")

	_, err = Plan(640, 480, Resize{Height: intPtr(MaxDimension + 1)})
	assert.ErrorContains(t, err, "height")

	_, err = Plan(640, 480, Resize{Width: intPtr(MaxDimension), Height: intPtr(1), Fit: FitFill})
	assert.NoError(t, err)
}

func TestGeometryResamples(t *testing.T) {
	g, err := Plan(640, 480, Resize{})
	require.NoError(t, err)
	assert.False(t, g.Resamples(640, 480))

	g, err = Plan(640, 480, Resize{Width: intPtr(64)})
	require.NoError(t, err)
	assert.True(t, g.Resamples(640, 480))
}
