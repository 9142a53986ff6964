package edits

import (
	"errors"
	"math"
	"testing"

	"github.com/dunamismax/imagehandler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func noSize(t *testing.T) SizeFunc {
	return func() (int, int, error) {
		t.Fatal("intrinsic size must not be queried")
		return 0, 0, nil
	}
}

func fixedSize(w, h int) SizeFunc {
	return func() (int, int, error) { return w, h, nil }
}

func TestParseToken(t *testing.T) {
	tt := []struct {
		token  string
		width  string
		height string
	}{
		{"300X200", "300", "200"},
		{"300x200", "300", "200"},
		{"300X", "300", ""},
		{"X200", "", "200"},
		{"300", "300", ""},
	}

	for _, tc := range tt {
		t.Run(tc.token, func(t *testing.T) {
			set := ParseToken(tc.token)
			require.NotNil(t, set)
			require.NotNil(t, set.Resize)
			assert.Equal(t, tc.width, set.Resize.Width)
			assert.Equal(t, tc.height, set.Resize.Height)
			assert.Equal(t, FitInside, set.Resize.Fit)
			assert.Empty(t, set.Resize.Ratio)
			assert.Equal(t, 1, set.Len())
		})
	}

	assert.Nil(t, ParseToken(""))
	assert.True(t, ParseToken("").Empty())
}

func TestBuild(t *testing.T) {
	set, err := Build("300X200", Options{Fit: "COVER", Ratio: "0.5"})
	require.NoError(t, err)
	assert.Equal(t, FitCover, set.Resize.Fit)
	assert.Equal(t, "0.5", set.Resize.Ratio)
	assert.Equal(t, "300X200", set.String())

	set, err = Build("", Options{Ratio: "2"})
	require.NoError(t, err)
	require.NotNil(t, set.Resize)
	assert.Equal(t, FitInside, set.Resize.Fit)
	assert.Equal(t, "2", set.Resize.Ratio)

	set, err = Build("", Options{})
	require.NoError(t, err)
	assert.Nil(t, set)

	_, err = Build("300X200", Options{Fit: "stretch"})
	assert.ErrorIs(t, err, domain.ErrInvalidEdit)
}

func TestResolveResizeWithoutEdit(t *testing.T) {
	r, err := ResolveResize(nil, noSize(t))
	require.NoError(t, err)
	assert.Nil(t, r.Width)
	assert.Nil(t, r.Height)
	assert.Equal(t, FitInside, r.Fit)
}

func TestResolveResizeRoundsDimensions(t *testing.T) {
	r, err := ResolveResize(&ResizeEdit{Width: "300.4", Height: "199.5"}, noSize(t))
	require.NoError(t, err)
	assert.Equal(t, 300, *r.Width)
	assert.Equal(t, 200, *r.Height)
	assert.Equal(t, FitInside, r.Fit)
}

func TestResolveResizeToleratesMissingDimension(t *testing.T) {
	r, err := ResolveResize(&ResizeEdit{Width: "300", Fit: FitInside}, noSize(t))
	require.NoError(t, err)
	assert.Equal(t, 300, *r.Width)
	assert.Nil(t, r.Height)
}

func TestResolveResizeRatioUsesExplicitDimensions(t *testing.T) {
	r, err := ResolveResize(&ResizeEdit{Width: "100", Height: "50", Ratio: "2"}, noSize(t))
	require.NoError(t, err)
	assert.Equal(t, 200, *r.Width)
	assert.Equal(t, 100, *r.Height)
	assert.Equal(t, FitInside, r.Fit)
}

func TestResolveResizeRatioFallsBackToIntrinsicSize(t *testing.T) {
	queried := 0
	size := func() (int, int, error) {
		queried++
		return 640, 480, nil
	}

	r, err := ResolveResize(&ResizeEdit{Width: "100", Ratio: "0.5", Fit: FitCover}, size)
	require.NoError(t, err)
	assert.Equal(t, 1, queried)
	assert.Equal(t, 320, *r.Width)
	assert.Equal(t, 240, *r.Height)
	assert.Equal(t, FitCover, r.Fit)
}

func TestResolveResizeRatioSizeError(t *testing.T) {
	_, err := ResolveResize(&ResizeEdit{Ratio: "2"}, func() (int, int, error) {
		return 0, 0, errors.New("no header")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestResolveResizeRejectsNonNumeric(t *testing.T) {
	inputs := []ResizeEdit{
		{Width: "abc"},
		{Height: "12px"},
		{Width: "10", Height: "10", Ratio: "half"},
		{Width: "NaN"},
		{Width: "Inf"},
	}

	for _, in := range inputs {
		in := in
		_, err := ResolveResize(&in, fixedSize(10, 10))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidEdit)
	}
}

func TestResolveResizePassesThroughNonPositive(t *testing.T) {
	r, err := ResolveResize(&ResizeEdit{Width: "0", Height: "-20"}, noSize(t))
	require.NoError(t, err)
	assert.Equal(t, 0, *r.Width)
	assert.Equal(t, -20, *r.Height)

	r, err = ResolveResize(&ResizeEdit{Width: "-2.5"}, noSize(t))
	require.NoError(t, err)
	assert.Equal(t, -2, *r.Width)
}

func TestResolveResizeSaturatesHugeValues(t *testing.T) {
	r, err := ResolveResize(&ResizeEdit{Width: "1e19", Height: "-1e19"}, noSize(t))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, *r.Width)
	assert.Equal(t, math.MinInt32, *r.Height)

	r, err = ResolveResize(&ResizeEdit{Ratio: "1e300"}, fixedSize(640, 480))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, *r.Width)
	assert.Equal(t, math.MaxInt32, *r.Height)

	_, err = Plan(640, 480, r)
	assert.ErrorContains(t, err, "exceeds the maximum")
}

func TestOperations(t *testing.T) {
	ops, err := Operations(nil, noSize(t))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	op, ok := ops[0].(ResizeOp)
	require.True(t, ok)
	assert.Equal(t, FitInside, op.Resize.Fit)

	ops, err = Operations(&EditSet{Resize: &ResizeEdit{Width: "10", Height: "20", Ratio: "3"}}, noSize(t))
	require.NoError(t, err)
	op = ops[0].(ResizeOp)
	assert.Equal(t, 30, *op.Resize.Width)
	assert.Equal(t, 60, *op.Resize.Height)

	_, err = Operations(&EditSet{Resize: &ResizeEdit{Width: "wide"}}, noSize(t))
	assert.ErrorIs(t, err, domain.ErrInvalidEdit)
}

func TestParseFit(t *testing.T) {
	for _, name := range []string{"inside", "cover", "contain", "outside", "fill", " Inside "} {
		_, err := ParseFit(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseFit("crop")
	assert.ErrorIs(t, err, domain.ErrInvalidEdit)
}
