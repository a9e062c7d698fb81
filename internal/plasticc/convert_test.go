package plasticc

import (
	"testing"

	"github.com/banshee-data/astrolight/internal/catalog"
	"github.com/banshee-data/astrolight/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_SmallCatalog(t *testing.T) {
	cat := testutil.SmallCatalog()

	curves, labels, err := ConvertCatalog(cat, Options{})
	require.NoError(t, err)

	// object 7 has class 99 and is dropped; class 90 -> 1 -> label 0, class 62 -> 2 -> label 1
	require.Len(t, curves, 2)
	assert.Equal(t, []int{0, 1}, labels)

	want := LightCurve{
		MJD:      []float64{100.0, 101.0, 102.0},
		Flux:     []float64{1.0, 5.0, 7.0},
		FluxErr:  []float64{0.1, 0.5, 0.7},
		Passband: []string{"g", "r", "g"},
		PhotFlag: []int{0, 6144, 4096},
		RA:       10.1,
		Decl:     -4.2,
		ObjectID: 5,
		Redshift: 0.11,
		MWEBV:    0.03,
	}
	if diff := cmp.Diff(want, curves[0]); diff != "" {
		t.Errorf("curve mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{0, 0}, curves[1].PhotFlag)
}

func TestConvert_LegacyTriggerPolicy(t *testing.T) {
	curves, _, err := ConvertCatalog(testutil.SmallCatalog(), Options{Trigger: TriggerLegacy})
	require.NoError(t, err)
	require.Len(t, curves, 2)
	// object 11 never crossed the detection threshold
	assert.Equal(t, []int{6144, 0}, curves[1].PhotFlag)
}

func TestConvert_SpecificClasses(t *testing.T) {
	cat := catalog.Catalog{
		Metadata: []catalog.Metadata{
			{ObjectID: 5, Target: 90},
			{ObjectID: 7, Target: 99},
		},
		Observations: []catalog.Observation{
			testutil.Obs(5, 1, 1, 1, true),
			testutil.Obs(7, 1, 1, 1, true),
		},
	}
	curves, labels, err := ConvertCatalog(cat, Options{Classes: catalog.ClassMap{90: 1, 62: 2}})
	require.NoError(t, err)
	require.Len(t, curves, 1)
	assert.Equal(t, int64(5), curves[0].ObjectID)
	assert.Equal(t, []int{0}, labels)
}

func TestConvert_EmptyMapsProduceEmptyOutput(t *testing.T) {
	cat := testutil.SmallCatalog()

	curves, labels, err := ConvertCatalog(cat, Options{Classes: catalog.ClassMap{}})
	require.NoError(t, err)
	assert.Empty(t, curves)
	assert.Empty(t, labels)

	curves, labels, err = ConvertCatalog(cat, Options{Bands: catalog.BandMap{}, SkipEmptyCurves: true})
	require.NoError(t, err)
	assert.Empty(t, curves)
	assert.Empty(t, labels)
}

func TestConvert_MissingObservations(t *testing.T) {
	cat := testutil.SmallCatalog()
	cat.Metadata = append(cat.Metadata, catalog.Metadata{ObjectID: 99, Target: 42})

	_, _, err := ConvertCatalog(cat, Options{})
	assert.ErrorIs(t, err, ErrNoObservations)

	curves, labels, err := ConvertCatalog(cat, Options{SkipEmptyCurves: true})
	require.NoError(t, err)
	assert.Len(t, curves, 2)
	assert.Len(t, labels, 2)
}

func TestConvert_RecordsAndLabelsAligned(t *testing.T) {
	cat := testutil.SequentialCatalog(20)
	cat.Metadata[3].Target = 62
	cat.Metadata[9].Target = 15

	curves, labels, err := ConvertCatalog(cat, Options{})
	require.NoError(t, err)
	require.Equal(t, len(curves), len(labels))
	require.Len(t, curves, 20)
	for i, lc := range curves {
		assert.Equal(t, int64(i+1), lc.ObjectID, "metadata order is preserved")
	}
	assert.Equal(t, 1, labels[3])
	assert.Equal(t, 7, labels[9])
}

func TestConvert_SampleFraction(t *testing.T) {
	cat := testutil.SequentialCatalog(40)
	opts := Options{SampleFraction: 0.75, Seed: 7}

	first, labels, err := ConvertCatalog(cat, opts)
	require.NoError(t, err)
	require.Len(t, first, 30)
	require.Len(t, labels, 30)

	second, _, err := ConvertCatalog(cat, opts)
	require.NoError(t, err)
	ids := func(curves []LightCurve) []int64 {
		out := make([]int64, len(curves))
		for i, c := range curves {
			out[i] = c.ObjectID
		}
		return out
	}
	assert.Equal(t, ids(first), ids(second), "same seed gives the same subsample")
	assert.IsIncreasing(t, ids(first))

	seen := map[int64]bool{}
	for _, id := range ids(first) {
		assert.False(t, seen[id], "sampled without replacement")
		seen[id] = true
	}
}

func TestSampleRows_Rounding(t *testing.T) {
	assert.Equal(t, []int{0}, sampleRows(1, 0.75, 3), "a lone object survives a large fraction")
	assert.Empty(t, sampleRows(1, 0.25, 3))
	assert.Len(t, sampleRows(10, 0.25, 3), 2, "2.5 rounds half to even")
	assert.Len(t, sampleRows(10, 0.38, 3), 4)
	assert.Len(t, sampleRows(5, 0, 3), 5)
	assert.Len(t, sampleRows(5, 1, 3), 5)
}

func TestConvert_DoesNotMutateInput(t *testing.T) {
	cat := testutil.SmallCatalog()
	before := testutil.SmallCatalog()

	_, _, err := ConvertCatalog(cat, Options{Classes: catalog.ClassMap{90: 2, 62: 1}})
	require.NoError(t, err)
	if diff := cmp.Diff(before, cat); diff != "" {
		t.Errorf("input catalog mutated (-before +after):\n%s", diff)
	}
}

func TestLightCurveTuple(t *testing.T) {
	lc := LightCurve{MJD: []float64{1}, ObjectID: 3, Redshift: 0.5}
	tuple := lc.Tuple()
	require.Len(t, tuple, 10)
	assert.Equal(t, []float64{1}, tuple[0])
	assert.Equal(t, int64(3), tuple[7])
	assert.Equal(t, 0.5, tuple[8])
	assert.Equal(t, 1, lc.Len())
}
