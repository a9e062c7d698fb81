package catalog

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metadataFixture = `object_id,ra,decl,gal_l,gal_b,ddf,hostgal_specz,hostgal_photz,hostgal_photz_err,distmod,mwebv,target
615,349.046051,-61.943836,320.796530,-51.753706,1,0.0000,0.0000,0.0000,,0.017,92
713,53.085938,-27.784405,223.525509,-54.460748,1,1.8181,1.6267,0.2552,45.4063,0.007,88
`

const curvesFixture = `object_id,mjd,passband,flux,flux_err,detected
615,59750.4229,2,-544.810303,3.622952,1
615,59750.4306,1,-816.434326,5.553370,1
713,59825.2600,3,4.378110,1.987416,0
`

func TestReadMetadataCSV(t *testing.T) {
	meta, err := ReadMetadataCSV(strings.NewReader(metadataFixture))
	require.NoError(t, err)
	require.Len(t, meta, 2)

	assert.Equal(t, int64(615), meta[0].ObjectID)
	assert.Equal(t, 1, meta[0].DDF)
	assert.Equal(t, 92, meta[0].Target)
	assert.True(t, math.IsNaN(meta[0].Distmod), "blank distmod decodes to NaN")
	assert.Zero(t, meta[0].HostgalSpecz)
	assert.InDelta(t, 45.4063, meta[1].Distmod, 1e-9)
	assert.InDelta(t, 1.8181, meta[1].HostgalSpecz, 1e-9)
}

func TestReadMetadataCSV_BlankCellsAreNaN(t *testing.T) {
	const table = `object_id,ra,decl,ddf,hostgal_specz,hostgal_photz,hostgal_photz_err,distmod,mwebv,target
713,53.085938,-27.784405,1,,1.6267,0.2552,45.4063,0.007,88
615,349.046051,-61.943836,1,0.0000,0.0000,0.0000,,0.017,92
`
	meta, err := ReadMetadataCSV(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, meta, 2)

	assert.True(t, math.IsNaN(meta[0].HostgalSpecz), "no spectroscopic redshift")
	assert.InDelta(t, 1.6267, meta[0].HostgalPhotz, 1e-9)
	assert.True(t, math.IsNaN(meta[1].Distmod), "galactic object has no distance modulus")
	assert.Zero(t, meta[1].HostgalSpecz)

	var buf bytes.Buffer
	require.NoError(t, WriteMetadataCSV(&buf, meta))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "713,53.085938,-27.784405,1,,1.6267,0.2552,45.4063,0.007,88", lines[1])

	again, err := ReadMetadataCSV(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(meta, again, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("metadata round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMetadataCSV_AbsentOptionalColumns(t *testing.T) {
	meta, err := ReadMetadataCSV(strings.NewReader("object_id,ra,decl,hostgal_specz,mwebv,target\n1,2,3,0.5,0.01,90\n"))
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.InDelta(t, 0.5, meta[0].HostgalSpecz, 1e-9)
	assert.True(t, math.IsNaN(meta[0].Distmod))
	assert.True(t, math.IsNaN(meta[0].HostgalPhotz))
	assert.True(t, math.IsNaN(meta[0].HostgalPhotzErr))
}

func TestReadObservationsCSV(t *testing.T) {
	obs, err := ReadObservationsCSV(strings.NewReader(curvesFixture))
	require.NoError(t, err)

	want := []Observation{
		{ObjectID: 615, MJD: 59750.4229, Passband: 2, Flux: -544.810303, FluxErr: 3.622952, Detected: true},
		{ObjectID: 615, MJD: 59750.4306, Passband: 1, Flux: -816.434326, FluxErr: 5.553370, Detected: true},
		{ObjectID: 713, MJD: 59825.2600, Passband: 3, Flux: 4.378110, FluxErr: 1.987416, Detected: false},
	}
	if diff := cmp.Diff(want, obs); diff != "" {
		t.Errorf("observations mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadObservationsCSV(strings.NewReader("object_id,mjd,passband,flux,flux_err\n1,2,3,4,5\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "detected")

	_, err = ReadMetadataCSV(strings.NewReader("object_id,ra,decl\n1,2,3\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCSV_Empty(t *testing.T) {
	meta, err := ReadMetadataCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, meta)

	obs, err := ReadObservationsCSV(strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestSaveLoadPLAsTiCC(t *testing.T) {
	dir := t.TempDir()
	cat := Catalog{
		Metadata: []Metadata{
			{ObjectID: 42, RA: 10.5, Decl: -3.25, HostgalSpecz: 0.1, HostgalPhotz: 0.12, HostgalPhotzErr: 0.01, Distmod: 38.3, MWEBV: 0.02, Target: 90},
		},
		Observations: []Observation{
			{ObjectID: 42, MJD: 58000.5, Passband: 1, Flux: 12.5, FluxErr: 1.5, Detected: true},
			{ObjectID: 42, MJD: 58001.5, Passband: 2, Flux: 2.5, FluxErr: 1.25},
		},
	}
	curves := filepath.Join(dir, "curves.csv")
	metadata := filepath.Join(dir, "metadata.csv")
	require.NoError(t, SavePLAsTiCC(cat, curves, metadata))

	got, err := LoadPLAsTiCC(curves, metadata)
	require.NoError(t, err)
	if diff := cmp.Diff(cat, got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteObservationsCSV_Header(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteObservationsCSV(&buf, []Observation{{ObjectID: 1, Detected: true}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(ObservationColumns, ","), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",1"))
}

func TestConcat(t *testing.T) {
	a := Catalog{Metadata: []Metadata{{ObjectID: 1}}, Observations: []Observation{{ObjectID: 1}}}
	b := Catalog{Metadata: []Metadata{{ObjectID: 2}, {ObjectID: 3}}}

	got := Concat(a, b)
	assert.Equal(t, []int64{1, 2, 3}, got.ObjectIDs())
	assert.Len(t, got.Observations, 1)
	assert.Equal(t, 3, got.Len())
	assert.Equal(t, 0, Concat().Len())
}

func TestMaps(t *testing.T) {
	classes := DefaultClassMap()
	assert.Equal(t, []int{15, 42, 52, 62, 64, 67, 90, 95}, classes.Keys())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, classes.Targets())

	clone := classes.Clone()
	clone[90] = 99
	assert.Equal(t, 1, classes[90], "clone must not alias")

	assert.Nil(t, ClassMap(nil).Clone())
	assert.Equal(t, []string{"g", "r"}, DefaultBandMap().Labels())
	assert.Equal(t, []string{"u", "g", "r", "i", "z", "Y"}, LSSTBands.Labels())
	assert.Len(t, ClassNames, 9)
}
