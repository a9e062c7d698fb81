package rapid

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/astrolight/internal/plasticc"
)

// ErrMalformedMessage is returned when a classifier message does not have the
// expected shape.
var ErrMalformedMessage = errors.New("malformed classifier message")

// Message field names.
const (
	fieldOptions       = "options"
	fieldKnownRedshift = "known_redshift"
	fieldModelPath     = "model_filepath"
	fieldCurves        = "light_curves"
	fieldLabels        = "labels"
	fieldClassNums     = "class_nums"
	fieldPassbands     = "passbands"
	fieldSaveDir       = "save_dir"
	fieldSaveFilename  = "save_filename"
	fieldPredictions   = "predictions"
)

// lightCurveFields is the length of an encoded curve tuple.
const lightCurveFields = 10

func numbers(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func ints(xs []int) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(float64(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func strs(xs []string) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewStringValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func encodeOptions(opts ClassifierOptions) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKnownRedshift: structpb.NewBoolValue(opts.KnownRedshift),
		fieldModelPath:     structpb.NewStringValue(opts.ModelPath),
	}})
}

func decodeOptions(msg *structpb.Struct) ClassifierOptions {
	var opts ClassifierOptions
	s := msg.GetFields()[fieldOptions].GetStructValue()
	if s == nil {
		return opts
	}
	opts.KnownRedshift = s.GetFields()[fieldKnownRedshift].GetBoolValue()
	opts.ModelPath = s.GetFields()[fieldModelPath].GetStringValue()
	return opts
}

// encodeCurve lays a curve out in the order of LightCurve.Tuple.
func encodeCurve(lc plasticc.LightCurve) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
		numbers(lc.MJD),
		numbers(lc.Flux),
		numbers(lc.FluxErr),
		strs(lc.Passband),
		ints(lc.PhotFlag),
		structpb.NewNumberValue(lc.RA),
		structpb.NewNumberValue(lc.Decl),
		structpb.NewNumberValue(float64(lc.ObjectID)),
		structpb.NewNumberValue(lc.Redshift),
		structpb.NewNumberValue(lc.MWEBV),
	}})
}

func encodeCurves(curves []plasticc.LightCurve) *structpb.Value {
	vals := make([]*structpb.Value, len(curves))
	for i, lc := range curves {
		vals[i] = encodeCurve(lc)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func listOf(v *structpb.Value, what string) ([]*structpb.Value, error) {
	l := v.GetListValue()
	if l == nil {
		return nil, fmt.Errorf("%w: %s is not a list", ErrMalformedMessage, what)
	}
	return l.GetValues(), nil
}

func decodeNumbers(v *structpb.Value, what string) ([]float64, error) {
	vals, err := listOf(v, what)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, x := range vals {
		n, ok := x.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a number", ErrMalformedMessage, what, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func decodeInts(v *structpb.Value, what string) ([]int, error) {
	fs, err := decodeNumbers(v, what)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = int(f)
	}
	return out, nil
}

func decodeStrings(v *structpb.Value, what string) ([]string, error) {
	vals, err := listOf(v, what)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, x := range vals {
		s, ok := x.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a string", ErrMalformedMessage, what, i)
		}
		out[i] = s.StringValue
	}
	return out, nil
}

func decodeCurve(v *structpb.Value, idx int) (plasticc.LightCurve, error) {
	var lc plasticc.LightCurve
	what := fmt.Sprintf("light curve %d", idx)
	f, err := listOf(v, what)
	if err != nil {
		return lc, err
	}
	if len(f) != lightCurveFields {
		return lc, fmt.Errorf("%w: %s has %d fields, want %d", ErrMalformedMessage, what, len(f), lightCurveFields)
	}
	if lc.MJD, err = decodeNumbers(f[0], what+" mjd"); err != nil {
		return lc, err
	}
	if lc.Flux, err = decodeNumbers(f[1], what+" flux"); err != nil {
		return lc, err
	}
	if lc.FluxErr, err = decodeNumbers(f[2], what+" fluxerr"); err != nil {
		return lc, err
	}
	if lc.Passband, err = decodeStrings(f[3], what+" passband"); err != nil {
		return lc, err
	}
	if lc.PhotFlag, err = decodeInts(f[4], what+" photflag"); err != nil {
		return lc, err
	}
	lc.RA = f[5].GetNumberValue()
	lc.Decl = f[6].GetNumberValue()
	lc.ObjectID = int64(f[7].GetNumberValue())
	lc.Redshift = f[8].GetNumberValue()
	lc.MWEBV = f[9].GetNumberValue()
	return lc, nil
}

func decodeCurves(msg *structpb.Struct) ([]plasticc.LightCurve, error) {
	v, ok := msg.GetFields()[fieldCurves]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedMessage, fieldCurves)
	}
	vals, err := listOf(v, fieldCurves)
	if err != nil {
		return nil, err
	}
	curves := make([]plasticc.LightCurve, len(vals))
	for i, cv := range vals {
		if curves[i], err = decodeCurve(cv, i); err != nil {
			return nil, err
		}
	}
	return curves, nil
}

func encodePredictions(preds []Prediction) *structpb.Value {
	objs := make([]*structpb.Value, len(preds))
	for i, p := range preds {
		steps := make([]*structpb.Value, len(p))
		for j, probs := range p {
			steps[j] = numbers(probs)
		}
		objs[i] = structpb.NewListValue(&structpb.ListValue{Values: steps})
	}
	return structpb.NewListValue(&structpb.ListValue{Values: objs})
}

func decodePredictions(msg *structpb.Struct) ([]Prediction, error) {
	v, ok := msg.GetFields()[fieldPredictions]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedMessage, fieldPredictions)
	}
	objs, err := listOf(v, fieldPredictions)
	if err != nil {
		return nil, err
	}
	preds := make([]Prediction, len(objs))
	for i, o := range objs {
		what := fmt.Sprintf("prediction %d", i)
		steps, err := listOf(o, what)
		if err != nil {
			return nil, err
		}
		p := make(Prediction, len(steps))
		for j, s := range steps {
			if p[j], err = decodeNumbers(s, what); err != nil {
				return nil, err
			}
		}
		preds[i] = p
	}
	return preds, nil
}

// trainMessage carries a training run with its data already fetched.
type trainMessage struct {
	curves       []plasticc.LightCurve
	labels       []int
	classNums    []int
	passbands    []string
	saveDir      string
	saveFilename string
}

func encodeTrain(opts ClassifierOptions, m trainMessage) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOptions:      encodeOptions(opts),
		fieldCurves:       encodeCurves(m.curves),
		fieldLabels:       ints(m.labels),
		fieldClassNums:    ints(m.classNums),
		fieldPassbands:    strs(m.passbands),
		fieldSaveDir:      structpb.NewStringValue(m.saveDir),
		fieldSaveFilename: structpb.NewStringValue(m.saveFilename),
	}}
}

func decodeTrain(msg *structpb.Struct) (trainMessage, error) {
	var m trainMessage
	var err error
	if m.curves, err = decodeCurves(msg); err != nil {
		return m, err
	}
	fields := msg.GetFields()
	if m.labels, err = decodeInts(fields[fieldLabels], fieldLabels); err != nil {
		return m, err
	}
	if len(m.labels) != len(m.curves) {
		return m, fmt.Errorf("%w: %d labels for %d light curves", ErrMalformedMessage, len(m.labels), len(m.curves))
	}
	if m.classNums, err = decodeInts(fields[fieldClassNums], fieldClassNums); err != nil {
		return m, err
	}
	if m.passbands, err = decodeStrings(fields[fieldPassbands], fieldPassbands); err != nil {
		return m, err
	}
	m.saveDir = fields[fieldSaveDir].GetStringValue()
	m.saveFilename = fields[fieldSaveFilename].GetStringValue()
	return m, nil
}
