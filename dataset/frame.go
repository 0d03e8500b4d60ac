// Package dataset loads labeled transaction tables.
//
// A Frame is a small columnar table: numeric columns as []float64 and
// categorical columns as []string. Providers fetch frames from the Hugging
// Face datasets server, a local CSV file, a Redis cache or a deterministic
// generator.
package dataset

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
)

// ColumnKind distinguishes numeric and string columns.
type ColumnKind int

const (
	// Numeric columns hold float64 values.
	Numeric ColumnKind = iota
	// String columns hold categorical or identifier values.
	String
)

// PaySim column names.
const (
	ColStep           = "step"
	ColType           = "type"
	ColAmount         = "amount"
	ColNameOrig       = "nameOrig"
	ColOldBalanceOrg  = "oldbalanceOrg"
	ColNewBalanceOrig = "newbalanceOrig"
	ColNameDest       = "nameDest"
	ColOldBalanceDest = "oldbalanceDest"
	ColNewBalanceDest = "newbalanceDest"
	ColIsFraud        = "isFraud"
	ColIsFlaggedFraud = "isFlaggedFraud"
)

// Column describes one column of a schema.
type Column struct {
	Name string
	Kind ColumnKind
}

// PaySimSchema is the column layout of the synthetic mobile-money dataset.
var PaySimSchema = []Column{
	{ColStep, Numeric},
	{ColType, String},
	{ColAmount, Numeric},
	{ColNameOrig, String},
	{ColOldBalanceOrg, Numeric},
	{ColNewBalanceOrig, Numeric},
	{ColNameDest, String},
	{ColOldBalanceDest, Numeric},
	{ColNewBalanceDest, Numeric},
	{ColIsFraud, Numeric},
	{ColIsFlaggedFraud, Numeric},
}

// TransactionTypes are the categories of the PaySim "type" column.
var TransactionTypes = []string{"CASH_IN", "CASH_OUT", "DEBIT", "PAYMENT", "TRANSFER"}

// Frame is a columnar table with a fixed row count.
type Frame struct {
	columns []string
	numeric map[string][]float64
	strs    map[string][]string
	n       int
}

// NewFrame creates an empty frame.
func NewFrame() *Frame {
	return &Frame{
		numeric: make(map[string][]float64),
		strs:    make(map[string][]string),
		n:       -1,
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil || f.n < 0 {
		return 0
	}
	return f.n
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.columns...)
}

// Has reports whether the frame contains the column.
func (f *Frame) Has(name string) bool {
	_, num := f.numeric[name]
	_, str := f.strs[name]
	return num || str
}

// Kind returns the kind of a column.
func (f *Frame) Kind(name string) (ColumnKind, bool) {
	if _, ok := f.numeric[name]; ok {
		return Numeric, true
	}
	if _, ok := f.strs[name]; ok {
		return String, true
	}
	return 0, false
}

func (f *Frame) checkAdd(name string, n int) error {
	if name == "" {
		return errors.NewValueError("Frame.Add", "column name must not be empty")
	}
	if f.Has(name) {
		return errors.NewValueError("Frame.Add", "duplicate column "+name)
	}
	if f.n >= 0 && n != f.n {
		return errors.NewDimensionError("Frame.Add("+name+")", f.n, n, 0)
	}
	return nil
}

// AddNumeric appends a numeric column. The frame keeps the slice.
func (f *Frame) AddNumeric(name string, values []float64) error {
	if err := f.checkAdd(name, len(values)); err != nil {
		return err
	}
	f.columns = append(f.columns, name)
	f.numeric[name] = values
	f.n = len(values)
	return nil
}

// AddStrings appends a string column. The frame keeps the slice.
func (f *Frame) AddStrings(name string, values []string) error {
	if err := f.checkAdd(name, len(values)); err != nil {
		return err
	}
	f.columns = append(f.columns, name)
	f.strs[name] = values
	f.n = len(values)
	return nil
}

// Numeric returns a numeric column.
func (f *Frame) Numeric(name string) ([]float64, bool) {
	v, ok := f.numeric[name]
	return v, ok
}

// Strings returns a string column.
func (f *Frame) Strings(name string) ([]string, bool) {
	v, ok := f.strs[name]
	return v, ok
}

// Drop returns a frame without the named columns. Names that are not present
// are ignored. Column data is shared with the receiver.
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]bool, len(names))
	for _, name := range names {
		skip[name] = true
	}
	out := NewFrame()
	out.n = f.n
	for _, col := range f.columns {
		if skip[col] {
			continue
		}
		out.columns = append(out.columns, col)
		if v, ok := f.numeric[col]; ok {
			out.numeric[col] = v
		} else {
			out.strs[col] = f.strs[col]
		}
	}
	return out
}

// Head returns the first n rows. Column data is shared with the receiver.
func (f *Frame) Head(n int) *Frame {
	if n >= f.Len() {
		return f
	}
	if n < 0 {
		n = 0
	}
	out := NewFrame()
	out.n = n
	for _, col := range f.columns {
		out.columns = append(out.columns, col)
		if v, ok := f.numeric[col]; ok {
			out.numeric[col] = v[:n]
		} else {
			out.strs[col] = f.strs[col][:n]
		}
	}
	return out
}

// ===========================================================================
//
//	Serialization (cache payload)
//
// ===========================================================================

type frameSnapshot struct {
	Columns []string
	Numeric map[string][]float64
	Strings map[string][]string
	N       int
}

// MarshalBinary encodes the frame with gob.
func (f *Frame) MarshalBinary() ([]byte, error) {
	snap := frameSnapshot{
		Columns: f.columns,
		Numeric: f.numeric,
		Strings: f.strs,
		N:       f.Len(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a frame produced by MarshalBinary.
func (f *Frame) UnmarshalBinary(data []byte) error {
	var snap frameSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode frame")
	}
	out := NewFrame()
	for _, col := range snap.Columns {
		if v, ok := snap.Numeric[col]; ok {
			if err := out.AddNumeric(col, v); err != nil {
				return err
			}
			continue
		}
		v := snap.Strings[col]
		if v == nil {
			v = []string{}
		}
		if err := out.AddStrings(col, v); err != nil {
			return err
		}
	}
	if len(snap.Columns) == 0 {
		out.n = 0
	}
	*f = *out
	return nil
}

// ===========================================================================
//
//	Row-wise construction
//
// ===========================================================================

// frameBuilder accumulates rows for a fixed schema.
type frameBuilder struct {
	schema  []Column
	numeric [][]float64
	strs    [][]string
}

func newFrameBuilder(schema []Column, capacity int) *frameBuilder {
	b := &frameBuilder{
		schema:  schema,
		numeric: make([][]float64, len(schema)),
		strs:    make([][]string, len(schema)),
	}
	for i, col := range schema {
		if col.Kind == Numeric {
			b.numeric[i] = make([]float64, 0, capacity)
		} else {
			b.strs[i] = make([]string, 0, capacity)
		}
	}
	return b
}

func (b *frameBuilder) appendNumeric(i int, v float64) {
	b.numeric[i] = append(b.numeric[i], v)
}

func (b *frameBuilder) appendString(i int, v string) {
	b.strs[i] = append(b.strs[i], v)
}

func (b *frameBuilder) frame() (*Frame, error) {
	f := NewFrame()
	for i, col := range b.schema {
		var err error
		if col.Kind == Numeric {
			err = f.AddNumeric(col.Name, b.numeric[i])
		} else {
			err = f.AddStrings(col.Name, b.strs[i])
		}
		if err != nil {
			return nil, err
		}
	}
	if len(b.schema) == 0 {
		f.n = 0
	}
	return f, nil
}

// sortedKeys returns map keys in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
