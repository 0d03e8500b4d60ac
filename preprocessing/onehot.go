// Package preprocessing はscikit-learn互換の前処理（カテゴリ変数のエンコードとデータ分割）を提供する
package preprocessing

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/fraudml/core/model"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// OneHotEncoder はscikit-learn互換のワンホットエンコーダー（単一の文字列列用）
//
// カテゴリは辞書順にソートされる。drop="first" の場合、最初のカテゴリの列は出力されない
// （pandas.get_dummies(drop_first=True) と同じ列構成）。
type OneHotEncoder struct {
	state *model.StateManager

	drop          string // "none" or "first"
	handleUnknown string // "error" or "ignore"

	// Categories は学習時に観測されたカテゴリ（ソート済み）
	Categories []string
	index      map[string]int
}

// OneHotEncoderOption is a functional option for OneHotEncoder
type OneHotEncoderOption func(*OneHotEncoder)

// WithDrop sets the drop strategy: "none" or "first"
func WithDrop(drop string) OneHotEncoderOption {
	return func(e *OneHotEncoder) {
		e.drop = drop
	}
}

// WithHandleUnknown sets how unseen categories are handled: "error" or "ignore"
func WithHandleUnknown(mode string) OneHotEncoderOption {
	return func(e *OneHotEncoder) {
		e.handleUnknown = mode
	}
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
//
// 使用例:
//
//	enc := preprocessing.NewOneHotEncoder(preprocessing.WithDrop("first"))
//	encoded, err := enc.FitTransform(frame.Strings("type"))
//	names := enc.FeatureNames("type")
func NewOneHotEncoder(opts ...OneHotEncoderOption) *OneHotEncoder {
	e := &OneHotEncoder{
		state:         model.NewStateManager(),
		drop:          "none",
		handleUnknown: "error",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fit はカテゴリの一覧を学習する
func (e *OneHotEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	if e.drop != "none" && e.drop != "first" {
		return errors.NewValidationError("drop", "must be 'none' or 'first'", e.drop)
	}
	if e.handleUnknown != "error" && e.handleUnknown != "ignore" {
		return errors.NewValidationError("handle_unknown", "must be 'error' or 'ignore'", e.handleUnknown)
	}

	seen := make(map[string]struct{})
	for _, v := range values {
		seen[v] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)

	e.Categories = cats
	e.index = make(map[string]int, len(cats))
	for i, c := range cats {
		e.index[c] = i
	}

	e.state.SetDimensions(len(e.outputCategories()), len(values))
	e.state.SetFitted()
	return nil
}

// outputCategories は出力列に対応するカテゴリを返す
func (e *OneHotEncoder) outputCategories() []string {
	if e.drop == "first" && len(e.Categories) > 0 {
		return e.Categories[1:]
	}
	return e.Categories
}

// Transform は文字列を0/1の指示行列に変換する
//
// 戻り値の行列は len(values) × 出力カテゴリ数。drop="first" で
// カテゴリが1種類しかない場合は列数0となり nil を返す。
func (e *OneHotEncoder) Transform(values []string) (*mat.Dense, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	out := e.outputCategories()
	if len(out) == 0 || len(values) == 0 {
		return nil, nil
	}
	offset := len(e.Categories) - len(out)

	X := mat.NewDense(len(values), len(out), nil)
	for i, v := range values {
		idx, ok := e.index[v]
		if !ok {
			if e.handleUnknown == "ignore" {
				continue
			}
			return nil, errors.NewValueError("OneHotEncoder.Transform", fmt.Sprintf("found unknown category %q at row %d", v, i))
		}
		if col := idx - offset; col >= 0 {
			X.Set(i, col, 1)
		}
	}
	return X, nil
}

// FitTransform はFitとTransformを同時に実行する
func (e *OneHotEncoder) FitTransform(values []string) (*mat.Dense, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// FeatureNames は出力列の名前を "<prefix>_<カテゴリ>" 形式で返す
func (e *OneHotEncoder) FeatureNames(prefix string) []string {
	out := e.outputCategories()
	names := make([]string, len(out))
	for i, c := range out {
		names[i] = prefix + "_" + c
	}
	return names
}

// IsFitted はエンコーダーが学習済みかどうかを返す
func (e *OneHotEncoder) IsFitted() bool {
	return e.state.IsFitted()
}
