// Package metrics は二値分類の評価指標を提供する
//
// 指標が定義できない場合（陽性予測が0件の適合率など）は scikit-learn の
// zero_division=0 と同じく 0 を返し、errors.Warn で UndefinedMetricWarning を発行する。
package metrics

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Confusion は二値分類の混同行列
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

// Total は全サンプル数を返す
func (c Confusion) Total() int {
	return c.TP + c.FP + c.TN + c.FN
}

// String は "tp=.. fp=.. tn=.. fn=.." 形式の文字列を返す
func (c Confusion) String() string {
	return fmt.Sprintf("tp=%d fp=%d tn=%d fn=%d", c.TP, c.FP, c.TN, c.FN)
}

// validatePair は二つのベクトルが空でなく同じ長さであることを確認する
func validatePair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// requireBinary はラベルが 0 または 1 のみであることを確認する
func requireBinary(op, name string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		v := y.AtVec(i)
		if v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("%s must contain only 0 and 1, got %v at index %d", name, v, i))
		}
	}
	return nil
}

// ConfusionMatrix は二値ラベルと二値予測から混同行列を計算する
func ConfusionMatrix(yTrue, yPred *mat.VecDense) (Confusion, error) {
	n, err := validatePair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return Confusion{}, err
	}
	if err := requireBinary("ConfusionMatrix", "y_true", yTrue); err != nil {
		return Confusion{}, err
	}
	if err := requireBinary("ConfusionMatrix", "y_pred", yPred); err != nil {
		return Confusion{}, err
	}

	var c Confusion
	for i := 0; i < n; i++ {
		actual := yTrue.AtVec(i) == 1
		predicted := yPred.AtVec(i) == 1
		switch {
		case actual && predicted:
			c.TP++
		case !actual && predicted:
			c.FP++
		case actual && !predicted:
			c.FN++
		default:
			c.TN++
		}
	}
	return c, nil
}

// PrecisionFromConfusion は TP/(TP+FP) を返す。陽性予測が0件なら 0 を返し警告する。
func PrecisionFromConfusion(c Confusion) float64 {
	if c.TP+c.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// RecallFromConfusion は TP/(TP+FN) を返す。陽性ラベルが0件なら 0 を返し警告する。
func RecallFromConfusion(c Confusion) float64 {
	if c.TP+c.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1FromPrecisionRecall は適合率と再現率の調和平均を返す。両方0なら 0。
func F1FromPrecisionRecall(precision, recall float64) float64 {
	return errors.SafeDivide(2*precision*recall, precision+recall)
}

// Precision は適合率（Precision）を計算する
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return PrecisionFromConfusion(c), nil
}

// Recall は再現率（Recall）を計算する
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return RecallFromConfusion(c), nil
}

// F1Score はF1スコアを計算する
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return F1FromPrecisionRecall(PrecisionFromConfusion(c), RecallFromConfusion(c)), nil
}

// Accuracy は正解率を計算する（多クラスラベルにも対応）
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := validatePair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ROCAUC はROC曲線下面積を計算する
//
// 同順位のスコアは平均順位で扱う（Mann-Whitney U 統計量と同値）。
// ラベルが単一クラスの場合は ErrUndefinedMetric をラップしたエラーを返す。
func ROCAUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := validatePair("ROCAUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := requireBinary("ROCAUC", "y_true", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b])
	})

	var nPos, nNeg float64
	var rankSumPos float64
	for start := 0; start < n; {
		end := start + 1
		for end < n && yScore.AtVec(idx[end]) == yScore.AtVec(idx[start]) {
			end++
		}
		// 順位は1始まり、同順位グループは平均順位
		avgRank := float64(start+end+1) / 2
		for k := start; k < end; k++ {
			if yTrue.AtVec(idx[k]) == 1 {
				nPos++
				rankSumPos += avgRank
			} else {
				nNeg++
			}
		}
		start = end
	}

	if nPos == 0 || nNeg == 0 {
		return 0, errors.Wrapf(errors.ErrUndefinedMetric,
			"ROCAUC: only one class present in y_true (positives=%d, negatives=%d)", int(nPos), int(nNeg))
	}

	return (rankSumPos - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}
