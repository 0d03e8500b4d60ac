package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ProbabilisticClassifier は確率推定を返せる学習済み分類器のインターフェース
//
// PredictProba は n×len(Classes()) の行列を返し、列の順序は Classes() と一致する。
type ProbabilisticClassifier interface {
	Predictor
	// PredictProba は各クラスの確率を予測する
	PredictProba(X mat.Matrix) (mat.Matrix, error)
	// Classes は学習時に観測されたクラスラベルを昇順で返す
	Classes() []int
}
