package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// CardVersion は ModelCard の形式バージョン
const CardVersion = "1"

// ModelCard は学習済みモデルの説明情報（JSONアーティファクト用）
type ModelCard struct {
	// ModelType はモデルの種類（RandomForestClassifier等）
	ModelType string `json:"model_type"`

	// Version はカード形式のバージョン（互換性チェック用）
	Version string `json:"version"`

	// Features は特徴量の名前
	Features []string `json:"features,omitempty"`

	// Classes は学習時のクラスラベル
	Classes []int `json:"classes,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// FeatureImportances は特徴量重要度（Featuresと同じ順序）
	FeatureImportances []float64 `json:"feature_importances,omitempty"`

	// Metadata は追加のメタデータ（学習時の統計等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// ToJSON はModelCardをJSON形式にシリアライズ
func (mc *ModelCard) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mc, "", "  ")
}

// FromJSON はJSON形式からModelCardをデシリアライズ
func (mc *ModelCard) FromJSON(data []byte) error {
	return json.Unmarshal(data, mc)
}

// Validate はModelCardの妥当性を検証
func (mc *ModelCard) Validate() error {
	if mc.ModelType == "" {
		return errors.New("model_type is required")
	}
	if mc.Version == "" {
		return errors.New("version is required")
	}
	if len(mc.FeatureImportances) > 0 && len(mc.FeatureImportances) != len(mc.Features) {
		return errors.Newf("feature_importances has %d entries, features has %d",
			len(mc.FeatureImportances), len(mc.Features))
	}
	if !mc.IsFitted && len(mc.FeatureImportances) > 0 {
		return errors.New("unfitted model should not have feature importances")
	}
	return nil
}
