package model

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/cockroachdb/errors"
)

// SaveModelToWriter はモデルをgob形式でio.Writerに保存する
//
// 使用例:
//
//	var buf bytes.Buffer
//	err := model.SaveModelToWriter(forest, &buf)
func SaveModelToWriter(model interface{}, w io.Writer) error {
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
//
// パラメータ:
//   - model: 読み込み先のモデル（ポインタ）
//   - r: 読み込み元のReader
func LoadModelFromReader(model interface{}, r io.Reader) error {
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// Encode はモデルをgobバイト列に変換する（アーティファクト保存用）
func Encode(model interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := SaveModelToWriter(model, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode はgobバイト列からモデルを復元する
func Decode(data []byte, model interface{}) error {
	return LoadModelFromReader(model, bytes.NewReader(data))
}
