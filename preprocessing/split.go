package preprocessing

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SplitResult は TrainTestSplit の結果
type SplitResult struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest *mat.VecDense

	// TrainIndex, TestIndex は元の行番号（昇順）
	TrainIndex []int
	TestIndex  []int
}

type splitConfig struct {
	testSize    float64
	randomState uint64
	stratify    bool
}

// SplitOption is a functional option for TrainTestSplit
type SplitOption func(*splitConfig)

// WithTestSize sets the fraction of rows placed in the test split (0 < size < 1)
func WithTestSize(size float64) SplitOption {
	return func(c *splitConfig) {
		c.testSize = size
	}
}

// WithRandomState sets the seed of the shuffle
func WithRandomState(seed uint64) SplitOption {
	return func(c *splitConfig) {
		c.randomState = seed
	}
}

// WithStratify preserves the class proportions of y in both splits
func WithStratify(stratify bool) SplitOption {
	return func(c *splitConfig) {
		c.stratify = stratify
	}
}

// TrainTestSplit はデータを訓練用とテスト用に分割する
//
// テスト件数は ceil(testSize * n)。層化する場合は各クラスのテスト件数を
// 比例配分し、端数は剰余の大きいクラスから割り当てる。同じシードと入力なら
// 常に同じ分割になる。
//
// 使用例:
//
//	res, err := preprocessing.TrainTestSplit(X, y,
//	    preprocessing.WithTestSize(0.2),
//	    preprocessing.WithRandomState(42),
//	    preprocessing.WithStratify(true),
//	)
func TrainTestSplit(X mat.Matrix, y *mat.VecDense, opts ...SplitOption) (*SplitResult, error) {
	cfg := splitConfig{testSize: 0.25, randomState: 0}
	for _, opt := range opts {
		opt(&cfg)
	}

	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, errors.NewModelError("TrainTestSplit", "empty data", errors.ErrEmptyData)
	}
	if y == nil || y.Len() != n {
		got := 0
		if y != nil {
			got = y.Len()
		}
		return nil, errors.NewDimensionError("TrainTestSplit", n, got, 0)
	}
	if cfg.testSize <= 0 || cfg.testSize >= 1 {
		return nil, errors.NewValidationError("test_size", "must be in (0, 1)", cfg.testSize)
	}

	nTest := int(math.Ceil(cfg.testSize * float64(n)))
	if nTest >= n {
		return nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("test_size=%v with n_samples=%d leaves the train split empty", cfg.testSize, n))
	}

	r := rand.New(rand.NewPCG(cfg.randomState, cfg.randomState))

	var testIdx, trainIdx []int
	if cfg.stratify {
		var err error
		trainIdx, testIdx, err = stratifiedIndices(y, nTest, r)
		if err != nil {
			return nil, err
		}
	} else {
		perm := r.Perm(n)
		testIdx = append([]int(nil), perm[:nTest]...)
		trainIdx = append([]int(nil), perm[nTest:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)

	res := &SplitResult{
		TrainIndex: trainIdx,
		TestIndex:  testIdx,
	}
	res.XTrain, res.YTrain = takeRows(X, y, trainIdx)
	res.XTest, res.YTest = takeRows(X, y, testIdx)
	return res, nil
}

// stratifiedIndices はクラスごとにシャッフルし、比例配分した件数をテストに割り当てる
func stratifiedIndices(y *mat.VecDense, nTest int, r *rand.Rand) (train, test []int, err error) {
	n := y.Len()
	byClass := make(map[float64][]int)
	for i := 0; i < n; i++ {
		byClass[y.AtVec(i)] = append(byClass[y.AtVec(i)], i)
	}

	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	for _, c := range classes {
		if len(byClass[c]) < 2 {
			return nil, nil, errors.NewValueError("TrainTestSplit",
				fmt.Sprintf("the least populated class in y (%v) has only 1 member, which is too few to stratify", c))
		}
	}
	if nTest < len(classes) || n-nTest < len(classes) {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("test size %d and train size %d must each be at least the number of classes (%d)", nTest, n-nTest, len(classes)))
	}

	// 比例配分（最大剰余法）
	alloc := make([]int, len(classes))
	remainders := make([]float64, len(classes))
	assigned := 0
	for k, c := range classes {
		exact := float64(nTest) * float64(len(byClass[c])) / float64(n)
		alloc[k] = int(math.Floor(exact))
		remainders[k] = exact - float64(alloc[k])
		assigned += alloc[k]
	}
	order := make([]int, len(classes))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for i := 0; assigned < nTest; i = (i + 1) % len(order) {
		k := order[i]
		if alloc[k] < len(byClass[classes[k]])-1 {
			alloc[k]++
			assigned++
		}
	}

	for k, c := range classes {
		members := append([]int(nil), byClass[c]...)
		r.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		test = append(test, members[:alloc[k]]...)
		train = append(train, members[alloc[k]:]...)
	}
	return train, test, nil
}

func takeRows(X mat.Matrix, y *mat.VecDense, idx []int) (*mat.Dense, *mat.VecDense) {
	_, p := X.Dims()
	Xs := mat.NewDense(len(idx), p, nil)
	ys := mat.NewVecDense(len(idx), nil)
	for i, row := range idx {
		for j := 0; j < p; j++ {
			Xs.Set(i, j, X.At(row, j))
		}
		ys.SetVec(i, y.AtVec(row))
	}
	return Xs, ys
}
