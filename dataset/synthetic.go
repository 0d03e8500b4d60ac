package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// SyntheticProvider generates PaySim-shaped transactions. Output depends only
// on the seed, the fraud rate and the requested row count.
//
// Exactly round(fraudRate*limit) rows are labeled fraud. Fraud rows are
// TRANSFER or CASH_OUT transactions that empty the origin account, which
// mirrors the pattern in the real dataset and gives models a learnable signal.
type SyntheticProvider struct {
	fraudRate float64
	seed      uint64
	logger    log.Logger
}

// NewSyntheticProvider creates a generator.
func NewSyntheticProvider(fraudRate float64, seed uint64, logger log.Logger) (*SyntheticProvider, error) {
	if fraudRate < 0 || fraudRate > 1 || math.IsNaN(fraudRate) {
		return nil, errors.NewValidationError("fraud_rate", "must be in [0, 1]", fraudRate)
	}
	if logger == nil {
		logger = log.GetLoggerWithName("dataset")
	}
	return &SyntheticProvider{fraudRate: fraudRate, seed: seed, logger: logger}, nil
}

// Load generates limit rows. name is only logged.
func (p *SyntheticProvider) Load(ctx context.Context, name string, limit int) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, errors.NewValidationError("limit", "must be >= 0", limit)
	}
	frame, err := GenerateTransactions(limit, p.fraudRate, p.seed)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Generated synthetic dataset",
		log.DatasetKey, name,
		log.SourceKey, "synthetic",
		log.SamplesKey, frame.Len(),
	)
	return frame, nil
}

// GenerateTransactions builds n PaySim-shaped rows.
func GenerateTransactions(n int, fraudRate float64, seed uint64) (*Frame, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	nFraud := int(math.Round(fraudRate * float64(n)))
	isFraud := make([]bool, n)
	for _, i := range rng.Perm(n)[:nFraud] {
		isFraud[i] = true
	}

	b := newFrameBuilder(PaySimSchema, n)
	for i := 0; i < n; i++ {
		r := syntheticRow(rng, i, isFraud[i])
		for j, col := range PaySimSchema {
			if col.Kind == String {
				b.appendString(j, r.strs[col.Name])
			} else {
				b.appendNumeric(j, r.nums[col.Name])
			}
		}
	}
	return b.frame()
}

type generatedRow struct {
	nums map[string]float64
	strs map[string]string
}

func syntheticRow(rng *rand.Rand, i int, fraud bool) generatedRow {
	var txType string
	if fraud {
		txType = []string{"TRANSFER", "CASH_OUT"}[rng.IntN(2)]
	} else {
		txType = TransactionTypes[rng.IntN(len(TransactionTypes))]
	}

	oldOrg := math.Round(rng.ExpFloat64()*50000*100) / 100
	var amount float64
	if fraud {
		amount = oldOrg
		if amount == 0 {
			amount = math.Round((1000+rng.Float64()*100000)*100) / 100
			oldOrg = amount
		}
	} else {
		amount = math.Round(rng.ExpFloat64()*oldOrg*0.3*100) / 100
		if amount > oldOrg && txType != "CASH_IN" {
			amount = oldOrg
		}
	}

	newOrg := oldOrg - amount
	if txType == "CASH_IN" {
		newOrg = oldOrg + amount
	}
	oldDest := math.Round(rng.ExpFloat64()*80000*100) / 100
	newDest := oldDest + amount
	if txType == "PAYMENT" {
		// merchants carry no balance information
		oldDest, newDest = 0, 0
	}

	flagged := 0.0
	if fraud && txType == "TRANSFER" && amount > 200000 {
		flagged = 1
	}
	destPrefix := "C"
	if txType == "PAYMENT" {
		destPrefix = "M"
	}

	label := 0.0
	if fraud {
		label = 1
	}
	return generatedRow{
		nums: map[string]float64{
			ColStep:           float64(1 + i/1000),
			ColAmount:         amount,
			ColOldBalanceOrg:  oldOrg,
			ColNewBalanceOrig: newOrg,
			ColOldBalanceDest: oldDest,
			ColNewBalanceDest: newDest,
			ColIsFraud:        label,
			ColIsFlaggedFraud: flagged,
		},
		strs: map[string]string{
			ColType:     txType,
			ColNameOrig: fmt.Sprintf("C%09d", rng.IntN(1_000_000_000)),
			ColNameDest: fmt.Sprintf("%s%09d", destPrefix, rng.IntN(1_000_000_000)),
		},
	}
}
