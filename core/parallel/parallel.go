package parallel

import (
	"runtime"
	"sync"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
)

// Parallelize divides the specified total number (items) according to the number of CPU cores,
// and executes the specified function (fn) in parallel for each range (start, end)
func Parallelize(items int, fn func(start, end int)) {
	_ = ParallelizeErr(items, 0, func(start, end int) error {
		fn(start, end)
		return nil
	})
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold
// If below threshold, normal sequential processing is performed
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ParallelizeErr is like Parallelize but collects errors. workers <= 0 uses
// runtime.NumCPU(). A panic inside fn is recovered and returned as a
// *errors.PanicError instead of crashing the process. The first error by
// range order is returned.
func ParallelizeErr(items, workers int, fn func(start, end int) error) error {
	if items <= 0 {
		return nil
	}

	numWorkers := workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > items {
		numWorkers = items // No need for more workers than items
	}

	// Calculate the number of items each worker handles (ceiling division)
	chunkSize := (items + numWorkers - 1) / numWorkers

	errs := make([]error, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(w, s, e int) {
			defer wg.Done()
			errs[w] = errors.SafeExecute("parallel worker", func() error {
				return fn(s, e)
			})
		}(i, start, end)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
