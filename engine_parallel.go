package deba

import (
	"context"
	"runtime"
	"sync"
)

// analyzeParallel scans the pending scripts on a worker pool. Each worker
// owns a Resolver, so parse trees and module nodes are never shared between
// goroutines. Results are written by index and keep script order.
func (e *Engine) analyzeParallel(ctx context.Context, results []ScriptResult, pending []int) error {
	numWorkers := e.workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = max(1, min(numWorkers, len(pending)))

	workCh := make(chan int, len(pending))
	for _, i := range pending {
		workCh <- i
	}
	close(workCh)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := e.newResolver()
			defer r.Close()
			f := e.newFinder(r)
			for i := range workCh {
				if ctx.Err() != nil {
					return
				}
				res, err := f.FindDependencies(results[i].Script.Path)
				results[i].Result, results[i].Err = res, err
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
