package renderer

import (
	"runtime"
	"sync"
)

// parallelThreshold is the minimum tile count to use the worker pool.
// Below this, a single goroutine is faster than the dispatch overhead.
const parallelThreshold = 16

// tileChunk is a contiguous range of tiles for one worker.
type tileChunk struct {
	start, end int
}

// tilePool is a persistent set of workers shading tile ranges.
type tilePool struct {
	numWorkers int
	shade      func(start, end int)

	// Worker pool channels
	workChan chan tileChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newTilePool(workers int, shade func(start, end int)) *tilePool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &tilePool{numWorkers: workers, shade: shade}
}

// startWorkers launches persistent worker goroutines.
func (p *tilePool) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan tileChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *tilePool) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker processes chunks until stopped.
func (p *tilePool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.shade(chunk.start, chunk.end)
			p.doneChan <- struct{}{}
		}
	}
}

// run shades n tiles and returns once every chunk has completed.
func (p *tilePool) run(n int) {
	if n < parallelThreshold || p.numWorkers == 1 {
		p.shade(0, n)
		return
	}

	if !p.running {
		p.startWorkers()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	dispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- tileChunk{start: start, end: end}
		dispatched++
	}

	// Barrier: every write to the output is visible once all chunks report.
	for i := 0; i < dispatched; i++ {
		<-p.doneChan
	}
}
