package track

import (
	"runtime"
	"sync"

	"github.com/seqindex/trackdb/internal/store"
)

// partitionJob names one (chromosome) staging unit within a track build.
type partitionJob struct {
	Seq   int
	Chrom string
}

// partitionResult carries one staged writer back, tagged with its
// sequence number so the caller can restore assembly order.
type partitionResult struct {
	Seq    int
	Chrom  string
	Writer *store.Writer
	Err    error
}

// stageAll runs the stage function for every chromosome using a pool of
// workers and returns the staged writers in input order. Partitions
// share no mutable state, so workers never synchronize beyond the job
// and result channels. On any failure every staged writer is discarded
// and the first error is returned.
// If workers is 0, runtime.NumCPU() is used.
func stageAll(chroms []string, workers int, stage func(chrom string) (*store.Writer, error)) ([]*store.Writer, error) {
	if len(chroms) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(chroms) {
		workers = len(chroms)
	}

	jobs := make(chan partitionJob, len(chroms))
	for i, chrom := range chroms {
		jobs <- partitionJob{Seq: i, Chrom: chrom}
	}
	close(jobs)

	results := make(chan partitionResult, len(chroms))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				w, err := stage(job.Chrom)
				results <- partitionResult{Seq: job.Seq, Chrom: job.Chrom, Writer: w, Err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	writers := make([]*store.Writer, len(chroms))
	var firstErr error
	for r := range results {
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		writers[r.Seq] = r.Writer
	}

	if firstErr != nil {
		for _, w := range writers {
			if w != nil {
				w.Discard()
			}
		}
		return nil, firstErr
	}
	return writers, nil
}
