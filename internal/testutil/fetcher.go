package testutil

import (
	"context"
	"sync/atomic"

	"github.com/meigma/codondb/download"
)

// MockFetcher serves fixed bytes in chunks and counts calls.
type MockFetcher struct {
	Data      []byte
	ChunkSize int   // zero reports a single jump to 1
	Err       error // returned instead of data when set

	// Gate, when non-nil, blocks each download until it is closed.
	Gate chan struct{}
	// Started, when non-nil, receives once per download before Gate.
	Started chan struct{}

	Calls atomic.Int64
}

// Download implements the session fetcher contract.
func (f *MockFetcher) Download(ctx context.Context, url string, onProgress download.ProgressFunc) ([]byte, error) {
	f.Calls.Add(1)
	if f.Started != nil {
		f.Started <- struct{}{}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	total := len(f.Data)
	if f.ChunkSize <= 0 || total == 0 {
		onProgress(1)
		return append([]byte(nil), f.Data...), nil
	}
	for done := f.ChunkSize; ; done += f.ChunkSize {
		if done >= total {
			onProgress(1)
			break
		}
		onProgress(float64(done) / float64(total))
	}
	return append([]byte(nil), f.Data...), nil
}
