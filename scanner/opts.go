package scanner

import "github.com/doichain/go-sdk/internal/utils"

type Option func(*Scanner)

// WithGapLimit sets how many consecutive unused addresses end a scan.
// Default: 20.
func WithGapLimit(gapLimit int) Option {
	return func(s *Scanner) {
		if gapLimit > 0 {
			s.gapLimit = gapLimit
		}
	}
}

// WithBatchSize sets the initial number of addresses queried concurrently.
// Default: 10.
func WithBatchSize(batchSize int) Option {
	return func(s *Scanner) {
		if batchSize > 0 {
			s.batchSize = batchSize
		}
	}
}

// WithBatchBounds bounds the adaptive batch size.
// Default: 5 to 20.
func WithBatchBounds(minSize, maxSize int) Option {
	return func(s *Scanner) {
		s.minBatchSize = minSize
		s.maxBatchSize = maxSize
	}
}

// WithEvents publishes a ScanEvent for every queried address.
func WithEvents(events *utils.Broadcaster[ScanEvent]) Option {
	return func(s *Scanner) {
		s.events = events
	}
}
