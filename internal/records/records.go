package records

import (
	"context"
	"errors"
	"fmt"
)

// TimestampLayout is the local time format stored with every report.
const TimestampLayout = "2006-01-02 15:04:05"

// Report is one persisted, immutable geotagged record.
type Report struct {
	Photo       string
	Category    string
	Description string
	Timestamp   string
	Longitude   float64
	Latitude    float64
}

// Sink appends reports to a persistent collection.
type Sink interface {
	Append(ctx context.Context, r Report) error
}

// Collection is a Sink backed by files that must be shipped together.
type Collection interface {
	Sink
	Files() []string
}

// Multi appends to a primary collection and any number of mirrors. The
// primary's files are the ones uploaded; mirror failures are joined into the
// returned error without stopping the others.
type Multi struct {
	Primary Collection
	Mirrors []Sink
}

func (m Multi) Append(ctx context.Context, r Report) error {
	var errs []error
	if err := m.Primary.Append(ctx, r); err != nil {
		errs = append(errs, err)
	}
	for i, mirror := range m.Mirrors {
		if err := mirror.Append(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Files() []string { return m.Primary.Files() }
