// Package store keeps accepted search results: a durable history in MongoDB
// or PostgreSQL, and an in-memory hand-off cache that lets a reloaded entry
// start from the result its previous coordinator held.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/flight"
)

// ErrNotFound is returned when no result is stored for a job
var ErrNotFound = errors.New("no stored result")

// History records accepted results
type History interface {
	Save(ctx context.Context, entryID string, result *flight.SearchResult) error
	Latest(ctx context.Context, jobID string) (*flight.SearchResult, error)
	Close(ctx context.Context) error
}

// Record is one stored result with its bookkeeping fields
type Record struct {
	EntryID    string
	JobID      string
	ResultCode int
	Flights    int
	Combined   int
	ReceivedAt time.Time
	Payload    []byte
}

// newRecord serialises result for storage
func newRecord(entryID string, result *flight.SearchResult, now time.Time) (Record, error) {
	if result == nil {
		return Record{}, fmt.Errorf("nil result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return Record{}, fmt.Errorf("encode result %s: %w", result.JobID, err)
	}
	return Record{
		EntryID:    entryID,
		JobID:      result.JobID,
		ResultCode: result.Result,
		Flights:    len(result.Outbound) + len(result.Return),
		Combined:   len(result.Combined),
		ReceivedAt: now.UTC(),
		Payload:    payload,
	}, nil
}

// Result decodes the stored payload
func (r Record) Result() (*flight.SearchResult, error) {
	result, err := flight.DecodeBytes(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode stored result %s: %w", r.JobID, err)
	}
	return result, nil
}

// Nop is a History that stores nothing
type Nop struct{}

// Save does nothing
func (Nop) Save(context.Context, string, *flight.SearchResult) error { return nil }

// Latest always reports ErrNotFound
func (Nop) Latest(context.Context, string) (*flight.SearchResult, error) { return nil, ErrNotFound }

// Close does nothing
func (Nop) Close(context.Context) error { return nil }

// multi fans writes out to every backend and reads from the first that has
// the job
type multi []History

// Multi combines histories. With none it behaves like Nop.
func Multi(histories ...History) History {
	var out multi
	for _, h := range histories {
		if h != nil {
			out = append(out, h)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}

func (m multi) Save(ctx context.Context, entryID string, result *flight.SearchResult) error {
	var errs []error
	for _, h := range m {
		if err := h.Save(ctx, entryID, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Latest(ctx context.Context, jobID string) (*flight.SearchResult, error) {
	var errs []error
	for _, h := range m {
		result, err := h.Latest(ctx, jobID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNotFound
}

func (m multi) Close(ctx context.Context) error {
	var errs []error
	for _, h := range m {
		if err := h.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
