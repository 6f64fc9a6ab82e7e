package etl

import (
	"context"
	"errors"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/dcshock/etlflow/pipeline"
)

// ErrServiceFailed is the simulated API failure.
var ErrServiceFailed = errors.New("our unreliable service failed")

// DefaultFailureRate makes success and failure equally likely.
const DefaultFailureRate = 0.5

// APIData is the value the API returns on success.
const APIData = 42

// Fetcher returns a fresh record from the upstream API.
type Fetcher interface {
	Call(ctx context.Context) (Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Record, error)

func (f FetcherFunc) Call(ctx context.Context) (Record, error) { return f(ctx) }

// UnreliableAPI is an in-process API that fails at random. It is safe for
// concurrent use.
type UnreliableAPI struct {
	mu          sync.Mutex
	faker       *gofakeit.Faker
	failureRate float64
}

// APIOption configures an UnreliableAPI.
type APIOption func(*UnreliableAPI)

// WithSeed makes the failure sequence reproducible. Seed 0 picks a random seed.
func WithSeed(seed uint64) APIOption {
	return func(a *UnreliableAPI) { a.faker = gofakeit.New(seed) }
}

// WithFailureRate sets the probability of a failed call, clamped to [0, 1].
func WithFailureRate(rate float64) APIOption {
	return func(a *UnreliableAPI) {
		switch {
		case rate < 0:
			rate = 0
		case rate > 1:
			rate = 1
		}
		a.failureRate = rate
	}
}

func NewUnreliableAPI(opts ...APIOption) *UnreliableAPI {
	a := &UnreliableAPI{failureRate: DefaultFailureRate}
	for _, o := range opts {
		o(a)
	}
	if a.faker == nil {
		a.faker = gofakeit.New(0)
	}
	return a
}

// Call returns {"data": 42} or ErrServiceFailed (marked retryable).
func (a *UnreliableAPI) Call(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	failed := a.faker.Float64() < a.failureRate
	a.mu.Unlock()
	if failed {
		return nil, pipeline.RetryableErr(ErrServiceFailed)
	}
	return Record{KeyData: APIData}, nil
}
