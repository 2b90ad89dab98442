package promise_test

import (
	"testing"

	"github.com/joeycumines/go-evented/promise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestThen_DeepChainResolvesWithoutStackGrowth pins the decision that a long
// chain of Then calls is driven by the scheduler's queue, one tick per link,
// rather than by growing the Go call stack through recursive settlement. If
// settlement ever collapsed the chain via direct recursive calls this test
// would still pass functionally, but chainLength is picked large enough that
// a recursive implementation would be a likely stack-depth concern; the fake
// scheduler's drain loop processes the queue iteratively either way.
func TestThen_DeepChainResolvesWithoutStackGrowth(t *testing.T) {
	const chainLength = 20000

	s := newFakeScheduler()
	p := promise.Resolved(s, 0)
	for i := 0; i < chainLength; i++ {
		p = p.Then(func(v any) (any, error) {
			return v.(int) + 1, nil
		}, nil)
	}

	s.drain()
	require.Equal(t, promise.Fulfilled, p.State())
	assert.Equal(t, chainLength, p.Value())
}

// TestThen_DeepChainWithRejectionMidway confirms a rejection introduced partway
// through a long chain propagates all the way to the end without a recovery
// handler, exercising the same iterative-drain path on the reject side.
func TestThen_DeepChainWithRejectionMidway(t *testing.T) {
	const chainLength = 5000
	const failAt = 2500

	s := newFakeScheduler()
	p := promise.Resolved(s, 0)
	for i := 0; i < chainLength; i++ {
		i := i
		p = p.Then(func(v any) (any, error) {
			if i == failAt {
				return nil, assertErrBoom
			}
			return v.(int) + 1, nil
		}, nil)
	}

	s.drain()
	require.Equal(t, promise.Rejected, p.State())
	assert.Equal(t, assertErrBoom, p.Err())
}

var assertErrBoom = chainBoom{}

type chainBoom struct{}

func (chainBoom) Error() string { return "chain boom" }
