package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStrategy struct {
	name   string
	result Result
	err    error
	calls  int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Fetch(context.Context, Request) (Result, error) {
	f.calls++
	return f.result, f.err
}

func TestChainFirstSuccessWins(t *testing.T) {
	t.Parallel()

	primary := &fakeStrategy{name: "primary", result: Result{Content: []byte("ok")}}
	backup := &fakeStrategy{name: "backup"}
	chain := NewChain(zap.NewNop(), primary, backup)

	res, err := chain.Fetch(context.Background(), Request{Target: "https://x", Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), res.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, backup.calls)
}

func TestChainFallsThroughToBackup(t *testing.T) {
	t.Parallel()

	primary := &fakeStrategy{name: "primary", err: Transient("primary", errors.New("timeout"))}
	backup := &fakeStrategy{name: "backup", result: Result{Content: []byte("rescued")}}
	chain := NewChain(zap.NewNop(), primary, backup)

	res, err := chain.Fetch(context.Background(), Request{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("rescued"), res.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestChainReturnsLastError(t *testing.T) {
	t.Parallel()

	first := &fakeStrategy{name: "first", err: Transient("first", errors.New("a"))}
	second := &fakeStrategy{name: "second", err: Fatal("second", errors.New("b"))}
	chain := NewChain(zap.NewNop(), first, second)

	_, err := chain.Fetch(context.Background(), Request{Page: 1})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "second")
}

func TestChainWithoutStrategiesErrors(t *testing.T) {
	t.Parallel()

	chain := NewChain(zap.NewNop())
	_, err := chain.Fetch(context.Background(), Request{Page: 1})
	require.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	te := Transient("s", cause)
	fe := Fatal("s", cause)

	assert.False(t, IsFatal(te))
	assert.True(t, IsFatal(fe))
	assert.ErrorIs(t, te, cause)
	assert.ErrorIs(t, Fatal("s", ErrAuthExpired), ErrAuthExpired)
	assert.False(t, IsFatal(cause))
}
