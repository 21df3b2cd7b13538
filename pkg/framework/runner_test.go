package framework

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingCloser struct {
	closed  int
	closeCh chan struct{}
}

func (c *countingCloser) Close() error {
	c.closed++
	if c.closed == 1 {
		close(c.closeCh)
	}
	return nil
}

func TestRunWithContextCloser(t *testing.T) {
	c := &countingCloser{closeCh: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunWithContextCloser(ctx, c, func() error {
		<-c.closeCh
		return errors.New("closed")
	})
	require.Equal(t, context.Canceled, err)
	require.Equal(t, 1, c.closed)

	c = &countingCloser{closeCh: make(chan struct{})}
	failure := errors.New("failure")
	err = RunWithContextCloser(context.Background(), c, func() error { return failure })
	require.Equal(t, failure, err)
	require.Equal(t, 1, c.closed)
}

func TestRunnerStopOnError(t *testing.T) {
	failure := errors.New("failure")
	r := NewRunner()
	r.StopOnError = true
	r.Go(
		NamedRun("fail", RunFunc(func(context.Context) error { return failure })),
		NamedRun("wait", RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})),
	)
	err := r.Wait()
	require.Error(t, err)
	require.Equal(t, &AggregatedError{Errors: []error{failure}}, err)
}
