package dept

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

func TestProvider_RebuildSwaps(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rows := sampleRows()
	p := NewProvider(LoaderFunc(func(ctx context.Context) ([]Department, error) {
		return rows, nil
	}), logger, time.Second)

	assert.Nil(t, p.Current())
	assert.True(t, p.BuiltAt().IsZero())

	h, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, p.Current())
	assert.False(t, p.BuiltAt().IsZero())

	rows = append(rows, Department{ID: 8, ParentID: parent(6), Name: "Kiosk"})
	h2, err := p.Rebuild(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.Contains(t, h2.SubtreeIDs(2), int64(8))
	assert.NotContains(t, h.SubtreeIDs(2), int64(8))
}

func TestProvider_ConcurrentRebuildsKeepLatestLoad(t *testing.T) {
	logger, _ := test.NewNullLogger()
	before := sampleRows()
	after := append(sampleRows(), Department{ID: 8, ParentID: parent(6), Name: "Kiosk"})

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewProvider(LoaderFunc(func(ctx context.Context) ([]Department, error) {
		if calls.Add(1) == 1 {
			// the first load reads the table before the change and is slow to return
			close(started)
			<-release
			return before, nil
		}
		return after, nil
	}), logger, time.Second)

	first := make(chan error, 1)
	go func() {
		_, err := p.Rebuild(context.Background())
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := p.Rebuild(context.Background())
		second <- err
	}()

	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"second rebuild must wait for the first")

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, p.Current().Contains(8), "hierarchy in service comes from the later load")
}

func TestProvider_FailedRebuildKeepsPrevious(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rows := sampleRows()
	var loadErr error
	p := NewProvider(LoaderFunc(func(ctx context.Context) ([]Department, error) {
		return rows, loadErr
	}), logger, time.Second)

	good, err := p.Rebuild(context.Background())
	require.NoError(t, err)

	// cycle
	rows = []Department{{ID: 1, ParentID: parent(2)}, {ID: 2, ParentID: parent(1)}}
	_, err = p.Rebuild(context.Background())
	assert.True(t, errors.Is(err, accesserr.ErrCycleDetected))
	assert.Same(t, good, p.Current())

	// loader failure
	loadErr = errors.New("connection refused")
	_, err = p.Rebuild(context.Background())
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
	assert.Same(t, good, p.Current())

	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestProvider_LogsOrphans(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewProvider(LoaderFunc(func(ctx context.Context) ([]Department, error) {
		return []Department{{ID: 1, ParentID: parent(9)}}, nil
	}), logger, 0)

	_, err := p.Rebuild(context.Background())
	require.NoError(t, err)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["dept_id"] == int64(1) {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestProvider_LoadTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewProvider(LoaderFunc(func(ctx context.Context) ([]Department, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), logger, 10*time.Millisecond)

	_, err := p.Rebuild(context.Background())
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
