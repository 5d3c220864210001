package armadacontext

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultLogger = logrus.NewEntry(logrus.New()).WithField("component", "test")

func TestNew(t *testing.T) {
	ctx := New(context.Background(), defaultLogger)
	require.Equal(t, defaultLogger, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestBackground(t *testing.T) {
	ctx := Background()
	require.Equal(t, context.Background(), ctx.Context)
	require.NotNil(t, ctx.Log)
}

func TestWithLogField(t *testing.T) {
	ctx := WithLogField(Background(), "pass", 3)
	require.Equal(t, context.Background(), ctx.Context)
	require.Equal(t, logrus.Fields{"pass": 3}, ctx.Log.Data)
}

func TestWithLogFields(t *testing.T) {
	ctx := WithLogFields(Background(), logrus.Fields{"pass": 3, "jobId": "abc"})
	require.Equal(t, logrus.Fields{"pass": 3, "jobId": "abc"}, ctx.Log.Data)
}

func TestWithCancel(t *testing.T) {
	ctx, cancel := WithCancel(New(context.Background(), defaultLogger))
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
	assert.Equal(t, defaultLogger, ctx.Log)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(Background(), 10*time.Millisecond)
	defer cancel()
	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("context did not time out")
	}
}

func TestErrGroup(t *testing.T) {
	g, ctx := ErrGroup(Background())
	expected := errors.New("boom")
	g.Go(func() error { return expected })
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	assert.Equal(t, expected, g.Wait())
}
