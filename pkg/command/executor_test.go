package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecuteSuccess(t *testing.T) {
	ex := NewExecutor(zap.NewNop(), 0)
	err := ex.Execute(context.Background(), "echo hello")
	assert.NoError(t, err)
}

func TestExecuteFailure(t *testing.T) {
	ex := NewExecutor(zap.NewNop(), 0)
	err := ex.Execute(context.Background(), "false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "false")
}

func TestExecuteTimeout(t *testing.T) {
	ex := NewExecutor(zap.NewNop(), 50*time.Millisecond)
	start := time.Now()
	err := ex.Execute(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteTimeoutWithBackgroundChild(t *testing.T) {
	// The forked child keeps the output pipes open after the shell dies;
	// Run must still return within the wait delay.
	ex := NewExecutor(zap.NewNop(), 50*time.Millisecond)
	start := time.Now()
	err := ex.Execute(context.Background(), "sleep 5 & wait")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteCanceledContext(t *testing.T) {
	ex := NewExecutor(zap.NewNop(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ex.Execute(ctx, "echo hi")
	assert.Error(t, err)
}
