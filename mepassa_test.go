package mepassa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndRunRoundTrip(t *testing.T) {
	eng, err := New(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Run(ctx, eng)

	assert.NotNil(t, HandlerFor(eng))

	convs, err := eng.ListConversations()
	require.NoError(t, err)
	assert.Empty(t, convs)
}
