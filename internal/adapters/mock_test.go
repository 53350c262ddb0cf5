package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderDeterministic(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	a, err := m.FetchQuotes(ctx, []string{"PETR4", "WEGE3"})
	require.NoError(t, err)
	b, err := m.FetchQuotes(ctx, []string{"petr4", "WEGE3"})
	require.NoError(t, err)

	assert.Equal(t, "PETROBRAS PN", a[0].Name)
	assert.Equal(t, a[1].Price, b[1].Price, "synthetic quotes are stable")
	assert.Greater(t, a[1].Price, 0.0)

	quotes, history, macro := m.Calls()
	assert.Equal(t, 2, quotes)
	assert.Zero(t, history)
	assert.Zero(t, macro)
}

func TestMockProviderHistory(t *testing.T) {
	m := NewMockProvider()
	candles, err := m.FetchHistory(context.Background(), "VALE3", "5d")
	require.NoError(t, err)
	require.Len(t, candles, 5)
	assert.Less(t, candles[0].Date, candles[4].Date)
	for _, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Low)
	}
}

func TestMockProviderFailureInjection(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	m.Fail("VALE3")
	_, err := m.FetchQuotes(ctx, []string{"PETR4", "VALE3"})
	require.Error(t, err)
	assert.Equal(t, KindProvider, KindOf(err))

	_, err = m.FetchQuotes(ctx, []string{"PETR4"})
	assert.NoError(t, err)

	m.SetDown(true)
	_, err = m.FetchHistory(ctx, "PETR4", "1mo")
	assert.Error(t, err)

	m.SetMacro(false, false)
	_, err = m.FetchMacro(ctx)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	m.SetMacro(true, true)
	_, err = m.FetchMacro(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotConfigured))
}
