package order

import (
	"testing"
	"time"

	"github.com/raykavin/traderun/core"
	"github.com/raykavin/traderun/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(instrument string, size, price float64, role core.FillRole) core.Fill {
	return core.Fill{
		Time:       time.Now(),
		Instrument: instrument,
		Size:       size,
		Price:      price,
		Role:       role,
	}
}

func TestAccountant_ScaledLongRoundTrip(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	require.Nil(t, acc.OnFill(fill("EURUSD", 10, 100, core.FillRoleOpen)))
	require.Nil(t, acc.OnFill(fill("EURUSD", 10, 110, core.FillRoleOpen)))

	result := acc.OnFill(fill("EURUSD", -20, 120, core.FillRoleClose))
	require.NotNil(t, result)

	assert.Equal(t, core.SideTypeBuy, result.Side)
	assert.Equal(t, 105.0, result.AvgOpen)
	assert.Equal(t, 120.0, result.AvgClose)
	assert.Equal(t, 20.0, result.Quantity)
	assert.False(t, result.Suspect)

	// Close return against the volume-weighted open, per-open returns
	// against each original entry price
	assert.Equal(t, []float64{0.1429}, result.Returns.PerClose)
	assert.Equal(t, []float64{0.2, 0.0909}, result.Returns.PerOpen)
}

func TestAccountant_ShortRoundTrip(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	require.Nil(t, acc.OnFill(fill("EURUSD", -10, 100, core.FillRoleOpen)))

	result := acc.OnFill(fill("EURUSD", 10, 90, core.FillRoleClose))
	require.NotNil(t, result)

	assert.Equal(t, core.SideTypeSell, result.Side)
	assert.Equal(t, 10.0, result.Quantity)
	assert.Equal(t, []float64{0.1}, result.Returns.PerClose)
	assert.Equal(t, []float64{0.1}, result.Returns.PerOpen)
}

func TestAccountant_PartialClosesAccumulatePerCloseReturns(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	require.Nil(t, acc.OnFill(fill("EURUSD", 20, 100, core.FillRoleOpen)))
	require.Nil(t, acc.OnFill(fill("EURUSD", -10, 110, core.FillRoleClose)))

	result := acc.OnFill(fill("EURUSD", -10, 120, core.FillRoleClose))
	require.NotNil(t, result)

	assert.Equal(t, []float64{0.1, 0.2}, result.Returns.PerClose)
	// avgClose = (110*-10 + 120*-10) / -20 = 115
	assert.Equal(t, 115.0, result.AvgClose)
	assert.Equal(t, []float64{0.15}, result.Returns.PerOpen)
}

func TestAccountant_PerOpenSignFollowsFinalCloseDirection(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	require.Nil(t, acc.OnFill(fill("EURUSD", 10, 100, core.FillRoleOpen)))
	require.Nil(t, acc.OnFill(fill("EURUSD", -4, 105, core.FillRoleOpen)))

	result := acc.OnFill(fill("EURUSD", -6, 110, core.FillRoleClose))
	require.NotNil(t, result)

	// Every open leg takes the sign implied by the flattening fill's
	// direction, including the sell-side scale-out leg
	assert.Equal(t, []float64{0.1, 0.0476}, result.Returns.PerOpen)
}

func TestAccountant_InstrumentsAreIndependent(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	require.Nil(t, acc.OnFill(fill("EURUSD", 10, 100, core.FillRoleOpen)))
	require.Nil(t, acc.OnFill(fill("GBPUSD", -5, 200, core.FillRoleOpen)))

	result := acc.OnFill(fill("GBPUSD", 5, 190, core.FillRoleClose))
	require.NotNil(t, result)
	require.Equal(t, "GBPUSD", result.Instrument)

	// EURUSD is still open and its series untouched
	assert.Empty(t, acc.Returns("EURUSD").PerClose)
}

func TestAccountant_ReturnsAccumulateAcrossTrades(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	acc.OnFill(fill("EURUSD", 10, 100, core.FillRoleOpen))
	acc.OnFill(fill("EURUSD", -10, 110, core.FillRoleClose))
	acc.OnFill(fill("EURUSD", 10, 110, core.FillRoleOpen))
	result := acc.OnFill(fill("EURUSD", -10, 99, core.FillRoleClose))

	require.NotNil(t, result)
	assert.Equal(t, []float64{0.1, -0.1}, result.Returns.PerClose)
	assert.Equal(t, []float64{0.1, -0.1}, result.Returns.PerOpen)
}

func TestAccountant_SuspectFlagSticksToInstrument(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	acc.OnFill(fill("EURUSD", 10, 100, core.FillRoleOpen))
	acc.Flag("EURUSD")
	require.True(t, acc.Suspect("EURUSD"))
	require.False(t, acc.Suspect("GBPUSD"))

	result := acc.OnFill(fill("EURUSD", -10, 110, core.FillRoleClose))
	require.NotNil(t, result)
	assert.True(t, result.Suspect)
}

func TestAccountant_ReturnsAreCopies(t *testing.T) {
	acc := NewAccountant(logger.Discard)

	acc.OnFill(fill("EURUSD", 10, 100, core.FillRoleOpen))
	acc.OnFill(fill("EURUSD", -10, 110, core.FillRoleClose))

	first := acc.Returns("EURUSD")
	first.PerClose[0] = 99

	assert.Equal(t, []float64{0.1}, acc.Returns("EURUSD").PerClose)
}
