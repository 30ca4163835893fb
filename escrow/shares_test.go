package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildvault/escrow-engine/ledger"
)

func TestValidateShares_ExactSumRequired(t *testing.T) {
	shares := []PayeeShare{
		{PayeeID: "gc-1", Amount: 20_000},
		{PayeeID: "sub-1", Amount: 10_000},
	}
	assert.NoError(t, ValidateShares("ms-1", 30_000, shares))

	assert.ErrorIs(t, ValidateShares("ms-1", 30_001, shares), ledger.ErrShareMismatch)
	assert.ErrorIs(t, ValidateShares("ms-1", 29_999, shares), ledger.ErrShareMismatch)
}

func TestValidateShares_RejectsEmptyAndNonPositive(t *testing.T) {
	assert.Error(t, ValidateShares("ms-1", 30_000, nil))
	assert.Error(t, ValidateShares("ms-1", 30_000, []PayeeShare{
		{PayeeID: "gc-1", Amount: 30_000},
		{PayeeID: "sub-1", Amount: 0},
	}))
	assert.Error(t, ValidateShares("ms-1", 30_000, []PayeeShare{
		{PayeeID: "gc-1", Amount: 40_000},
		{PayeeID: "sub-1", Amount: -10_000},
	}))
}

func TestSplitByBasisPoints_RemainderToFirstShare(t *testing.T) {
	// 10,001 split 50/30/20 doesn't divide evenly; the cent goes to the
	// first share so the sum is exact.
	shares, err := SplitByBasisPoints(10_001, []SplitSpec{
		{PayeeID: "gc-1", BasisPoints: 5000},
		{PayeeID: "sub-1", BasisPoints: 3000},
		{PayeeID: "sub-2", BasisPoints: 2000},
	})
	require.NoError(t, err)
	require.Len(t, shares, 3)

	assert.Equal(t, ledger.Amount(10_001), SumShares(shares), "split must conserve the amount")
	assert.Equal(t, ledger.Amount(5_001), shares[0].Amount)
	assert.Equal(t, ledger.Amount(3_000), shares[1].Amount)
	assert.Equal(t, ledger.Amount(2_000), shares[2].Amount)
}

func TestSplitByBasisPoints_MustSumToWhole(t *testing.T) {
	_, err := SplitByBasisPoints(10_000, []SplitSpec{
		{PayeeID: "gc-1", BasisPoints: 5000},
		{PayeeID: "sub-1", BasisPoints: 4000},
	})
	assert.Error(t, err, "9000 basis points must be rejected")
}

func TestProrateShares_PartialKeepsProportions(t *testing.T) {
	full := []PayeeShare{
		{PayeeID: "gc-1", Amount: 20_000},
		{PayeeID: "sub-1", Amount: 10_000},
	}

	partial, err := ProrateShares(full, 18_000)
	require.NoError(t, err)

	assert.Equal(t, ledger.Amount(18_000), SumShares(partial), "proration must conserve the partial amount")
	assert.Equal(t, ledger.Amount(12_000), partial[0].Amount)
	assert.Equal(t, ledger.Amount(6_000), partial[1].Amount)
}

func TestProrateShares_RoundingRemainderConserved(t *testing.T) {
	full := []PayeeShare{
		{PayeeID: "gc-1", Amount: 3_333},
		{PayeeID: "sub-1", Amount: 3_333},
		{PayeeID: "sub-2", Amount: 3_334},
	}

	// Halving doesn't divide evenly; the leftover cent lands on the first
	// share, never minted or lost.
	partial, err := ProrateShares(full, 5_000)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(5_000), SumShares(partial))
	assert.Equal(t, ledger.Amount(1_667), partial[0].Amount)
	assert.Equal(t, ledger.Amount(1_666), partial[1].Amount)
	assert.Equal(t, ledger.Amount(1_667), partial[2].Amount)
}

func TestProrateShares_RejectsOverFull(t *testing.T) {
	full := []PayeeShare{{PayeeID: "gc-1", Amount: 10_000}}
	_, err := ProrateShares(full, 10_001)
	assert.Error(t, err)
}

func TestScaleShares_GrowsProportionally(t *testing.T) {
	full := []PayeeShare{
		{PayeeID: "gc-1", Amount: 20_000},
		{PayeeID: "sub-1", Amount: 10_000},
	}

	scaled, err := ScaleShares(full, 45_000)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(45_000), SumShares(scaled))
	assert.Equal(t, ledger.Amount(30_000), scaled[0].Amount)
	assert.Equal(t, ledger.Amount(15_000), scaled[1].Amount)
}

func TestScaleShares_GrowthRemainderConserved(t *testing.T) {
	full := []PayeeShare{
		{PayeeID: "gc-1", Amount: 5_000},
		{PayeeID: "sub-1", Amount: 5_000},
	}

	// 10,001 doesn't split evenly; the leftover cent lands on the first
	// share, never minted or lost.
	scaled, err := ScaleShares(full, 10_001)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(10_001), SumShares(scaled))
	assert.Equal(t, ledger.Amount(5_001), scaled[0].Amount)
	assert.Equal(t, ledger.Amount(5_000), scaled[1].Amount)
}

func TestScaleShares_RejectsNonPositiveTotal(t *testing.T) {
	full := []PayeeShare{{PayeeID: "gc-1", Amount: 10_000}}
	_, err := ScaleShares(full, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}
