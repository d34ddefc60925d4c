package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindHierarchy(t *testing.T) {
	err := E(ErrAlreadyAccepted, "accept match", "someone was faster")
	assert.True(t, errors.Is(err, ErrAlreadyAccepted))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, ErrAlreadyAccepted, KindOf(err))

	wrapped := fmt.Errorf("ui: %w", Wrap(ErrMalformedResponse, "get wallet", errors.New("bad json")))
	assert.True(t, errors.Is(wrapped, ErrNetwork))
	assert.Equal(t, ErrMalformedResponse, KindOf(wrapped))
	assert.Equal(t, "get wallet: malformed server response: bad json", errors.Unwrap(wrapped).Error())
}

func TestMessageAndRecoverable(t *testing.T) {
	assert.Equal(t, "someone was faster", Message(E(ErrAlreadyAccepted, "accept match", "someone was faster")))
	assert.Equal(t, "insufficient funds", Message(E(ErrInsufficientFunds, "create match", "")))
	assert.Equal(t, "", Message(nil))
	assert.True(t, IsRecoverable(E(ErrInvalidAmount, "", "")))
	assert.True(t, IsRecoverable(E(ErrInsufficientFunds, "", "")))
	assert.False(t, IsRecoverable(E(ErrNetwork, "", "")))
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestKindByCode(t *testing.T) {
	for _, k := range kinds {
		assert.Equal(t, k, KindByCode(k.Code()))
	}
	assert.Nil(t, KindByCode("nope"))
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{StatusCreated, StatusAccepted, true},
		{StatusCreated, StatusCancelled, true},
		{StatusCreated, StatusInProgress, false},
		{StatusAccepted, StatusInProgress, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusCreated, false},
		{StatusCancelled, StatusAccepted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
	assert.True(t, IsTerminal(StatusCancelled))
	assert.Less(t, StatusRank(StatusAccepted), StatusRank(StatusInProgress))
	assert.Equal(t, StatusRank(StatusCompleted), StatusRank(StatusCancelled))
}

func TestValidation(t *testing.T) {
	assert.True(t, ValidBestOf(1))
	assert.True(t, ValidBestOf(7))
	assert.False(t, ValidBestOf(4))
	assert.False(t, ValidBestOf(9))
	assert.True(t, ValidStake(MinStakeCents))
	assert.False(t, ValidStake(MinStakeCents-1))
	assert.False(t, ValidStake(MaxStakeCents+1))

	assert.Equal(t, "AF42B9", NormalizeRoomCode(" af42b9 "))
	assert.True(t, ValidRoomCode("AF42B9"))
	assert.False(t, ValidRoomCode("af42b9"))
	assert.False(t, ValidRoomCode("AF42B"))
	assert.False(t, ValidRoomCode("AF-2B9"))
}

func TestPayout(t *testing.T) {
	pot := ExpectedPot(500)
	assert.Equal(t, int64(1000), pot)
	assert.Equal(t, int64(50), PlatformFee(pot, DefaultFeePercent))
	assert.Equal(t, int64(950), Payout(pot, DefaultFeePercent))
	// fee rounds down to the cent
	assert.Equal(t, int64(10), PlatformFee(202, 5))
	assert.Equal(t, int64(192), Payout(202, 5))
}
