package domain

import (
	"strings"
	"unicode"
)

var transitions = map[string][]string{
	StatusCreated:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether a match may move from one status to another.
// COMPLETED and CANCELLED are terminal.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

func IsStatus(v string) bool {
	switch v {
	case StatusCreated, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// StatusRank orders statuses along the lifecycle. Both terminal states share the
// highest rank; an observed status never moves to a lower rank.
func StatusRank(status string) int {
	switch status {
	case StatusCreated:
		return 0
	case StatusAccepted:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusCancelled:
		return 3
	}
	return -1
}

// ValidBestOf reports whether n is an odd number of games in [MinBestOf, MaxBestOf].
func ValidBestOf(n int) bool {
	return n >= MinBestOf && n <= MaxBestOf && n%2 == 1
}

func ValidStake(cents int64) bool {
	return cents >= MinStakeCents && cents <= MaxStakeCents
}

// NormalizeRoomCode upper-cases and trims a user-typed code. Codes compare case-insensitively.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code (already normalized) is 6 ASCII letters or digits.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsUpper(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

// ExpectedPot is the pot once both players have paid the stake.
func ExpectedPot(stakeCents int64) int64 {
	return stakeCents * 2
}

// PlatformFee is the part of the pot kept by the platform, rounded down to the cent.
func PlatformFee(potCents int64, feePercent int) int64 {
	return potCents * int64(feePercent) / 100
}

// Payout is what the winner is credited for a pot.
func Payout(potCents int64, feePercent int) int64 {
	return potCents - PlatformFee(potCents, feePercent)
}
