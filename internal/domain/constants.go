package domain

const (
	MatchTypeQuickDuel       = "QUICK_DUEL"
	MatchTypeRanked          = "RANKED"
	MatchTypeDirectChallenge = "DIRECT_CHALLENGE"
)

const (
	StatusCreated    = "CREATED"
	StatusAccepted   = "ACCEPTED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

const (
	PlatformPC     = "PC"
	PlatformMobile = "MOBILE"
)

const (
	TxDeposit    = "DEPOSIT"
	TxWithdrawal = "WITHDRAWAL"
	TxEntryFee   = "ENTRY_FEE"
	TxPayout     = "PAYOUT"
	TxRefund     = "REFUND"
)

const (
	WithdrawBank   = "BANK"
	WithdrawPayPal = "PAYPAL"
	WithdrawUPI    = "UPI"
)

const (
	NotificationFriendRequest = "FRIEND_REQUEST"
	NotificationMatchInvite   = "MATCH_INVITE"
	NotificationMessage       = "MESSAGE"
	NotificationDispute       = "DISPUTE"
	NotificationTransaction   = "TRANSACTION"
	NotificationAlert         = "ALERT"
)

const (
	TicketOpen     = "OPEN"
	TicketResolved = "RESOLVED"
	TicketClosed   = "CLOSED"
)

const (
	FlagPending   = "PENDING"
	FlagReviewed  = "REVIEWED"
	FlagBanned    = "BANNED"
	FlagDismissed = "DISMISSED"
)

const RoleAdmin = "admin"

// Stake limits in cents, inclusive.
const (
	MinStakeCents = 100
	MaxStakeCents = 100000
)

// Deposit limits in cents for a single real-money payment, inclusive.
const (
	MinDepositCents = 100
	MaxDepositCents = 1000000
)

const (
	MinBestOf = 1
	MaxBestOf = 7
)

const RoomCodeLength = 6

// DefaultFeePercent is the platform fee the backend deducts from the pot at settlement.
const DefaultFeePercent = 5

var MatchTypes = []string{MatchTypeQuickDuel, MatchTypeRanked, MatchTypeDirectChallenge}

var Platforms = []string{PlatformPC, PlatformMobile}

var WithdrawalMethods = []string{WithdrawBank, WithdrawPayPal, WithdrawUPI}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func IsMatchType(v string) bool        { return contains(MatchTypes, v) }
func IsPlatform(v string) bool         { return contains(Platforms, v) }
func IsWithdrawalMethod(v string) bool { return contains(WithdrawalMethods, v) }
