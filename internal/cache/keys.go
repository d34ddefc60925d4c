package cache

// Cache keys. Invalidate matches by prefix, so "matches:" covers both match
// lists and "match:" every single match.
const (
	KeyOpenMatches = "matches:open"
	KeyLeaderboard = "leaderboard"

	PrefixMatchLists    = "matches:"
	PrefixMatch         = "match:"
	PrefixWallet        = "wallet:"
	PrefixTransactions  = "transactions:"
	PrefixWithdrawals   = "withdrawals:"
	PrefixNotifications = "notifications:"
)

func UserMatchesKey(userID string) string   { return "matches:user:" + userID }
func MatchKey(matchID string) string        { return PrefixMatch + matchID }
func WalletKey(userID string) string        { return PrefixWallet + userID }
func TransactionsKey(userID string) string  { return PrefixTransactions + userID }
func WithdrawalsKey(userID string) string   { return PrefixWithdrawals + userID }
func NotificationsKey(userID string) string { return PrefixNotifications + userID }
