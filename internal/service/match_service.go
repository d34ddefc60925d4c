package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"fgcmatch/config"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/repository"
)

// Operation names used by the in-flight guard.
const (
	OpCreate   = "create"
	OpAccept   = "accept"
	OpStart    = "start"
	OpComplete = "complete"
	OpCancel   = "cancel"
	OpLeave    = "leave"
)

type CreateMatchParams struct {
	Game                 string `json:"game"`
	Type                 string `json:"match_type"`
	StakeCents           int64  `json:"stake_cents"`
	BestOf               int    `json:"best_of"`
	Platform             string `json:"platform"`
	IsPrivate            bool   `json:"is_private"`
	Rules                string `json:"rules"`
	SpectatorChatEnabled bool   `json:"spectator_chat_enabled"`
	StreamURL            string `json:"stream_url"`
}

// ClientStats are the figures the winner's client observed during the match.
type ClientStats struct {
	DurationSeconds int `json:"duration_seconds"`
	APM             int `json:"apm"`
	DamageDealt     int `json:"damage_dealt"`
	DamageTaken     int `json:"damage_taken"`
}

// MatchService drives the match state machine. It never changes a match
// locally: every transition is one remote call and the cache is reconciled
// from the server's answer.
type MatchService struct {
	repo    *repository.MatchRepository
	wallets *repository.WalletRepository
	cache   *cache.Cache
	id      Identity
	guard   *inflight
	wait    time.Duration
	logger  *slog.Logger
}

func NewMatchService(cfg *config.Config, repo *repository.MatchRepository, wallets *repository.WalletRepository, c *cache.Cache, id Identity, logger *slog.Logger) *MatchService {
	return &MatchService{
		repo:    repo,
		wallets: wallets,
		cache:   c,
		id:      id,
		guard:   newInflight(),
		wait:    cfg.Session.MutationWait,
		logger:  logger.With("component", "matches"),
	}
}

func (p *CreateMatchParams) normalize() error {
	const op = "create match"
	if p.Type == "" {
		p.Type = domain.MatchTypeQuickDuel
	}
	if p.Platform == "" {
		p.Platform = domain.PlatformPC
	}
	p.Game = strings.TrimSpace(p.Game)
	p.Rules = strings.TrimSpace(p.Rules)
	p.StreamURL = strings.TrimSpace(p.StreamURL)
	switch {
	case !domain.IsMatchType(p.Type):
		return domain.E(domain.ErrInvalidParameters, op, "unknown match type "+p.Type)
	case !domain.ValidStake(p.StakeCents):
		return domain.E(domain.ErrInvalidAmount, op, "stake must be between $1.00 and $1000.00")
	case !domain.ValidBestOf(p.BestOf):
		return domain.E(domain.ErrInvalidParameters, op, "best of must be an odd number from 1 to 7")
	case !domain.IsPlatform(p.Platform):
		return domain.E(domain.ErrInvalidParameters, op, "unknown platform "+p.Platform)
	}
	if p.StreamURL != "" {
		u, err := url.Parse(p.StreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.E(domain.ErrInvalidParameters, op, "stream url must be an http(s) link")
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// checkBalance refuses to submit a debit larger than the known balance. The
// server re-checks; this only keeps doomed requests off the wire.
func (s *MatchService) checkBalance(ctx context.Context, op, userID string, cents int64) error {
	w, err := loadWallet(ctx, s.cache, s.wallets, userID)
	if err != nil {
		return err
	}
	if cents > w.BalanceCents {
		return domain.E(domain.ErrInsufficientFunds, op, "insufficient funds: balance is "+w.Formatted())
	}
	return nil
}

// reconcile refreshes the cache after a mutation whose outcome may have
// changed server state: success, a lost race or an unknown network result.
func (s *MatchService) reconcile(err error, keys ...string) {
	if err == nil || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNetwork) {
		s.cache.Invalidate(keys...)
	}
}

// CreateMatch debits the stake and creates the match in one server call.
func (s *MatchService) CreateMatch(ctx context.Context, p CreateMatchParams) (*models.MatchResult, error) {
	const op = "create match"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	uid := sess.UserID()
	if err := s.checkBalance(ctx, op, uid, p.StakeCents); err != nil {
		return nil, err
	}
	release, err := s.guard.acquire(OpCreate, uid)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	res, err := s.repo.Create(mctx, repository.CreateMatchInput{
		Game:                 p.Game,
		MatchType:            p.Type,
		StakeCents:           p.StakeCents,
		BestOf:               p.BestOf,
		Platform:             p.Platform,
		IsPrivate:            p.IsPrivate,
		Rules:                p.Rules,
		SpectatorChatEnabled: p.SpectatorChatEnabled,
		StreamURL:            optional(p.StreamURL),
	})
	s.reconcile(err, cache.PrefixMatchLists, cache.WalletKey(uid), cache.TransactionsKey(uid))
	if err != nil {
		return nil, err
	}
	s.logger.Info("match created", "match_id", res.MatchID, "stake_cents", p.StakeCents, "private", p.IsPrivate)
	return res, nil
}

// fresh reads the match from the server and records it in the cache.
func (s *MatchService) fresh(ctx context.Context, matchID string) (*models.Match, error) {
	if strings.TrimSpace(matchID) == "" {
		return nil, domain.E(domain.ErrInvalidParameters, "get match", "match id is required")
	}
	m, err := s.repo.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	s.Apply(*m)
	return m, nil
}

// AcceptMatch takes the open seat of a match. When two players race, the
// server lets exactly one through and the other gets ErrAlreadyAccepted.
func (s *MatchService) AcceptMatch(ctx context.Context, matchID string) error {
	const op = "accept match"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return err
	}
	uid := sess.UserID()
	m, err := s.fresh(ctx, matchID)
	if err != nil {
		return err
	}
	switch {
	case m.IsCreator(uid):
		return domain.E(domain.ErrForbidden, op, "you cannot accept your own match")
	case m.Status != domain.StatusCreated && m.AcceptedBy != nil:
		return domain.E(domain.ErrAlreadyAccepted, op, "match was already accepted by another player")
	case m.Status != domain.StatusCreated:
		return domain.E(domain.ErrInvalidState, op, "match is "+strings.ToLower(m.Status))
	}
	if err := s.checkBalance(ctx, op, uid, m.StakeCents); err != nil {
		return err
	}
	release, err := s.guard.acquire(OpAccept, matchID)
	if err != nil {
		return err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	_, err = s.repo.Join(mctx, matchID)
	s.reconcile(err, cache.MatchKey(matchID), cache.PrefixMatchLists, cache.WalletKey(uid), cache.TransactionsKey(uid))
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Info("accept lost", "match_id", matchID, "error", err)
		}
		return err
	}
	s.logger.Info("match accepted", "match_id", matchID)
	return nil
}

// JoinByRoomCode accepts the match behind a room code. Codes are case-insensitive.
func (s *MatchService) JoinByRoomCode(ctx context.Context, code string) (string, error) {
	const op = "join by room code"
	if _, err := requireUser(s.id, op); err != nil {
		return "", err
	}
	code = domain.NormalizeRoomCode(code)
	if !domain.ValidRoomCode(code) {
		return "", domain.E(domain.ErrInvalidParameters, op, "room code must be 6 letters or digits")
	}
	m, err := s.repo.FindByRoomCode(ctx, code)
	if err != nil {
		return "", err
	}
	if err := s.AcceptMatch(ctx, m.ID); err != nil {
		return "", err
	}
	return m.ID, nil
}

func (s *MatchService) StartMatch(ctx context.Context, matchID string) (*models.Match, error) {
	const op = "start match"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	uid := sess.UserID()
	m, err := s.fresh(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsCreator(uid) {
		return nil, domain.E(domain.ErrForbidden, op, "only the creator can start the match")
	}
	if !domain.CanTransition(m.Status, domain.StatusInProgress) {
		return nil, domain.E(domain.ErrInvalidState, op, "match must be accepted before it starts")
	}
	release, err := s.guard.acquire(OpStart, matchID)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	started, err := s.repo.Start(mctx, matchID, uid)
	if err != nil {
		s.reconcile(err, cache.MatchKey(matchID), cache.PrefixMatchLists)
		return nil, err
	}
	s.Apply(*started)
	s.cache.Invalidate(cache.PrefixMatchLists)
	s.logger.Info("match started", "match_id", matchID)
	out, ok := cache.GetAs[models.Match](s.cache, cache.MatchKey(matchID))
	if !ok {
		return started, nil
	}
	return &out, nil
}

// CompleteMatch claims victory for the caller. Settlement and payout happen
// atomically on the server, which is also the only arbiter of the claim.
func (s *MatchService) CompleteMatch(ctx context.Context, matchID string, stats ClientStats) (*models.MatchResult, error) {
	const op = "complete match"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return nil, err
	}
	uid := sess.UserID()
	m, err := s.fresh(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsParticipant(uid) {
		return nil, domain.E(domain.ErrForbidden, op, "only a participant can claim the win")
	}
	if m.Status != domain.StatusInProgress {
		return nil, domain.E(domain.ErrInvalidState, op, "match is not in progress")
	}
	release, err := s.guard.acquire(OpComplete, matchID)
	if err != nil {
		return nil, err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	res, err := s.repo.Complete(mctx, matchID, uid)
	keys := []string{cache.MatchKey(matchID), cache.PrefixMatchLists, cache.WalletKey(uid), cache.TransactionsKey(uid)}
	if err != nil {
		s.reconcile(err, keys...)
		return nil, err
	}
	err = s.repo.InsertStats(mctx, models.MatchStats{
		MatchID:         matchID,
		PlayerID:        uid,
		DurationSeconds: stats.DurationSeconds,
		APM:             stats.APM,
		DamageDealt:     stats.DamageDealt,
		DamageTaken:     stats.DamageTaken,
	})
	if err != nil {
		s.logger.Warn("match stats not recorded", "match_id", matchID, "error", err)
	}
	// match and wallet changed in one transaction; refresh them together
	s.cache.Invalidate(keys...)
	s.logger.Info("match completed", "match_id", matchID, "payout_cents", res.Payout)
	return res, nil
}

// CancelMatch refunds the stakes. The creator may cancel an open match;
// either participant may cancel one that has not started.
func (s *MatchService) CancelMatch(ctx context.Context, matchID string) error {
	const op = "cancel match"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return err
	}
	uid := sess.UserID()
	m, err := s.fresh(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(uid) {
		return domain.E(domain.ErrForbidden, op, "only a participant can cancel the match")
	}
	if !domain.CanTransition(m.Status, domain.StatusCancelled) {
		return domain.E(domain.ErrInvalidState, op, "match can no longer be cancelled")
	}
	release, err := s.guard.acquire(OpCancel, matchID)
	if err != nil {
		return err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	_, err = s.repo.Cancel(mctx, matchID)
	s.reconcile(err, cache.MatchKey(matchID), cache.PrefixMatchLists, cache.WalletKey(uid), cache.TransactionsKey(uid))
	if err != nil {
		return err
	}
	s.logger.Info("match cancelled", "match_id", matchID)
	return nil
}

// ApplyLeavePenalty records that the caller walked out of a running match.
func (s *MatchService) ApplyLeavePenalty(ctx context.Context, matchID string) error {
	const op = "leave match"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return err
	}
	uid := sess.UserID()
	m, err := s.fresh(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(uid) {
		return domain.E(domain.ErrForbidden, op, "not a participant of this match")
	}
	if m.Status != domain.StatusAccepted && m.Status != domain.StatusInProgress {
		return domain.E(domain.ErrInvalidState, op, "match is not running")
	}
	release, err := s.guard.acquire(OpLeave, matchID)
	if err != nil {
		return err
	}
	defer release()

	mctx, cancel := mutationContext(ctx, s.wait)
	defer cancel()
	err = s.repo.ApplyLeavePenalty(mctx, matchID, uid)
	s.reconcile(err, cache.MatchKey(matchID), cache.PrefixMatchLists, cache.WalletKey(uid), cache.TransactionsKey(uid))
	if err != nil {
		return err
	}
	s.logger.Warn("leave penalty applied", "match_id", matchID, "user_id", uid)
	return nil
}

// Apply records a server snapshot of a match unless the cache already holds
// a later one: status never moves backwards and older rows never replace
// newer ones. It reports whether the snapshot was stored.
func (s *MatchService) Apply(m models.Match) bool {
	key := cache.MatchKey(m.ID)
	stored := s.cache.Update(key, func(old interface{}, ok bool) (interface{}, bool) {
		cur, isMatch := old.(models.Match)
		if !ok || !isMatch {
			return m, true
		}
		next, cr := domain.StatusRank(m.Status), domain.StatusRank(cur.Status)
		if next < cr || (next == cr && m.UpdatedAt.Before(cur.UpdatedAt)) {
			return nil, false
		}
		if m.Creator == nil {
			m.Creator = cur.Creator
		}
		if m.Acceptor == nil && m.AcceptorID() == cur.AcceptorID() {
			m.Acceptor = cur.Acceptor
		}
		return m, true
	})
	// a settled match is not polled again
	if cur, ok := cache.GetAs[models.Match](s.cache, key); ok && domain.IsTerminal(cur.Status) {
		s.cache.Unregister(key)
	}
	return stored
}

func (s *MatchService) ListOpen(ctx context.Context) ([]models.Match, error) {
	return cache.FetchAs(ctx, s.cache, cache.KeyOpenMatches, s.repo.ListOpen)
}

func (s *MatchService) ListMine(ctx context.Context) ([]models.Match, error) {
	sess, err := requireUser(s.id, "list my matches")
	if err != nil {
		return nil, err
	}
	uid := sess.UserID()
	return cache.FetchAs(ctx, s.cache, cache.UserMatchesKey(uid), func(ctx context.Context) ([]models.Match, error) {
		return s.repo.ListByUser(ctx, uid)
	})
}

func (s *MatchService) GetMatch(ctx context.Context, matchID string) (models.Match, error) {
	if strings.TrimSpace(matchID) == "" {
		return models.Match{}, domain.E(domain.ErrInvalidParameters, "get match", "match id is required")
	}
	key := cache.MatchKey(matchID)
	m, err := cache.FetchAs(ctx, s.cache, key, func(ctx context.Context) (models.Match, error) {
		m, err := s.repo.Get(ctx, matchID)
		if err != nil {
			return models.Match{}, err
		}
		if domain.IsTerminal(m.Status) {
			s.cache.Unregister(key)
		}
		return *m, nil
	})
	if err == nil && domain.IsTerminal(m.Status) {
		s.cache.Unregister(key)
	}
	return m, err
}

// Suggested lists open matches the caller could join.
func (s *MatchService) Suggested(ctx context.Context) ([]models.Match, error) {
	sess, err := requireUser(s.id, "suggest matches")
	if err != nil {
		return nil, err
	}
	return s.repo.Suggested(ctx, sess.UserID())
}

// InFlight reports whether op is currently running for the match, so the UI
// can keep its button disabled.
func (s *MatchService) InFlight(op, matchID string) bool {
	return s.guard.active(op, matchID)
}
