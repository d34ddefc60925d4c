package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchLifecycleSettlesThePot(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(500))
	require.NoError(t, err)
	require.NotEmpty(t, res.MatchID)
	assert.Equal(t, int64(500), ryu.balance(t))

	require.NoError(t, ken.matches.AcceptMatch(ctx, res.MatchID))
	assert.Equal(t, int64(500), ken.balance(t))

	started, err := ryu.matches.StartMatch(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, started.Status)

	out, err := ken.matches.CompleteMatch(ctx, res.MatchID, ClientStats{DurationSeconds: 240, APM: 61})
	require.NoError(t, err)
	assert.Equal(t, int64(950), out.Payout)
	assert.Equal(t, int64(1450), ken.balance(t))
	assert.Equal(t, int64(500), srv.Balance(ryu.uid))

	final, err := ken.matches.GetMatch(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, int64(1000), final.TotalPotCents)
	assert.Equal(t, ken.uid, final.Winner())
	assert.Len(t, srv.Rows("match_stats"), 1)
}

func TestCreateMatchChecksBalanceBeforeCalling(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 200)
	ctx := context.Background()

	_, err := ryu.matches.CreateMatch(ctx, duel(500))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 0, srv.Calls("create_match_with_wallet"))
	assert.False(t, ryu.cache.IsStale(cache.WalletKey(ryu.uid)))
	assert.Equal(t, int64(200), srv.Balance(ryu.uid))
}

func TestCreateMatchServerRejectsStaleBalance(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()
	assert.Equal(t, int64(1000), ryu.balance(t))

	srv.SetBalance(ryu.uid, 100)
	_, err := ryu.matches.CreateMatch(ctx, duel(500))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, srv.Calls("create_match_with_wallet"))
	assert.Empty(t, srv.Rows("matches"))
}

func TestCreateMatchValidation(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 100000)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateMatchParams
		kind   error
	}{
		{"stake too small", duel(50), domain.ErrInvalidAmount},
		{"stake too large", duel(200000), domain.ErrInvalidAmount},
		{"even best of", CreateMatchParams{StakeCents: 500, BestOf: 2}, domain.ErrInvalidParameters},
		{"unknown type", CreateMatchParams{StakeCents: 500, BestOf: 1, Type: "FFA"}, domain.ErrInvalidParameters},
		{"bad stream url", CreateMatchParams{StakeCents: 500, BestOf: 1, StreamURL: "ftp://x"}, domain.ErrInvalidParameters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ryu.matches.CreateMatch(ctx, tc.params)
			assert.ErrorIs(t, err, tc.kind)
			assert.ErrorIs(t, err, domain.ErrInvalidParameters)
		})
	}
	assert.Equal(t, 0, srv.Calls("create_match_with_wallet"))
}

func TestMatchOperationsRequireSession(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	require.NoError(t, ryu.auth.SignOut(context.Background()))

	_, err := ryu.matches.CreateMatch(context.Background(), duel(500))
	assert.ErrorIs(t, err, domain.ErrAuthenticationRequired)
	err = ryu.matches.AcceptMatch(context.Background(), "m1")
	assert.ErrorIs(t, err, domain.ErrAuthenticationRequired)
}

func TestJoinByRoomCodeIsCaseInsensitive(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	ctx := context.Background()

	srv.NextRoomCode = "AF42B9"
	p := duel(300)
	p.IsPrivate = true
	res, err := ryu.matches.CreateMatch(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, res.RoomCode)
	assert.Equal(t, "AF42B9", *res.RoomCode)

	id, err := ken.matches.JoinByRoomCode(ctx, " af42b9 ")
	require.NoError(t, err)
	assert.Equal(t, res.MatchID, id)
	assert.Equal(t, ken.uid, srv.Match(id)["accepted_by"])

	_, err = ken.matches.JoinByRoomCode(ctx, "AF4")
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	_, err = ken.matches.JoinByRoomCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentAcceptLetsOnePlayerIn(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	akuma := newPlayer(t, srv, "akuma@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(500))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []*player{ken, akuma} {
		wg.Add(1)
		go func(i int, p *player) {
			defer wg.Done()
			errs[i] = p.matches.AcceptMatch(ctx, res.MatchID)
		}(i, p)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyAccepted)
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, int64(1500), srv.Balance(ken.uid)+srv.Balance(akuma.uid))
	assert.Equal(t, int64(1000), srv.Match(res.MatchID)["total_pot_cents"])
}

func TestAcceptRejectsDuplicateRequestWhileInFlight(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(500))
	require.NoError(t, err)

	entered, release := srv.Gate("join_match_with_wallet")
	defer release()
	done := make(chan error, 1)
	go func() { done <- ken.matches.AcceptMatch(ctx, res.MatchID) }()
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("accept never reached the server")
	}

	assert.True(t, ken.matches.InFlight(OpAccept, res.MatchID))
	err = ken.matches.AcceptMatch(ctx, res.MatchID)
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)

	release()
	require.NoError(t, <-done)
	assert.False(t, ken.matches.InFlight(OpAccept, res.MatchID))
	assert.Equal(t, 1, srv.Calls("join_match_with_wallet"))
}

func TestMatchTransitionGuards(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	akuma := newPlayer(t, srv, "akuma@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(400))
	require.NoError(t, err)
	id := res.MatchID

	assert.ErrorIs(t, ryu.matches.AcceptMatch(ctx, id), domain.ErrForbidden)
	_, err = ryu.matches.StartMatch(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, akuma.matches.CancelMatch(ctx, id), domain.ErrForbidden)

	require.NoError(t, ken.matches.AcceptMatch(ctx, id))
	_, err = ken.matches.StartMatch(ctx, id)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = ken.matches.CompleteMatch(ctx, id, ClientStats{})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, akuma.matches.AcceptMatch(ctx, id), domain.ErrAlreadyAccepted)
	assert.Equal(t, 0, srv.Calls("complete_match_with_payout"))
}

func TestAcceptorCancelRefundsBothStakes(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(400))
	require.NoError(t, err)
	require.NoError(t, ken.matches.AcceptMatch(ctx, res.MatchID))
	require.NoError(t, ken.matches.CancelMatch(ctx, res.MatchID))

	assert.Equal(t, int64(1000), srv.Balance(ryu.uid))
	assert.Equal(t, int64(1000), ken.balance(t))
	m, err := ken.matches.GetMatch(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, m.Status)

	assert.ErrorIs(t, ryu.matches.CancelMatch(ctx, res.MatchID), domain.ErrInvalidState)
}

func TestStartMatchSurvivesConcurrentClear(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(400))
	require.NoError(t, err)
	require.NoError(t, ken.matches.AcceptMatch(ctx, res.MatchID))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				ryu.cache.Remove(cache.PrefixMatch)
			}
		}
	}()
	m, err := ryu.matches.StartMatch(ctx, res.MatchID)
	close(stop)
	<-done
	require.NoError(t, err)
	assert.Equal(t, res.MatchID, m.ID)
	assert.Equal(t, domain.StatusInProgress, m.Status)
}

func TestSettledMatchIsNotPolled(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(400))
	require.NoError(t, err)
	key := cache.MatchKey(res.MatchID)
	_, err = ryu.matches.GetMatch(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Contains(t, ryu.cache.Keys(cache.PrefixMatch), key)

	require.NoError(t, ryu.matches.CancelMatch(ctx, res.MatchID))
	ryu.cache.Wait()
	m, err := ryu.matches.GetMatch(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, m.Status)
	ryu.cache.Wait()
	assert.NotContains(t, ryu.cache.Keys(cache.PrefixMatch), key)
}

func TestLeavePenaltyOnlyWhileRunning(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 1000)
	ken := newPlayer(t, srv, "ken@fgc.gg", 1000)
	ctx := context.Background()

	res, err := ryu.matches.CreateMatch(ctx, duel(400))
	require.NoError(t, err)
	assert.ErrorIs(t, ryu.matches.ApplyLeavePenalty(ctx, res.MatchID), domain.ErrInvalidState)
	require.NoError(t, ken.matches.AcceptMatch(ctx, res.MatchID))

	feed, stop := ken.cache.Subscribe()
	defer stop()
	require.NoError(t, ken.matches.ApplyLeavePenalty(ctx, res.MatchID))
	assert.Equal(t, 1, srv.Calls("apply_match_leave_penalty"))

	invalidated := map[string]bool{}
	for len(feed) > 0 {
		if ch := <-feed; ch.Invalidated {
			invalidated[ch.Key] = true
		}
	}
	assert.True(t, invalidated[cache.MatchKey(res.MatchID)])
	assert.True(t, invalidated[cache.WalletKey(ken.uid)])
}

func TestApplyNeverMovesStatusBackwards(t *testing.T) {
	c := cache.New(testConfig().Cache, quietLogger())
	t.Cleanup(c.Close)
	s := NewMatchService(testConfig(), nil, nil, c, nil, quietLogger())

	t0 := time.Now()
	acceptor := "p2"
	running := models.Match{
		ID: "m1", Status: domain.StatusInProgress, StakeCents: 500, TotalPotCents: 1000,
		CreatedBy: "p1", AcceptedBy: &acceptor, UpdatedAt: t0,
		Creator: &models.Profile{Username: "ryu"},
	}
	assert.True(t, s.Apply(running))

	late := running
	late.Status = domain.StatusAccepted
	late.UpdatedAt = t0.Add(time.Second)
	assert.False(t, s.Apply(late), "lower status must not replace a later one")

	older := running
	older.UpdatedAt = t0.Add(-time.Second)
	older.TotalPotCents = 0
	assert.False(t, s.Apply(older), "older snapshot of the same status")

	done := running
	done.Status = domain.StatusCompleted
	done.WinnerID = &acceptor
	done.Creator = nil
	done.UpdatedAt = t0.Add(2 * time.Second)
	assert.True(t, s.Apply(done))

	got, ok := cache.GetAs[models.Match](c, cache.MatchKey("m1"))
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, int64(1000), got.TotalPotCents)
	require.NotNil(t, got.Creator)
	assert.Equal(t, "ryu", got.Creator.Username)
}
