package service

import (
	"context"
	"strings"
	"testing"

	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/domain"
	"fgcmatch/pkg/cloudinary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdmin(t *testing.T, srv *backendtest.Server) *player {
	t.Helper()
	uid := srv.AddUser("admin@fgc.gg", "password1", 0)
	srv.MakeAdmin(uid)
	return signIn(t, srv, "admin@fgc.gg", uid)
}

func TestOpenTicketWithAttachment(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()

	ticket, err := ryu.support.OpenTicket(ctx, TicketInput{
		Subject: "Opponent lagged", Message: "Rollback was unplayable", Category: "match", MatchID: "m1",
	}, strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "MATCH", ticket.Category)
	assert.Equal(t, domain.TicketOpen, ticket.Status)
	require.NotNil(t, ticket.AttachmentURL)
	assert.Contains(t, *ticket.AttachmentURL, cloudinary.FolderAttachments+"/"+ryu.uid)

	mine, err := ryu.support.MyTickets(ctx)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestOpenTicketValidation(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()

	cases := map[string]TicketInput{
		"missing subject":  {Message: "help"},
		"long subject":     {Subject: strings.Repeat("x", 201), Message: "help"},
		"unknown category": {Subject: "s", Message: "m", Category: "refund"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ryu.support.OpenTicket(ctx, in, nil)
			assert.ErrorIs(t, err, domain.ErrInvalidParameters)
		})
	}
	assert.Empty(t, srv.Rows("support_tickets"))
}

func TestAdminQueues(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	admin := newAdmin(t, srv)
	ctx := context.Background()

	ticket, err := ryu.support.OpenTicket(ctx, TicketInput{Subject: "Payout", Message: "missing"}, nil)
	require.NoError(t, err)

	_, err = ryu.support.Queue(ctx, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	queue, err := admin.support.Queue(ctx, "open")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, ticket.ID, queue[0].ID)

	assert.ErrorIs(t, admin.support.ResolveTicket(ctx, ticket.ID, "pending"), domain.ErrInvalidParameters)
	require.NoError(t, admin.support.ResolveTicket(ctx, ticket.ID, ""))
	assert.Equal(t, domain.TicketResolved, srv.Rows("support_tickets")[0]["status"])

	flag := srv.Insert("integrity_logs", backendtest.Row{
		"match_id": "m1", "user_id": ryu.uid, "flag_reason": "impossible APM", "severity": "HIGH", "status": domain.FlagPending,
	})
	logs, err := admin.support.IntegrityLogs(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Profile)
	assert.Equal(t, "ryu", logs[0].Profile.Username)

	id := flag["id"].(string)
	assert.ErrorIs(t, ryu.support.ResolveFlag(ctx, id, "ban"), domain.ErrForbidden)
	assert.ErrorIs(t, admin.support.ResolveFlag(ctx, id, "kick"), domain.ErrInvalidParameters)
	require.NoError(t, admin.support.ResolveFlag(ctx, id, "ban"))
	assert.Equal(t, domain.FlagBanned, srv.Rows("integrity_logs")[0]["status"])
}
