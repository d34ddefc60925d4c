package service

import (
	"context"
	"testing"

	"fgcmatch/internal/backendtest"
	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notify(srv *backendtest.Server, uid, title string) backendtest.Row {
	return srv.Insert("notifications", backendtest.Row{
		"user_id": uid, "type": domain.NotificationAlert, "title": title, "content": "x", "is_read": false,
	})
}

func TestNotificationsReadState(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()
	first := notify(srv, ryu.uid, "first")
	notify(srv, ryu.uid, "second")

	list, err := ryu.notifications.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	n, err := ryu.notifications.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, ryu.notifications.MarkRead(ctx, first["id"].(string)))
	n, err = ryu.notifications.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, ryu.notifications.MarkAllRead(ctx))
	n, err = ryu.notifications.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	for _, row := range srv.Rows("notifications") {
		assert.Equal(t, true, row["is_read"])
	}

	require.NoError(t, ryu.notifications.Delete(ctx, first["id"].(string)))
	list, err = ryu.notifications.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, ryu.notifications.MarkRead(ctx, ""), domain.ErrInvalidParameters)
}

func TestApplyInsertedPrependsOnce(t *testing.T) {
	srv := backendtest.New(t)
	ryu := newPlayer(t, srv, "ryu@fgc.gg", 0)
	ctx := context.Background()
	notify(srv, ryu.uid, "old")
	_, err := ryu.notifications.List(ctx)
	require.NoError(t, err)

	pushed := models.Notification{ID: "n-new", UserID: ryu.uid, Type: domain.NotificationMatchInvite, Title: "new"}
	ryu.notifications.ApplyInserted(pushed)
	ryu.notifications.ApplyInserted(pushed)

	list, ok := cache.GetAs[[]models.Notification](ryu.cache, cache.NotificationsKey(ryu.uid))
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "n-new", list[0].ID)
	assert.Equal(t, "old", list[1].Title)
}
