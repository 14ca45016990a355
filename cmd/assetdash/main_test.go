package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/assetdash/internal/model"
	"github.com/nhle/assetdash/internal/store"
)

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"watch", "login", "logout", "devserver"} {
		assert.True(t, names[want], want)
	}

	cmd, _, err := rootCmd.Find([]string{"devserver", "token"})
	require.NoError(t, err)
	assert.Equal(t, "token", cmd.Name())
}

func TestSampleNotificationsAreValid(t *testing.T) {
	now := time.Now().UTC()
	for _, n := range sampleNotifications(now) {
		assert.True(t, n.Type.Valid(), n.Title)
		assert.True(t, n.Priority.Valid(), n.Title)
		assert.True(t, n.Category.Valid(), n.Title)
		assert.False(t, n.Expired(now), n.Title)
	}
}

func TestSampleNotificationsPersist(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	samples := sampleNotifications(time.Now().UTC())
	for _, n := range samples {
		_, err := st.CreateNotification(ctx, n)
		require.NoError(t, err)
	}
	unread, err := st.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(samples), unread)

	recs, err := st.ListNotifications(ctx, store.ListFilter{IncludeRead: true})
	require.NoError(t, err)
	require.Len(t, recs, len(samples))
	assert.Equal(t, model.PriorityCritical, recs[0].Priority)
}
