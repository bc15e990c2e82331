package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/models"
)

func newEvent(session, from, to string, at time.Time) *models.ConnectionEvent {
	return &models.ConnectionEvent{
		CreatedAt: at,
		SessionID: session,
		Path:      "/dev/ttyUSB0",
		FromState: from,
		ToState:   to,
	}
}

func TestConnectionEventRepository(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewConnectionEventRepository(db)
	ctx := context.Background()

	_, err := repo.LastConnected(ctx)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	base := time.Now().Add(-time.Minute)
	events := []*models.ConnectionEvent{
		newEvent("s1", "disconnected", "connecting", base),
		newEvent("s1", "connecting", "connected", base.Add(time.Second)),
		newEvent("s1", "connected", "disconnecting", base.Add(2*time.Second)),
		newEvent("s1", "disconnecting", "disconnected", base.Add(3*time.Second)),
		newEvent("s2", "disconnected", "connecting", base.Add(4*time.Second)),
	}
	for _, e := range events {
		require.NoError(t, repo.Create(ctx, e))
	}

	last, err := repo.LastConnected(ctx)
	require.NoError(t, err)
	assert.Equal(t, events[1].ID, last.ID)

	p := NewPagination(1, 2)
	page, err := repo.List(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Total)
	require.Len(t, page, 2)
	assert.Equal(t, events[4].ID, page[0].ID)

	s1, err := repo.FindBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s1, 4)
	assert.Equal(t, "connecting", s1[0].ToState)

	deleted, err := repo.DeleteBefore(ctx, base.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 10, p.PageSize)

	p = NewPagination(3, 500)
	assert.Equal(t, 100, p.PageSize)
	assert.Equal(t, 200, p.Offset())
}
