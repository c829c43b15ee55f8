package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/dept"
)

func principal(id int64) *auth.Principal {
	return &auth.Principal{ID: id}
}

func TestNewRefresher_InvalidSchedule(t *testing.T) {
	f := newFixture(t, Options{})
	logger, _ := test.NewNullLogger()

	_, err := NewRefresher(f.authorizer, "every so often", 0, logger)
	assert.Error(t, err)
}

func TestRefresher_Refresh(t *testing.T) {
	f := newFixture(t, Options{})
	alice := f.withAlice()
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	r, err := NewRefresher(f.authorizer, "", time.Second, logger)
	require.NoError(t, err)

	_, err = f.authorizer.Bundle(ctx, alice)
	require.NoError(t, err)

	changed, err := r.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, f.storage.Len(), "unchanged structure keeps bundles")

	renamed := departments()
	renamed[1].Name = "Sales & Marketing"
	f.loader.SetDepartments(renamed)
	changed, err = r.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Sales & Marketing", mustGet(t, f.provider.Current(), 2).Name)

	f.loader.SetDepartments(append(departments(), dept.Department{ID: 5, ParentID: ptr(2), Name: "Sales-West"}))
	changed, err = r.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, f.storage.Len())
}

func TestRefresher_RefreshFailure(t *testing.T) {
	f := newFixture(t, Options{})
	logger, _ := test.NewNullLogger()

	r, err := NewRefresher(f.authorizer, "@every 1h", time.Second, logger)
	require.NoError(t, err)

	f.loader.Err = errors.New("connection refused")
	_, err = r.Refresh(context.Background())
	assert.Error(t, err)
	assert.NotNil(t, f.provider.Current())
}

func TestRefresher_RunsOnSchedule(t *testing.T) {
	f := newFixture(t, Options{})
	logger, _ := test.NewNullLogger()

	r, err := NewRefresher(f.authorizer, "@every 1s", time.Second, logger)
	require.NoError(t, err)

	built := f.provider.BuiltAt()
	r.Start()
	defer func() { <-r.Stop().Done() }()

	require.Eventually(t, func() bool {
		return f.provider.BuiltAt().After(built)
	}, 3*time.Second, 50*time.Millisecond)
}

func mustGet(t *testing.T, h *dept.Hierarchy, id int64) dept.Department {
	t.Helper()
	d, ok := h.Get(id)
	require.True(t, ok)
	return d
}
