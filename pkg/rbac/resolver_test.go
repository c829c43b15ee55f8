package rbac

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
)

func roleID(v int64) *int64 { return &v }

func newTestResolver(t *testing.T, loader Loader) (*Resolver, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	return NewResolver(loader, logger, time.Second), hook
}

func sortedCodes(r *Resolution) []string {
	codes := r.Codes()
	sort.Strings(codes)
	return codes
}

func TestResolver_UnionOfRoles(t *testing.T) {
	loader := NewMemoryLoader()
	loader.PutRole(Role{ID: 1, Code: "manager", PermissionCodes: []string{"user:read", "user:write"}, RuleIDs: []int64{10}})
	loader.PutRole(Role{ID: 2, Code: "viewer", PermissionCodes: []string{"user:read", "order:read"}, RuleIDs: []int64{10, 11}})
	loader.PutRule(RowPermissionRule{ID: 10, Code: "own-dept", Scope: ScopeDepartment})
	loader.PutRule(RowPermissionRule{ID: 11, Code: "self", Scope: ScopeSelf})
	loader.Assign(7, 1, 2)

	resolver, _ := newTestResolver(t, loader)
	res, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 7})
	require.NoError(t, err)

	assert.Equal(t, []string{"order:read", "user:read", "user:write"}, sortedCodes(res))
	assert.Equal(t, []string{"manager", "viewer"}, res.RoleCodes)
	require.Len(t, res.Rules, 2)
	assert.Equal(t, int64(10), res.Rules[0].ID)
	assert.Equal(t, int64(11), res.Rules[1].ID)
	assert.True(t, res.Has("user:write"))
	assert.False(t, res.Has("order:write"))
}

func TestResolver_OrderAndDuplicatesDoNotMatter(t *testing.T) {
	build := func(assign ...int64) *Resolution {
		loader := NewMemoryLoader()
		loader.PutRole(Role{ID: 1, Code: "a", PermissionCodes: []string{"x", "y"}})
		loader.PutRole(Role{ID: 2, Code: "b", PermissionCodes: []string{"y", "z"}})
		loader.PutRole(Role{ID: 3, Code: "c", PermissionCodes: []string{"x"}})
		loader.Assign(1, assign...)
		resolver, _ := newTestResolver(t, loader)
		res, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 1})
		require.NoError(t, err)
		return res
	}

	want := build(1, 2, 3)
	for _, order := range [][]int64{{3, 2, 1}, {2, 1, 3, 2, 1}, {1, 1, 2, 3, 3}} {
		got := build(order...)
		assert.Equal(t, sortedCodes(want), sortedCodes(got))
		assert.Equal(t, want.RoleCodes, got.RoleCodes)
	}
}

func TestResolver_InheritanceBatchedPerLevel(t *testing.T) {
	loader := NewMemoryLoader()
	// 4 -> 3 -> 1, 5 -> 2 -> 1
	loader.PutRole(Role{ID: 1, Code: "base", PermissionCodes: []string{"dashboard:view"}})
	loader.PutRole(Role{ID: 2, Code: "staff", ParentRoleID: roleID(1), PermissionCodes: []string{"order:read"}})
	loader.PutRole(Role{ID: 3, Code: "clerk", ParentRoleID: roleID(1), PermissionCodes: []string{"user:read"}})
	loader.PutRole(Role{ID: 4, Code: "senior-clerk", ParentRoleID: roleID(3), PermissionCodes: []string{"user:write"}})
	loader.PutRole(Role{ID: 5, Code: "senior-staff", ParentRoleID: roleID(2), PermissionCodes: []string{"order:write"}})
	loader.Assign(9, 4, 5)

	resolver, _ := newTestResolver(t, loader)
	res, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 9})
	require.NoError(t, err)

	assert.Equal(t, []string{"dashboard:view", "order:read", "order:write", "user:read", "user:write"}, sortedCodes(res))
	// direct roles, two inheritance levels, one rule query
	assert.Equal(t, int64(4), loader.Calls())
}

func TestResolver_InheritanceCycleTerminates(t *testing.T) {
	loader := NewMemoryLoader()
	loader.PutRole(Role{ID: 1, Code: "a", ParentRoleID: roleID(2), PermissionCodes: []string{"a"}})
	loader.PutRole(Role{ID: 2, Code: "b", ParentRoleID: roleID(1), PermissionCodes: []string{"b"}})
	loader.Assign(1, 1)

	resolver, _ := newTestResolver(t, loader)
	res, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sortedCodes(res))
}

func TestResolver_MissingParentAndRuleSkipped(t *testing.T) {
	loader := NewMemoryLoader()
	loader.PutRole(Role{ID: 1, Code: "orphan", ParentRoleID: roleID(99), PermissionCodes: []string{"user:read"}, RuleIDs: []int64{77}})
	loader.Assign(1, 1)

	resolver, hook := newTestResolver(t, loader)
	res, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"user:read"}, sortedCodes(res))
	assert.Empty(t, res.Rules)

	var warnings []logrus.Fields
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e.Data)
		}
	}
	require.Len(t, warnings, 2)
	assert.Equal(t, int64(99), warnings[0]["role_id"])
	assert.Equal(t, int64(77), warnings[1]["rule_id"])
}

func TestResolver_NoRoles(t *testing.T) {
	loader := NewMemoryLoader()
	resolver, _ := newTestResolver(t, loader)

	res, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 1})
	require.NoError(t, err)
	assert.Empty(t, res.PermissionCodes)
	assert.Empty(t, res.Rules)
	assert.Equal(t, int64(1), loader.Calls())
}

func TestResolver_LoaderFailure(t *testing.T) {
	loader := NewMemoryLoader()
	loader.Err = errors.New("connection reset")
	resolver, _ := newTestResolver(t, loader)

	_, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
	assert.True(t, accesserr.IsRetryable(err))
}

func TestResolver_LoadTimeout(t *testing.T) {
	loader := NewMemoryLoader()
	loader.Hook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	logger, _ := test.NewNullLogger()
	resolver := NewResolver(loader, logger, 10*time.Millisecond)

	_, err := resolver.Resolve(context.Background(), &auth.Principal{ID: 1})
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestResolver_NilPrincipal(t *testing.T) {
	resolver, _ := newTestResolver(t, NewMemoryLoader())
	_, err := resolver.Resolve(context.Background(), nil)
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestResolver_LookupRole(t *testing.T) {
	loader := NewMemoryLoader()
	loader.PutRole(Role{ID: 1, Code: "manager"})
	resolver, _ := newTestResolver(t, loader)

	role, err := resolver.LookupRole(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "manager", role.Code)

	_, err = resolver.LookupRole(context.Background(), 2)
	assert.True(t, errors.Is(err, accesserr.ErrRoleNotFound))
}

func TestResolver_PrincipalsForRole(t *testing.T) {
	loader := NewMemoryLoader()
	loader.PutRole(Role{ID: 1, Code: "base"})
	loader.PutRole(Role{ID: 2, Code: "child", ParentRoleID: roleID(1)})
	loader.PutRole(Role{ID: 3, Code: "other"})
	loader.Assign(10, 1)
	loader.Assign(11, 2)
	loader.Assign(12, 3)

	resolver, _ := newTestResolver(t, loader)
	ids, err := resolver.PrincipalsForRole(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, ids)
}

func TestRowPermissionRule_AppliesTo(t *testing.T) {
	assert.True(t, RowPermissionRule{}.AppliesTo("user"))
	assert.True(t, RowPermissionRule{Entities: []string{"user", "order"}}.AppliesTo("order"))
	assert.False(t, RowPermissionRule{Entities: []string{"user"}}.AppliesTo("order"))
	assert.True(t, RowPermissionRule{Entities: []string{"*"}}.AppliesTo("order"))
}

func TestPermissionQuery_Normalize(t *testing.T) {
	q := PermissionQuery{}.Normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 20, q.Size)

	q = PermissionQuery{Page: 3, Size: 10000}.Normalize()
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, 500, q.Size)
}
