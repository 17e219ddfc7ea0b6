package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestEnvironment(t *testing.T, store Store) *EnvironmentRecord {
	t.Helper()
	env := NewEnvironmentRecord(
		"goerli",
		"goerli oracle stack",
		"services:\n  oracle:\n    image: stakewiselabs/oracle:v2.8.8",
	)
	require.NoError(t, store.CreateEnvironment(context.Background(), env))
	return env
}

// =============================================================================
// Environment CRUD Tests
// =============================================================================

func TestCreateEnvironment_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)

	retrieved, err := store.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, env.ID, retrieved.ID)
	assert.Equal(t, env.Name, retrieved.Name)
	assert.Equal(t, env.Description, retrieved.Description)
	assert.Equal(t, env.Source, retrieved.Source)
}

func TestCreateEnvironment_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestEnvironment(t, store)

	dup := NewEnvironmentRecord("goerli", "", "services: {}")
	err := store.CreateEnvironment(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestGetEnvironmentByName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)

	retrieved, err := store.GetEnvironmentByName(ctx, "goerli")
	require.NoError(t, err)
	assert.Equal(t, env.ID, retrieved.ID)
}

func TestGetEnvironment_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetEnvironment(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "GetEnvironment", storeErr.Op)
}

func TestUpdateEnvironment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)
	env.Source = "services:\n  oracle:\n    image: stakewiselabs/oracle:v2.9.0"
	env.Touch()
	require.NoError(t, store.UpdateEnvironment(ctx, env))

	retrieved, err := store.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Contains(t, retrieved.Source, "v2.9.0")
}

func TestUpdateEnvironment_NotFound(t *testing.T) {
	store := setupTestStore(t)

	env := NewEnvironmentRecord("ghost", "", "services: {}")
	err := store.UpdateEnvironment(context.Background(), env)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteEnvironment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)
	require.NoError(t, store.DeleteEnvironment(ctx, env.ID))

	_, err := store.GetEnvironment(ctx, env.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEnvironments_SortedByName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"goerli", "gnosis", "harbour-mainnet"} {
		env := NewEnvironmentRecord(name, "", "services: {}")
		require.NoError(t, store.CreateEnvironment(ctx, env))
	}

	envs, err := store.ListEnvironments(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, "gnosis", envs[0].Name)
	assert.Equal(t, "goerli", envs[1].Name)
	assert.Equal(t, "harbour-mainnet", envs[2].Name)
}

// =============================================================================
// Render History Tests
// =============================================================================

func TestCreateRender_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)
	render := NewRenderRecord(
		env.ID,
		[]string{"geth"},
		map[string]string{"LOG_LEVEL": "DEBUG"},
		"services:\n  oracle:\n    image: stakewiselabs/oracle:v2.8.8\n",
	)
	require.NoError(t, store.CreateRender(ctx, render))

	retrieved, err := store.GetRender(ctx, render.ID)
	require.NoError(t, err)
	assert.Equal(t, env.ID, retrieved.EnvironmentID)
	assert.Equal(t, []string{"geth"}, retrieved.Profiles)
	assert.Equal(t, map[string]string{"LOG_LEVEL": "DEBUG"}, retrieved.Variables)
	assert.Equal(t, render.Output, retrieved.Output)
}

func TestCreateRender_UnknownEnvironment(t *testing.T) {
	store := setupTestStore(t)

	render := NewRenderRecord("no-such-env", nil, nil, "services: {}\n")
	err := store.CreateRender(context.Background(), render)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestListRendersByEnvironment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateRender(ctx, NewRenderRecord(env.ID, nil, nil, "output")))
	}

	renders, err := store.ListRendersByEnvironment(ctx, env.ID, DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, renders, 3)
}

func TestDeleteEnvironment_CascadesRenders(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := createTestEnvironment(t, store)
	require.NoError(t, store.CreateRender(ctx, NewRenderRecord(env.ID, nil, nil, "output")))
	require.NoError(t, store.DeleteEnvironment(ctx, env.ID))

	renders, err := store.ListRendersByEnvironment(ctx, env.ID, DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, renders)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_Commit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := NewEnvironmentRecord("goerli", "", "services: {}")
	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateEnvironment(ctx, env); err != nil {
			return err
		}
		return tx.CreateRender(ctx, NewRenderRecord(env.ID, nil, nil, "output"))
	})
	require.NoError(t, err)

	_, err = store.GetEnvironment(ctx, env.ID)
	assert.NoError(t, err)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := NewEnvironmentRecord("goerli", "", "services: {}")
	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateEnvironment(ctx, env); err != nil {
			return err
		}
		// Violates the foreign key: the whole transaction must roll back.
		return tx.CreateRender(ctx, NewRenderRecord("no-such-env", nil, nil, "output"))
	})
	require.Error(t, err)

	_, err = store.GetEnvironment(ctx, env.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
