package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/topology"
)

// =============================================================================
// Catalog Tests
// =============================================================================

func TestEnvironments(t *testing.T) {
	assert.Equal(t, []string{"gnosis", "goerli", "harbour-goerli", "harbour-mainnet"}, Environments())
}

func TestManifest_Unknown(t *testing.T) {
	_, err := Manifest("ropsten")
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

// Every shipped manifest must load, pass validation, and resolve without
// cycles for every combination of profiles it declares.
func TestCatalog_AllManifestsAreConsistent(t *testing.T) {
	for _, name := range Environments() {
		t.Run(name, func(t *testing.T) {
			env, err := Load(name)
			require.NoError(t, err)
			require.NotEmpty(t, env.Services)

			profiles := env.Profiles()
			require.NotEmpty(t, profiles, "every catalog environment offers client profiles")

			// The default selection (no profiles) is always consistent.
			require.Nil(t, topology.Validate(env, nil))
			_, err = topology.Resolve(env, nil)
			require.NoError(t, err)

			// So is each profile enabled on its own.
			for _, p := range profiles {
				require.Nilf(t, topology.Validate(env, []string{p}), "profile %q", p)
				_, err = topology.Resolve(env, []string{p})
				require.NoErrorf(t, err, "profile %q", p)
			}
		})
	}
}

func TestCatalog_ClientProfilesShareRoleAlias(t *testing.T) {
	env, err := Load("goerli")
	require.NoError(t, err)

	// Each execution client answers to the eth1-node alias so dependents
	// never name a concrete client.
	for _, client := range []string{"geth", "besu", "nethermind"} {
		svc := env.Service(client)
		require.NotNil(t, svc, client)
		assert.Contains(t, svc.Networks["goerli"], "eth1-node", client)
		assert.Equal(t, []string{client}, svc.Profiles)
	}
	for _, client := range []string{"prysm", "lighthouse"} {
		svc := env.Service(client)
		require.NotNil(t, svc, client)
		assert.Contains(t, svc.Networks["goerli"], "eth2-node", client)
	}

	// Enabling two execution clients at once is the one inconsistent choice.
	verr := topology.Validate(env, []string{"geth", "besu"})
	require.NotNil(t, verr)
}

func TestCatalog_GnosisClientSet(t *testing.T) {
	env, err := Load("gnosis")
	require.NoError(t, err)

	assert.NotNil(t, env.Service("nethermind"))
	assert.NotNil(t, env.Service("lighthouse"))
	assert.Nil(t, env.Service("geth"), "gnosis runs nethermind only")
	assert.Nil(t, env.Service("prysm"))
}

func TestCatalog_GraphProfileGatesIndexerStack(t *testing.T) {
	env, err := Load("goerli")
	require.NoError(t, err)

	res, err := topology.Resolve(env, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Service("graph-node"))
	assert.Nil(t, res.Service("postgres"))
	assert.Nil(t, res.Service("ipfs"))

	res, err = topology.Resolve(env, []string{"graph"})
	require.NoError(t, err)
	require.NotNil(t, res.Service("graph-node"))

	// Dependencies start first.
	order := res.StartOrder()
	idx := func(name string) int {
		for i, n := range order {
			if n == name {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("postgres"), idx("graph-node"))
	assert.Less(t, idx("ipfs"), idx("graph-node"))
}
