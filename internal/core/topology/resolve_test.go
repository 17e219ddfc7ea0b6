package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_Empty(t *testing.T) {
	env := &Environment{Name: "goerli"}
	res, err := Resolve(env, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Services)
}

func TestResolve_LinearDependencies(t *testing.T) {
	// C depends on B depends on A
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "A"},
			{Name: "B", DependsOn: []string{"A"}},
			{Name: "C", DependsOn: []string{"B"}},
		},
	}
	res, err := Resolve(env, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, res.StartOrder())
}

func TestResolve_DeclarationOrderBreaksTies(t *testing.T) {
	// No dependencies at all: start order is declaration order, every time.
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "prometheus"},
			{Name: "oracle"},
			{Name: "alertmanager"},
		},
	}
	for i := 0; i < 10; i++ {
		res, err := Resolve(env, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"prometheus", "oracle", "alertmanager"}, res.StartOrder())
	}
}

func TestResolve_DiamondDependencies(t *testing.T) {
	//   graph-node
	//    /      \
	// postgres  ipfs
	//    \      /
	//     volume-init
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "graph-node", DependsOn: []string{"ipfs", "postgres"}},
			{Name: "postgres", DependsOn: []string{"volume-init"}},
			{Name: "ipfs", DependsOn: []string{"volume-init"}},
			{Name: "volume-init"},
		},
	}
	res, err := Resolve(env, nil)
	require.NoError(t, err)

	order := res.StartOrder()
	assert.Equal(t, "volume-init", order[0])
	assert.Equal(t, "graph-node", order[3])
	// postgres declared before ipfs, both ready at the same time
	assert.Equal(t, []string{"postgres", "ipfs"}, order[1:3])
}

func TestResolve_NoProfilesExcludesGated(t *testing.T) {
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "oracle"},
			{Name: "graph-node", Profiles: []string{"graph"}},
			{Name: "postgres", Profiles: []string{"graph"}},
		},
	}
	res, err := Resolve(env, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"oracle"}, res.StartOrder())
}

func TestResolve_EnabledProfileIncludesExactlyTagged(t *testing.T) {
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "oracle"},
			{Name: "graph-node", Profiles: []string{"graph"}, DependsOn: []string{"postgres"}},
			{Name: "postgres", Profiles: []string{"graph"}},
			{Name: "geth", Profiles: []string{"geth"}},
		},
	}
	res, err := Resolve(env, []string{"graph"})
	require.NoError(t, err)
	assert.Equal(t, []string{"oracle", "postgres", "graph-node"}, res.StartOrder())
	assert.Nil(t, res.Service("geth"))
	assert.Equal(t, []string{"graph"}, res.Profiles)
}

func TestResolve_DependencyOnInactiveServiceIgnoredForOrdering(t *testing.T) {
	// keeper depends on geth, which is profile-gated and inactive. Resolve
	// still orders keeper; Validate reports the dangling dependency.
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "keeper", DependsOn: []string{"geth"}},
			{Name: "geth", Profiles: []string{"geth"}},
		},
	}
	res, err := Resolve(env, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"keeper"}, res.StartOrder())
}

func TestResolve_Cycle(t *testing.T) {
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "A", DependsOn: []string{"C"}},
			{Name: "B", DependsOn: []string{"A"}},
			{Name: "C", DependsOn: []string{"B"}},
		},
	}
	res, err := Resolve(env, nil)
	require.Error(t, err)
	assert.Nil(t, res, "no partial order on cycle")

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.GreaterOrEqual(t, len(cycleErr.Cycle), 4)
	assert.Equal(t, cycleErr.Cycle[0], cycleErr.Cycle[len(cycleErr.Cycle)-1])
	assert.ElementsMatch(t, []string{"A", "B", "C"}, cycleErr.Cycle[:3])
}

func TestResolve_SelfDependencyCycle(t *testing.T) {
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "oracle", DependsOn: []string{"oracle"}},
		},
	}
	_, err := Resolve(env, nil)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"oracle", "oracle"}, cycleErr.Cycle)
}

func TestResolve_CycleOnlyAmongActive(t *testing.T) {
	// The cycle lives entirely inside the inactive "graph" profile; a
	// resolve without that profile must succeed.
	env := &Environment{
		Name: "goerli",
		Services: []Service{
			{Name: "oracle"},
			{Name: "graph-node", Profiles: []string{"graph"}, DependsOn: []string{"postgres"}},
			{Name: "postgres", Profiles: []string{"graph"}, DependsOn: []string{"graph-node"}},
		},
	}
	res, err := Resolve(env, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"oracle"}, res.StartOrder())

	_, err = Resolve(env, []string{"graph"})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}
