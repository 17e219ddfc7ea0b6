package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/topology"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const stackSource = `
services:
  oracle:
    image: stakewiselabs/oracle:v2.8.8
    restart: always
    environment:
      LOG_LEVEL: ${LOG_LEVEL:-INFO}
      WEB3_ENDPOINT: $ETH1_ENDPOINT
    networks:
      goerli: {}

  keeper:
    image: stakewiselabs/oracle:v2.8.8
    command: ["keeper.py", "--interval", "${KEEPER_INTERVAL:-30}"]
    depends_on:
      - oracle
    networks:
      goerli: {}

  geth:
    image: ethereum/client-go:v1.10.26
    ports:
      - "8545:8545"
    volumes:
      - geth:/data
    profiles:
      - geth
    networks:
      goerli:
        aliases:
          - eth1-node

volumes:
  geth:

networks:
  goerli:
    driver: bridge
`

func loadStack(t *testing.T) *topology.Environment {
	t.Helper()
	env, err := topology.Load("goerli", stackSource)
	require.NoError(t, err)
	return env
}

// =============================================================================
// Render Tests
// =============================================================================

func TestRender_Deterministic(t *testing.T) {
	env := loadStack(t)
	vars := map[string]string{"ETH1_ENDPOINT": "http://eth1-node:8545"}

	res, err := topology.Resolve(env, []string{"geth"})
	require.NoError(t, err)

	first, err := Render(env, res, vars)
	require.NoError(t, err)

	// Resolve and render again: byte-identical output.
	res2, err := topology.Resolve(env, []string{"geth"})
	require.NoError(t, err)
	second, err := Render(env, res2, vars)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRender_SubstitutesTokens(t *testing.T) {
	env := loadStack(t)
	res, err := topology.Resolve(env, nil)
	require.NoError(t, err)

	out, err := Render(env, res, map[string]string{
		"ETH1_ENDPOINT": "http://geth:8551",
	})
	require.NoError(t, err)

	rendered := string(out)
	assert.Contains(t, rendered, "http://geth:8551")
	assert.Contains(t, rendered, "INFO")      // default applied
	assert.NotContains(t, rendered, "${")     // no tokens survive
	assert.Contains(t, rendered, `"30"`)      // command default applied
}

func TestRender_MissingTokenFails(t *testing.T) {
	env := loadStack(t)
	res, err := topology.Resolve(env, nil)
	require.NoError(t, err)

	_, err = Render(env, res, nil) // ETH1_ENDPOINT not provided
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedToken)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	require.Len(t, renderErr.Missing, 1)
	assert.Equal(t, "ETH1_ENDPOINT", renderErr.Missing[0].Token)
	assert.Equal(t, "services.oracle.environment.WEB3_ENDPOINT", renderErr.Missing[0].Location)
}

func TestRender_ServicesInStartOrder(t *testing.T) {
	env := loadStack(t)
	res, err := topology.Resolve(env, nil)
	require.NoError(t, err)

	out, err := Render(env, res, map[string]string{"ETH1_ENDPOINT": "x"})
	require.NoError(t, err)

	rendered := string(out)
	oracleIdx := strings.Index(rendered, "oracle:")
	keeperIdx := strings.Index(rendered, "keeper:")
	require.Positive(t, oracleIdx)
	assert.Less(t, oracleIdx, keeperIdx, "oracle must be rendered before its dependent")
}

func TestRender_ExcludesInactiveServices(t *testing.T) {
	env := loadStack(t)
	res, err := topology.Resolve(env, nil)
	require.NoError(t, err)

	out, err := Render(env, res, map[string]string{"ETH1_ENDPOINT": "x"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "ethereum/client-go")
}

func TestRender_RoundTripsThroughLoader(t *testing.T) {
	// Rendered output uses the same document shape the loader consumes.
	env := loadStack(t)
	res, err := topology.Resolve(env, []string{"geth"})
	require.NoError(t, err)

	out, err := Render(env, res, map[string]string{"ETH1_ENDPOINT": "http://eth1-node:8545"})
	require.NoError(t, err)

	reloaded, err := topology.Load("goerli", string(out))
	require.NoError(t, err)
	require.Len(t, reloaded.Services, 3)

	geth := reloaded.Service("geth")
	require.NotNil(t, geth)
	assert.Equal(t, []string{"eth1-node"}, geth.Networks["goerli"])
	require.Len(t, geth.Ports, 1)
	assert.Equal(t, uint32(8545), geth.Ports[0].Published)
}

func TestRender_VolumeAndNetworkDefaults(t *testing.T) {
	env := loadStack(t)
	res, err := topology.Resolve(env, []string{"geth"})
	require.NoError(t, err)

	out, err := Render(env, res, map[string]string{"ETH1_ENDPOINT": "x"})
	require.NoError(t, err)

	rendered := string(out)
	assert.Contains(t, rendered, "driver: local")
	assert.Contains(t, rendered, "driver: bridge")
}

// =============================================================================
// Formatting Tests
// =============================================================================

func TestFormatPort(t *testing.T) {
	assert.Equal(t, "8545", formatPort(topology.Port{Target: 8545}))
	assert.Equal(t, "8545:8545", formatPort(topology.Port{Target: 8545, Published: 8545}))
	assert.Equal(t, "30303:30303/udp", formatPort(topology.Port{Target: 30303, Published: 30303, Protocol: "udp"}))
	assert.Equal(t, "127.0.0.1:9090:9090", formatPort(topology.Port{Target: 9090, Published: 9090, HostIP: "127.0.0.1"}))
}

func TestFormatMount(t *testing.T) {
	assert.Equal(t, "geth:/data", formatMount(topology.VolumeMount{Source: "geth", Target: "/data"}))
	assert.Equal(t, "./cfg:/etc/cfg:ro", formatMount(topology.VolumeMount{Source: "./cfg", Target: "/etc/cfg", ReadOnly: true}))
}
