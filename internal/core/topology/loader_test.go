package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalTopology = `
services:
  oracle:
    image: stakewiselabs/oracle:v2.8.8
`

const oracleStackTopology = `
services:
  oracle:
    image: stakewiselabs/oracle:v2.8.8
    restart: always
    env_file: ./configs/oracle.env
    environment:
      LOG_LEVEL: ${LOG_LEVEL:-INFO}
    networks:
      goerli: {}

  keeper:
    image: stakewiselabs/oracle:v2.8.8
    entrypoint: ["python"]
    command: ["keeper.py"]
    depends_on:
      - oracle
    networks:
      goerli: {}

  geth:
    image: ethereum/client-go:v1.10.26
    command: ["--goerli", "--http"]
    volumes:
      - geth:/data
    ports:
      - "8545:8545"
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

const undeclaredVolumeTopology = `
services:
  prometheus:
    image: prom/prometheus:v2.39.1
    volumes:
      - prometheus:/prometheus
`

const undeclaredNetworkTopology = `
services:
  oracle:
    image: stakewiselabs/oracle:v2.8.8
    networks:
      goerli: {}
`

const untaggedImageTopology = `
services:
  oracle:
    image: stakewiselabs/oracle
`

const cyclicDependsOnTopology = `
services:
  a:
    image: stakewiselabs/oracle:v2.8.8
    depends_on:
      - b
  b:
    image: stakewiselabs/oracle:v2.8.8
    depends_on:
      - a
`

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_Minimal(t *testing.T) {
	env, err := Load("goerli", minimalTopology)
	require.NoError(t, err)

	assert.Equal(t, "goerli", env.Name)
	require.Len(t, env.Services, 1)
	assert.Equal(t, "oracle", env.Services[0].Name)
	assert.Equal(t, "stakewiselabs/oracle:v2.8.8", env.Services[0].Image)
}

func TestLoad_EmptyInput(t *testing.T) {
	_, err := Load("goerli", "   \n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load("goerli", "services:\n  oracle:\n  image: [")
	require.Error(t, err)

	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestLoad_NoServices(t *testing.T) {
	_, err := Load("goerli", "services: {}")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoServices)
}

func TestLoad_FullStack(t *testing.T) {
	env, err := Load("goerli", oracleStackTopology)
	require.NoError(t, err)

	require.Len(t, env.Services, 3)

	oracle := env.Service("oracle")
	require.NotNil(t, oracle)
	assert.Equal(t, "./configs/oracle.env", oracle.EnvFile)
	assert.Equal(t, RestartAlways, oracle.Restart)
	// Interpolation is deferred to render time; the token must survive loading.
	assert.Equal(t, "${LOG_LEVEL:-INFO}", oracle.Environment["LOG_LEVEL"])

	keeper := env.Service("keeper")
	require.NotNil(t, keeper)
	assert.Equal(t, []string{"python"}, keeper.Entrypoint)
	assert.Equal(t, []string{"keeper.py"}, keeper.Command)
	assert.Equal(t, []string{"oracle"}, keeper.DependsOn)

	geth := env.Service("geth")
	require.NotNil(t, geth)
	assert.Equal(t, []string{"geth"}, geth.Profiles)
	assert.Equal(t, []string{"eth1-node"}, geth.Networks["goerli"])
	require.Len(t, geth.Ports, 1)
	assert.Equal(t, uint32(8545), geth.Ports[0].Target)
	assert.Equal(t, uint32(8545), geth.Ports[0].Published)
	require.Len(t, geth.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, geth.Volumes[0].Type)
	assert.Equal(t, "geth", geth.Volumes[0].Source)

	assert.True(t, env.HasVolume("geth"))
	assert.True(t, env.HasNetwork("goerli"))
}

func TestLoad_PreservesDeclarationOrder(t *testing.T) {
	env, err := Load("goerli", oracleStackTopology)
	require.NoError(t, err)

	names := make([]string, len(env.Services))
	for i, svc := range env.Services {
		names[i] = svc.Name
	}
	assert.Equal(t, []string{"oracle", "keeper", "geth"}, names)
}

func TestLoad_UndeclaredVolume(t *testing.T) {
	_, err := Load("goerli", undeclaredVolumeTopology)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndeclaredVolume)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Field, "prometheus")
}

func TestLoad_UndeclaredNetwork(t *testing.T) {
	_, err := Load("goerli", undeclaredNetworkTopology)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndeclaredNetwork)
}

func TestLoad_ImageMissingTag(t *testing.T) {
	_, err := Load("goerli", untaggedImageTopology)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageMissingTag)
}

func TestLoad_BindMountNeedsNoDeclaration(t *testing.T) {
	const src = `
services:
  prometheus:
    image: prom/prometheus:v2.39.1
    volumes:
      - ./prometheus.yml:/etc/prometheus/prometheus.yml:ro
`
	env, err := Load("goerli", src)
	require.NoError(t, err)

	prom := env.Service("prometheus")
	require.NotNil(t, prom)
	require.Len(t, prom.Volumes, 1)
	assert.Equal(t, VolumeMountTypeBind, prom.Volumes[0].Type)
	assert.True(t, prom.Volumes[0].ReadOnly)
}

func TestLoad_BuildUnsupported(t *testing.T) {
	const src = `
services:
  oracle:
    build: .
`
	_, err := Load("goerli", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestLoad_ProfileGatedServicesKept(t *testing.T) {
	// Profile-gated services stay in the loaded set; Resolve decides
	// activation, not the loader.
	env, err := Load("goerli", oracleStackTopology)
	require.NoError(t, err)
	require.NotNil(t, env.Service("geth"))
	assert.ElementsMatch(t, []string{"geth"}, env.Profiles())
}

func TestLoad_CycleLeftForResolve(t *testing.T) {
	// A cyclic depends_on graph must load cleanly; the cycle is Resolve's
	// to report, with the full path.
	env, err := Load("goerli", cyclicDependsOnTopology)
	require.NoError(t, err)

	_, err = Resolve(env, nil)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Cycle, "a")
	assert.Contains(t, cycleErr.Cycle, "b")
}

func TestLoad_UnknownDependencyLeftForValidate(t *testing.T) {
	env, err := Load("goerli", `
services:
  keeper:
    image: stakewiselabs/oracle:v2.8.8
    depends_on:
      - oracle
`)
	require.NoError(t, err)

	verr := Validate(env, nil)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Violations[0].Message, "unknown service")
}

// =============================================================================
// ParseImageRef Tests
// =============================================================================

func TestParseImageRef_Tagged(t *testing.T) {
	ref, err := ParseImageRef("prom/prometheus:v2.39.1")
	require.NoError(t, err)
	assert.Equal(t, "prom/prometheus", ref.Repository)
	assert.Equal(t, "v2.39.1", ref.Tag)
}

func TestParseImageRef_RegistryPort(t *testing.T) {
	ref, err := ParseImageRef("registry.local:5000/oracle:v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "registry.local:5000/oracle", ref.Repository)
	assert.Equal(t, "v1.0.0", ref.Tag)
}

func TestParseImageRef_RegistryPortNoTag(t *testing.T) {
	_, err := ParseImageRef("registry.local:5000/oracle")
	assert.ErrorIs(t, err, ErrImageMissingTag)
}

func TestParseImageRef_Digest(t *testing.T) {
	ref, err := ParseImageRef("prom/prometheus@sha256:abcdef")
	require.NoError(t, err)
	assert.Equal(t, "prom/prometheus", ref.Repository)
	assert.Equal(t, "sha256:abcdef", ref.Tag)
}

func TestParseImageRef_NoTag(t *testing.T) {
	_, err := ParseImageRef("nginx")
	assert.ErrorIs(t, err, ErrImageMissingTag)

	_, err = ParseImageRef("nginx:")
	assert.ErrorIs(t, err, ErrImageMissingTag)
}

// =============================================================================
// Error Formatting Tests
// =============================================================================

func TestSchemaError_Unwrap(t *testing.T) {
	err := NewSchemaError("services.oracle.image", "missing tag", ErrImageMissingTag)
	assert.True(t, errors.Is(err, ErrImageMissingTag))
	assert.Contains(t, err.Error(), "services.oracle.image")
}
