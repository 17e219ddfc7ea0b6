package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/render"
	"github.com/artpar/stackctl/internal/core/topology"
)

// =============================================================================
// Naming Tests
// =============================================================================

func TestNaming(t *testing.T) {
	assert.Equal(t, "stackctl_goerli_goerli", NetworkName("goerli", "goerli"))
	assert.Equal(t, "stackctl_goerli_prometheus", VolumeName("goerli", "prometheus"))
	assert.Equal(t, "stackctl_goerli_oracle", ContainerName("goerli", "oracle"))
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_Basic(t *testing.T) {
	p, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:    "oracle",
			Image:   "stakewiselabs/oracle:v2.8.8",
			Restart: topology.RestartAlways,
		},
		DefaultNetwork: "goerli",
	})
	require.NoError(t, err)

	assert.Equal(t, "stackctl_goerli_oracle", p.Name)
	assert.Equal(t, "stakewiselabs/oracle:v2.8.8", p.Image)
	assert.Equal(t, "always", p.RestartPolicy.Name)
	assert.Equal(t, "true", p.Labels[LabelManaged])
	assert.Equal(t, "goerli", p.Labels[LabelEnvironment])
	assert.Equal(t, "oracle", p.Labels[LabelService])
	// Joins the default network under its own name.
	assert.Equal(t, []string{"oracle"}, p.Networks["stackctl_goerli_goerli"])
}

func TestBuild_SubstitutesVariables(t *testing.T) {
	p, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:    "keeper",
			Image:   "stakewiselabs/oracle:v2.8.8",
			Command: []string{"keeper.py", "--endpoint", "$ETH1_ENDPOINT"},
			Environment: map[string]string{
				"LOG_LEVEL": "${LOG_LEVEL:-INFO}",
			},
		},
		Variables:      map[string]string{"ETH1_ENDPOINT": "http://geth:8551"},
		DefaultNetwork: "goerli",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"keeper.py", "--endpoint", "http://geth:8551"}, p.Command)
	assert.Equal(t, "INFO", p.Env["LOG_LEVEL"])
}

func TestBuild_MissingVariableFails(t *testing.T) {
	_, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:    "keeper",
			Image:   "stakewiselabs/oracle:v2.8.8",
			Command: []string{"--endpoint", "$ETH1_ENDPOINT"},
		},
		DefaultNetwork: "goerli",
	})
	require.Error(t, err)

	var renderErr *render.RenderError
	require.ErrorAs(t, err, &renderErr)
	require.Len(t, renderErr.Missing, 1)
	assert.Equal(t, "ETH1_ENDPOINT", renderErr.Missing[0].Token)
	assert.Equal(t, "services.keeper.command[1]", renderErr.Missing[0].Location)
}

func TestBuild_MissingTokensInArgumentOrder(t *testing.T) {
	// Several unresolved tokens across one command must be reported in
	// argument order, run after run.
	params := BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:    "keeper",
			Image:   "stakewiselabs/oracle:v2.8.8",
			Command: []string{"$ETH1_ENDPOINT", "$ETH2_ENDPOINT", "$KEEPER_ADDRESS"},
		},
		DefaultNetwork: "goerli",
	}

	for i := 0; i < 10; i++ {
		_, err := Build(params)
		require.Error(t, err)

		var renderErr *render.RenderError
		require.ErrorAs(t, err, &renderErr)
		require.Len(t, renderErr.Missing, 3)
		assert.Equal(t, "services.keeper.command[0]", renderErr.Missing[0].Location)
		assert.Equal(t, "services.keeper.command[1]", renderErr.Missing[1].Location)
		assert.Equal(t, "services.keeper.command[2]", renderErr.Missing[2].Location)
		assert.Equal(t, "ETH1_ENDPOINT", renderErr.Missing[0].Token)
		assert.Equal(t, "KEEPER_ADDRESS", renderErr.Missing[2].Token)
	}
}

func TestBuild_PrefixesNamedVolumes(t *testing.T) {
	p, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:  "geth",
			Image: "ethereum/client-go:v1.10.26",
			Volumes: []topology.VolumeMount{
				{Type: topology.VolumeMountTypeVolume, Source: "geth", Target: "/data"},
				{Type: topology.VolumeMountTypeBind, Source: "./jwt.hex", Target: "/jwt.hex", ReadOnly: true},
			},
		},
		DefaultNetwork: "goerli",
	})
	require.NoError(t, err)
	require.Len(t, p.Volumes, 2)
	assert.Equal(t, "stackctl_goerli_geth", p.Volumes[0].Source)
	assert.Equal(t, "./jwt.hex", p.Volumes[1].Source, "bind mounts keep their path")
	assert.True(t, p.Volumes[1].ReadOnly)
}

func TestBuild_AliasesIncludeServiceName(t *testing.T) {
	p, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:     "geth",
			Image:    "ethereum/client-go:v1.10.26",
			Networks: map[string][]string{"goerli": {"eth1-node"}},
		},
		DefaultNetwork: "goerli",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"geth", "eth1-node"}, p.Networks["stackctl_goerli_goerli"])
}

func TestBuild_ExternalResourcesKeepTheirNames(t *testing.T) {
	p, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:  "prometheus",
			Image: "prom/prometheus:v2.39.1",
			Volumes: []topology.VolumeMount{
				{Type: topology.VolumeMountTypeVolume, Source: "metrics-archive", Target: "/prometheus"},
			},
			Networks: map[string][]string{"monitoring": nil},
		},
		DefaultNetwork:   "goerli",
		ExternalNetworks: map[string]bool{"monitoring": true},
		ExternalVolumes:  map[string]bool{"metrics-archive": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "metrics-archive", p.Volumes[0].Source)
	assert.Equal(t, []string{"prometheus"}, p.Networks["monitoring"])
}

func TestBuild_Ports(t *testing.T) {
	p, err := Build(BuildParams{
		Environment: "goerli",
		Service: topology.Service{
			Name:  "prometheus",
			Image: "prom/prometheus:v2.39.1",
			Ports: []topology.Port{{Target: 9090, Published: 9090, Protocol: "tcp"}},
		},
		DefaultNetwork: "goerli",
	})
	require.NoError(t, err)
	require.Len(t, p.Ports, 1)
	assert.Equal(t, 9090, p.Ports[0].ContainerPort)
	assert.Equal(t, 9090, p.Ports[0].HostPort)
}

func TestMapRestartPolicy(t *testing.T) {
	assert.Equal(t, "no", mapRestartPolicy("").Name)
	assert.Equal(t, "no", mapRestartPolicy(topology.RestartNo).Name)
	assert.Equal(t, "always", mapRestartPolicy(topology.RestartAlways).Name)
	assert.Equal(t, "unless-stopped", mapRestartPolicy(topology.RestartUnlessStopped).Name)

	onFailure := mapRestartPolicy(topology.RestartOnFailure)
	assert.Equal(t, "on-failure", onFailure.Name)
	assert.Equal(t, 3, onFailure.MaximumRetryCount)
}
