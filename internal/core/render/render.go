// Package render emits resolved topologies as orchestrator-consumable YAML.
// This is part of the Functional Core - rendering is a pure function and the
// output is byte-deterministic for identical input, so renders can be diffed
// across environments.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/stackctl/internal/core/topology"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrUnresolvedToken is the sentinel for substitution failures.
var ErrUnresolvedToken = errors.New("unresolved variable token")

// MissingToken identifies one unresolved variable token.
type MissingToken struct {
	Token    string // variable name, without the $ wrapper
	Location string // e.g. "services.oracle.command[2]"
}

func (m MissingToken) String() string {
	return fmt.Sprintf("$%s at %s", m.Token, m.Location)
}

// RenderError reports unresolved variable tokens. All missing tokens are
// collected before failing so the variable set can be completed in one pass.
type RenderError struct {
	Missing []MissingToken
}

func (e *RenderError) Error() string {
	msgs := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		msgs[i] = m.String()
	}
	return "render failed, unresolved tokens: " + strings.Join(msgs, ", ")
}

func (e *RenderError) Unwrap() error {
	return ErrUnresolvedToken
}

// =============================================================================
// Renderer
// =============================================================================

// Render emits a resolved topology as YAML in the same document shape the
// loader consumes: top-level services, volumes and networks.
//
// Services appear in start order; all other collections are key-sorted.
// Variable tokens in command, entrypoint and environment values are
// substituted from variables. The function is pure: identical inputs yield
// byte-identical output, and no environment lookups happen beyond the
// provided variables map.
//
// Render fails with a *RenderError when any token cannot be resolved.
func Render(env *topology.Environment, res *topology.Resolution, variables map[string]string) ([]byte, error) {
	var missing []MissingToken

	servicesNode := &yaml.Node{Kind: yaml.MappingNode}
	for i := range res.Services {
		svc := &res.Services[i]
		servicesNode.Content = append(servicesNode.Content,
			scalarNode(svc.Name),
			serviceNode(svc, variables, &missing),
		)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	root.Content = append(root.Content, scalarNode("services"), servicesNode)

	if len(env.Volumes) > 0 {
		root.Content = append(root.Content, scalarNode("volumes"), volumesNode(env.Volumes))
	}
	if len(env.Networks) > 0 {
		root.Content = append(root.Content, scalarNode("networks"), networksNode(env.Networks))
	}

	if len(missing) > 0 {
		return nil, &RenderError{Missing: missing}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode topology: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode topology: %w", err)
	}
	return buf.Bytes(), nil
}

// serviceNode builds the mapping node for one service, substituting variable
// tokens and recording every token it cannot resolve.
func serviceNode(svc *topology.Service, variables map[string]string, missing *[]MissingToken) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		node.Content = append(node.Content, scalarNode(key), value)
	}

	add("image", scalarNode(svc.Image))

	if len(svc.Entrypoint) > 0 {
		args, miss := SubstituteAll(svc.Entrypoint, variables)
		recordMissing(missing, miss, "services."+svc.Name+".entrypoint")
		add("entrypoint", stringSeqNode(args))
	}
	if len(svc.Command) > 0 {
		args, miss := SubstituteAll(svc.Command, variables)
		recordMissing(missing, miss, "services."+svc.Name+".command")
		add("command", stringSeqNode(args))
	}
	if svc.EnvFile != "" {
		add("env_file", scalarNode(svc.EnvFile))
	}

	if len(svc.Environment) > 0 {
		envNode := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range sortedKeys(svc.Environment) {
			val, miss := Substitute(svc.Environment[k], variables)
			for _, tok := range miss {
				*missing = append(*missing, MissingToken{
					Token:    tok,
					Location: fmt.Sprintf("services.%s.environment.%s", svc.Name, k),
				})
			}
			envNode.Content = append(envNode.Content, scalarNode(k), scalarNode(val))
		}
		add("environment", envNode)
	}

	if len(svc.Ports) > 0 {
		ports := make([]string, len(svc.Ports))
		for i, p := range svc.Ports {
			ports[i] = formatPort(p)
		}
		add("ports", stringSeqNode(ports))
	}

	if len(svc.Volumes) > 0 {
		mounts := make([]string, len(svc.Volumes))
		for i, m := range svc.Volumes {
			mounts[i] = formatMount(m)
		}
		add("volumes", stringSeqNode(mounts))
	}

	if len(svc.Networks) > 0 {
		netsNode := &yaml.Node{Kind: yaml.MappingNode}
		for _, name := range sortedKeys(svc.Networks) {
			aliases := svc.Networks[name]
			if len(aliases) == 0 {
				netsNode.Content = append(netsNode.Content, scalarNode(name), nullNode())
				continue
			}
			aliasNode := &yaml.Node{Kind: yaml.MappingNode}
			aliasNode.Content = append(aliasNode.Content, scalarNode("aliases"), stringSeqNode(aliases))
			netsNode.Content = append(netsNode.Content, scalarNode(name), aliasNode)
		}
		add("networks", netsNode)
	}

	if len(svc.Profiles) > 0 {
		profiles := append([]string{}, svc.Profiles...)
		sort.Strings(profiles)
		add("profiles", stringSeqNode(profiles))
	}
	if len(svc.DependsOn) > 0 {
		deps := append([]string{}, svc.DependsOn...)
		sort.Strings(deps)
		add("depends_on", stringSeqNode(deps))
	}
	if svc.Restart != "" {
		add("restart", scalarNode(string(svc.Restart)))
	}
	if len(svc.Labels) > 0 {
		labelsNode := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range sortedKeys(svc.Labels) {
			labelsNode.Content = append(labelsNode.Content, scalarNode(k), scalarNode(svc.Labels[k]))
		}
		add("labels", labelsNode)
	}

	return node
}

func volumesNode(volumes []topology.Volume) *yaml.Node {
	sorted := append([]topology.Volume{}, volumes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, vol := range sorted {
		entry := &yaml.Node{Kind: yaml.MappingNode}
		if vol.External {
			entry.Content = append(entry.Content, scalarNode("external"), boolNode(true))
		} else {
			driver := vol.Driver
			if driver == "" {
				driver = "local"
			}
			entry.Content = append(entry.Content, scalarNode("driver"), scalarNode(driver))
		}
		node.Content = append(node.Content, scalarNode(vol.Name), entry)
	}
	return node
}

func networksNode(networks []topology.Network) *yaml.Node {
	sorted := append([]topology.Network{}, networks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, net := range sorted {
		entry := &yaml.Node{Kind: yaml.MappingNode}
		if net.External {
			entry.Content = append(entry.Content, scalarNode("external"), boolNode(true))
		} else {
			driver := net.Driver
			if driver == "" {
				driver = "bridge"
			}
			entry.Content = append(entry.Content, scalarNode("driver"), scalarNode(driver))
		}
		node.Content = append(node.Content, scalarNode(net.Name), entry)
	}
	return node
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// formatPort renders a port in compose short syntax.
func formatPort(p topology.Port) string {
	var sb strings.Builder
	if p.HostIP != "" {
		sb.WriteString(p.HostIP)
		sb.WriteByte(':')
	}
	if p.Published != 0 {
		fmt.Fprintf(&sb, "%d:", p.Published)
	} else if p.HostIP != "" {
		sb.WriteByte(':')
	}
	fmt.Fprintf(&sb, "%d", p.Target)
	if p.Protocol != "" && p.Protocol != "tcp" {
		sb.WriteByte('/')
		sb.WriteString(p.Protocol)
	}
	return sb.String()
}

// formatMount renders a volume binding in compose short syntax.
func formatMount(m topology.VolumeMount) string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

func recordMissing(missing *[]MissingToken, miss map[int][]string, prefix string) {
	idxs := make([]int, 0, len(miss))
	for i := range miss {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		for _, tok := range miss[i] {
			*missing = append(*missing, MissingToken{
				Token:    tok,
				Location: fmt.Sprintf("%s[%d]", prefix, i),
			})
		}
	}
}

// =============================================================================
// Node Helpers
// =============================================================================

func scalarNode(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	// Quote values YAML would otherwise reinterpret (e.g. "8080:80", "no").
	if needsQuoting(value) {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func stringSeqNode(values []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range values {
		n.Content = append(n.Content, scalarNode(v))
	}
	return n
}

func boolNode(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%t", v), Tag: "!!bool"}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: "null", Tag: "!!null"}
}

// sortedKeys returns map keys in sorted order so emitted mappings are
// byte-deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// needsQuoting reports whether a scalar must be quoted to survive a YAML
// round trip as a string.
func needsQuoting(value string) bool {
	if value == "" {
		return true
	}
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "on", "off", "null", "~":
		return true
	}
	if strings.ContainsAny(value, ":#{}[]&*!|>'\"%@`") {
		return true
	}
	digits := true
	for _, r := range value {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' && r != 'e' && r != 'E' {
			digits = false
			break
		}
	}
	return digits
}
