package types

// AgentMetadata describes an agent for relevance scoring and reporting.
type AgentMetadata struct {
	AgentID      string   `json:"agent_id" yaml:"agent_id"`
	TeamTag      string   `json:"team" yaml:"team"`
	ProjectTag   string   `json:"project" yaml:"project"`
	Domains      []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Terms returns the agent's normalized vocabulary.
func (m AgentMetadata) Terms() []string {
	var all []string
	all = append(all, m.Domains...)
	all = append(all, m.Capabilities...)
	all = append(all, m.Tags...)
	return NormalizeSet(all)
}

// AgentContext is the working context used to adapt a pattern to a recipient.
type AgentContext struct {
	AgentID     string   `json:"agent_id" yaml:"agent_id"`
	Domain      string   `json:"domain" yaml:"domain"`
	Stack       []string `json:"stack,omitempty" yaml:"stack,omitempty"`
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Conventions []string `json:"conventions,omitempty" yaml:"conventions,omitempty"`
}
