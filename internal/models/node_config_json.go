package models

import "encoding/json"

// nodeConfigAlias avoids infinite recursion when (un)marshalling NodeConfig.
type nodeConfigAlias NodeConfig

// MarshalJSON flattens Raw fields alongside the known NodeConfig fields so
// that round-tripping through the `nodes.config` jsonb column preserves
// node-type-specific data the engine itself never interprets.
func (c NodeConfig) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(nodeConfigAlias(c))
	if err != nil {
		return nil, err
	}

	if len(c.Raw) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(c.Raw)+4)
	for k, v := range c.Raw {
		merged[k] = v
	}

	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}

	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and stashes everything else in Raw.
func (c *NodeConfig) UnmarshalJSON(data []byte) error {
	var alias nodeConfigAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = NodeConfig(alias)

	var whole map[string]any
	if err := json.Unmarshal(data, &whole); err != nil {
		return err
	}

	for _, known := range []string{"func_id", "data_targets", "error_targets", "inputs"} {
		delete(whole, known)
	}
	if len(whole) > 0 {
		c.Raw = whole
	}
	return nil
}
