package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// A11yNode is a flattened accessibility tree node.
type A11yNode struct {
	Role     string `json:"role"`
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Value    string `json:"value,omitempty"`
	Pressed  string `json:"pressed,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Focused  bool   `json:"focused,omitempty"`
	NodeID   int64  `json:"nodeId,omitempty"`
}

// Raw a11y tree types. The tree is decoded here rather than through the
// typed cdproto call, whose PropertyName enum rejects ignoredReasons names
// such as "uninteresting". Values stay undecoded JSON because their type
// depends on the property (string, boolean, tristate, integer).

type rawAXNode struct {
	NodeID           string      `json:"nodeId"`
	Ignored          bool        `json:"ignored"`
	Role             *rawAXValue `json:"role"`
	Name             *rawAXValue `json:"name"`
	Value            *rawAXValue `json:"value"`
	Properties       []rawAXProp `json:"properties"`
	ChildIDs         []string    `json:"childIds"`
	BackendDOMNodeID int64       `json:"backendDOMNodeId"`
}

type rawAXValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type rawAXProp struct {
	Name  string      `json:"name"`
	Value *rawAXValue `json:"value"`
}

func (v *rawAXValue) String() string {
	if v == nil || v.Value == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return s
	}
	return strings.Trim(string(v.Value), `"`)
}

// decodeAXTree parses an Accessibility.getFullAXTree result.
func decodeAXTree(data []byte) ([]rawAXNode, error) {
	var res struct {
		Nodes []rawAXNode `json:"nodes"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode accessibility tree: %w", err)
	}
	return res.Nodes, nil
}

// buildSnapshot converts raw a11y nodes into a flat list ordered as
// received, dropping ignored and purely structural nodes.
func buildSnapshot(nodes []rawAXNode) []A11yNode {
	parentMap := make(map[string]string)
	for _, n := range nodes {
		for _, childID := range n.ChildIDs {
			parentMap[childID] = n.NodeID
		}
	}
	depthOf := func(nodeID string) int {
		d := 0
		cur := nodeID
		for {
			p, ok := parentMap[cur]
			if !ok {
				break
			}
			d++
			cur = p
		}
		return d
	}

	flat := make([]A11yNode, 0)
	for _, n := range nodes {
		if n.Ignored {
			continue
		}

		role := n.Role.String()
		name := n.Name.String()

		if role == "none" || role == "generic" || role == "InlineTextBox" {
			continue
		}
		if name == "" && role == "StaticText" {
			continue
		}

		entry := A11yNode{
			Role:   role,
			Name:   name,
			Depth:  depthOf(n.NodeID),
			Value:  n.Value.String(),
			NodeID: n.BackendDOMNodeID,
		}
		for _, prop := range n.Properties {
			switch prop.Name {
			case "disabled":
				entry.Disabled = prop.Value.String() == "true"
			case "focused":
				entry.Focused = prop.Value.String() == "true"
			case "pressed":
				entry.Pressed = prop.Value.String()
			}
		}
		flat = append(flat, entry)
	}
	return flat
}

// FormatSnapshot renders nodes as an indented text tree.
func FormatSnapshot(nodes []A11yNode) string {
	var b strings.Builder
	for _, n := range nodes {
		for i := 0; i < n.Depth; i++ {
			b.WriteString("  ")
		}
		b.WriteString(n.Role)
		if n.Name != "" {
			b.WriteString(` "`)
			b.WriteString(n.Name)
			b.WriteByte('"')
		}
		if n.Value != "" {
			b.WriteString(` val="`)
			b.WriteString(n.Value)
			b.WriteByte('"')
		}
		if n.Pressed != "" {
			b.WriteString(" [pressed=")
			b.WriteString(n.Pressed)
			b.WriteByte(']')
		}
		if n.Focused {
			b.WriteString(" [focused]")
		}
		if n.Disabled {
			b.WriteString(" [disabled]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
