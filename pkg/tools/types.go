package tools

import (
	"context"
	"time"
)

// RiskLevel classifies how dangerous a tool is to auto-approve.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		// Unknown levels are treated as most dangerous.
		return 3
	}
}

// Parameter defines a single tool parameter.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution. Handlers may return
// an error or panic; the router converts both into failed results.
type Handler func(ctx context.Context, args map[string]interface{}, tc Context) (interface{}, error)

// Definition describes a registered tool. Registering the same name again
// overwrites the previous definition.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Provider    string      `json:"provider"`
	RiskLevel   RiskLevel   `json:"risk_level"`
	Cacheable   bool        `json:"cacheable"`
	CostPerCall float64     `json:"cost_per_call,omitempty"`
	Handler     Handler     `json:"-"`
}

// FunctionSchema projects the definition into the LLM function-calling shape:
// {type:"function", function:{name, description, parameters}}.
func (d Definition) FunctionSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}

	for _, param := range d.Parameters {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        d.Name,
			"description": d.Description,
			"parameters": map[string]interface{}{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

// Call is one immutable tool invocation request.
type Call struct {
	ID             string                 `json:"id,omitempty"`
	Name           string                 `json:"name"`
	Arguments      map[string]interface{} `json:"arguments"`
	Timestamp      time.Time              `json:"timestamp,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
}

// Context carries per-conversation information through to the handler
// unchanged.
type Context struct {
	ConversationID string                 `json:"conversationId"`
	UserID         string                 `json:"userId,omitempty"`
	OriginalQuery  string                 `json:"originalQuery,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Metadata describes how a result was produced. Every result carries a
// unique callId and a non-negative duration, even on a not-found miss.
type Metadata struct {
	ToolName   string    `json:"toolName"`
	Provider   string    `json:"provider"`
	DurationMs int64     `json:"duration"`
	Cached     bool      `json:"cached"`
	Timestamp  time.Time `json:"timestamp"`
	CallID     string    `json:"callId"`
}

// Result is the stable JSON contract returned by the router. Results are
// always returned, never thrown, so a tool-calling LLM loop can feed
// failures back as data.
type Result struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data"`
	Error    string      `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// Policy controls which risk levels execute without approval and caps spend.
type Policy struct {
	ApprovedRisk     RiskLevel `json:"approved_risk"`
	DailyCostLimit   float64   `json:"daily_cost_limit"`
	MonthlyCostLimit float64   `json:"monthly_cost_limit"`
}

// Allows reports whether a tool at the given risk level is auto-approved.
func (p Policy) Allows(r RiskLevel) bool {
	return r.rank() <= p.ApprovedRisk.rank()
}

// DefaultPolicy auto-approves low and medium risk with no spend caps.
func DefaultPolicy() Policy {
	return Policy{ApprovedRisk: RiskMedium}
}

// CostStats reports the router's running cost counters.
type CostStats struct {
	DailyCost    float64          `json:"daily_cost"`
	MonthlyCost  float64          `json:"monthly_cost"`
	DailyLimit   float64          `json:"daily_limit"`
	MonthlyLimit float64          `json:"monthly_limit"`
	Calls        map[string]int64 `json:"calls"`
}
