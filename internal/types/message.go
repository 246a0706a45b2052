package types

// Message actions accepted by the agent.
const (
	ActionGetProxyStatus   = "getProxyStatus"
	ActionUpdateBadge      = "updateBadge"
	ActionVerifyToken      = "verifyToken"
	ActionReportProxyError = "reportProxyError"
	ActionClickBadge       = "clickBadge"
)

// MaxActionLength bounds the action field of incoming messages.
const MaxActionLength = 64

// Message is an inter-component request, e.g. {"action": "getProxyStatus"}.
type Message struct {
	Action  string `json:"action"`
	Token   string `json:"token,omitempty"`
	Details string `json:"details,omitempty"`
}

// MessageResponse is the union of all replies. Only the fields relevant to
// the action are populated.
type MessageResponse struct {
	IsProxySet *bool          `json:"isProxySet,omitempty"`
	Config     *ProxySettings `json:"config,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	IsValid    *bool          `json:"isValid,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// HealthResponse is returned by the agent health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Bool returns a pointer to b, for optional response fields.
func Bool(b bool) *bool {
	return &b
}
