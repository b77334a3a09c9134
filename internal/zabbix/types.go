package zabbix

import "encoding/json"

// request is a JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

// response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data != "" {
		return e.Message + ": " + e.Data
	}
	return e.Message
}

// problem is the wire shape of an active problem. The API returns numbers as
// strings.
type problem struct {
	EventID      string `json:"eventid"`
	ObjectID     string `json:"objectid"` // trigger identity, not stable for ack
	Name         string `json:"name"`
	Severity     string `json:"severity"`
	Clock        string `json:"clock"`
	Acknowledged string `json:"acknowledged"`
}

// Host is a monitored host as reported by the server.
type Host struct {
	ID   string `json:"hostid"`
	Name string `json:"name"`
	Host string `json:"host"`
}

type problemParams struct {
	Output      string   `json:"output"`
	Recent      bool     `json:"recent"`
	SortField   []string `json:"sortfield"`
	SortOrder   []string `json:"sortorder"`
	Limit       int      `json:"limit,omitempty"`
	Suppressed  bool     `json:"suppressed"`
	Acknowledge *bool    `json:"acknowledged,omitempty"`
}

type hostParams struct {
	Output         []string `json:"output"`
	MonitoredHosts bool     `json:"monitored_hosts"`
	SortField      []string `json:"sortfield"`
}

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ackParams struct {
	EventIDs []string `json:"eventids"`
	Action   int      `json:"action"`
	Message  string   `json:"message,omitempty"`
}

// event.acknowledge action bitmask: 2 = acknowledge, 4 = add message.
const (
	actionAcknowledge = 2
	actionAddMessage  = 4
)
