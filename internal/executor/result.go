package executor

import "encoding/json"

// CallToolResult is the outcome of a successful (possibly tool-level-failed)
// execute() call. Exactly one of Error/Content is meaningful, matching the
// stdout decoding convention: an object with a string "error" field is a
// tool-level failure, an object with a "content" field is an explicit
// payload, anything else is wrapped as the payload verbatim.
type CallToolResult struct {
	IsError bool
	Error   string
	Content any
}

// decodeStdout applies the stdout JSON convention: {"error": "..."} is a
// tool-level failure, {"content": ...} is an explicit payload, any other
// JSON value is treated as the payload itself.
func decodeStdout(raw []byte) (*CallToolResult, error) {
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if errRaw, ok := asObject["error"]; ok {
			var msg string
			if err := json.Unmarshal(errRaw, &msg); err == nil {
				return &CallToolResult{IsError: true, Error: msg}, nil
			}
		}
		if contentRaw, ok := asObject["content"]; ok {
			var content any
			if err := json.Unmarshal(contentRaw, &content); err != nil {
				return nil, err
			}
			return &CallToolResult{Content: content}, nil
		}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &CallToolResult{Content: value}, nil
}
