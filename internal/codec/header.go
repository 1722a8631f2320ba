package codec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Header is the parsed form of a PE JSON header. Only the fields relevant to this
// implementation are modeled; unknown fields are ignored when parsing and are not kept.
type Header struct {
	Resource      string `json:"resource,omitempty"`
	ResID         string `json:"resId,omitempty"`
	Offset        *int   `json:"offset,omitempty"`
	Limit         *int   `json:"limit,omitempty"`
	Status        *int   `json:"status,omitempty"`
	Message       string `json:"message,omitempty"`
	Command       string `json:"command,omitempty"`
	SubscribeID   string `json:"subscribeId,omitempty"`
	MutualEncoding string `json:"mutualEncoding,omitempty"`
	MediaType     string `json:"mediaType,omitempty"`
}

// UsesMcoded7 reports whether the body accompanying this header is Mcoded7-encoded,
// per §4.1: either mutualEncoding or mediaType may carry the "Mcoded7" marker.
func (h Header) UsesMcoded7() bool {
	return h.MutualEncoding == "Mcoded7" || h.MediaType == "Mcoded7"
}

// escapeJSONString escapes embedded double quotes and backslashes so the emitted header
// stays valid JSON even when a resource name or message contains them.
func escapeJSONString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}

// BuildGetHeader emits {"resource":"…"}.
func BuildGetHeader(resource string) []byte {
	return []byte(fmt.Sprintf(`{"resource":"%s"}`, escapeJSONString(resource)))
}

// BuildGetHeaderWithResID emits {"resource":"…","resId":"…"}.
func BuildGetHeaderWithResID(resource, resID string) []byte {
	return []byte(fmt.Sprintf(`{"resource":"%s","resId":"%s"}`, escapeJSONString(resource), escapeJSONString(resID)))
}

// BuildGetHeaderWithOffsetLimit emits {"resource":"…","offset":n,"limit":n}.
func BuildGetHeaderWithOffsetLimit(resource string, offset, limit int) []byte {
	return []byte(fmt.Sprintf(`{"resource":"%s","offset":%d,"limit":%d}`, escapeJSONString(resource), offset, limit))
}

// BuildSetHeader emits {"resource":"…"} — the same shape as a plain Get header; Set
// distinguishes itself by message type and the chunk metadata that follows the header.
func BuildSetHeader(resource string) []byte {
	return BuildGetHeader(resource)
}

// BuildStatusHeader emits {"status":n,"message":"…"}, used by PE replies.
func BuildStatusHeader(status int, message string) []byte {
	if message == "" {
		return []byte(fmt.Sprintf(`{"status":%d}`, status))
	}
	return []byte(fmt.Sprintf(`{"status":%d,"message":"%s"}`, status, escapeJSONString(message)))
}

// BuildSubscribeHeader emits {"resource":"…","command":"start"|"end","subscribeId":"…"}.
// subscribeID is omitted on the initial "start" request before the device has assigned one.
func BuildSubscribeHeader(resource, command, subscribeID string) []byte {
	if subscribeID == "" {
		return []byte(fmt.Sprintf(`{"resource":"%s","command":"%s"}`, escapeJSONString(resource), escapeJSONString(command)))
	}
	return []byte(fmt.Sprintf(`{"resource":"%s","command":"%s","subscribeId":"%s"}`,
		escapeJSONString(resource), escapeJSONString(command), escapeJSONString(subscribeID)))
}

// BuildNotifyHeader emits {"subscribeId":"…","resource":"…"}.
func BuildNotifyHeader(subscribeID, resource string) []byte {
	return []byte(fmt.Sprintf(`{"subscribeId":"%s","resource":"%s"}`, escapeJSONString(subscribeID), escapeJSONString(resource)))
}

// ParseHeader decodes a PE JSON header. Non-JSON or truncated input is a parse error; the
// caller treats it the same as any other malformed-payload rejection (§4.1 Failure).
func ParseHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, fmt.Errorf("codec: invalid JSON header: %w", err)
	}
	return h, nil
}
