package client

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/zmcp/odata-client/internal/constants"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServer             = errors.New("server error")
)

// maxRawMessage bounds the body text used as a message when the body is
// not an OData error document.
const maxRawMessage = 512

// ErrorDetail is one entry of an error's details list.
type ErrorDetail struct {
	Code    string
	Message string
	Target  string
}

// ProtocolError is a non-success response from the service.
type ProtocolError struct {
	StatusCode int
	Code       string
	Message    string
	Target     string
	Details    []ErrorDetail
	// InnerError is the raw innererror payload, when the service sent one.
	InnerError string
}

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "OData error (HTTP %d)", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&sb, " [%s]", e.Code)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	}
	if e.Target != "" {
		fmt.Fprintf(&sb, " (target: %s)", e.Target)
	}
	if len(e.Details) > 0 {
		sb.WriteString(" | Details: ")
		for i, d := range e.Details {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(d.Message)
			if d.Target != "" {
				fmt.Fprintf(&sb, " (target: %s)", d.Target)
			}
		}
	}
	return sb.String()
}

// Is maps the status code onto the package's sentinel errors.
func (e *ProtocolError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrPreconditionFailed:
		return e.StatusCode == http.StatusPreconditionFailed
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrServer:
		return e.StatusCode >= 500
	}
	return false
}

type jsonErrorDocument struct {
	Error      *jsonErrorBody `json:"error"`
	ODataError *jsonErrorBody `json:"odata.error"`
}

type jsonErrorBody struct {
	Code       string         `json:"code"`
	Message    jsontext.Value `json:"message"`
	Target     string         `json:"target"`
	Details    []jsonDetail   `json:"details"`
	InnerError jsontext.Value `json:"innererror"`
}

type jsonDetail struct {
	Code    string         `json:"code"`
	Message jsontext.Value `json:"message"`
	Target  string         `json:"target"`
}

// jsonMessage reads a message given either as a string or as the v3
// {"lang": ..., "value": ...} object.
func jsonMessage(v jsontext.Value) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var m struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(v, &m); err == nil {
		return m.Value
	}
	return ""
}

type xmlErrorDocument struct {
	XMLName    xml.Name `xml:"error"`
	Code       string   `xml:"code"`
	Message    string   `xml:"message"`
	InnerError struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"innererror"`
}

// parseProtocolError builds a ProtocolError from a failed response. JSON
// (error or odata.error) and XML (m:error) documents are understood; any
// other body becomes the message.
func parseProtocolError(status int, header http.Header, body []byte) *ProtocolError {
	pe := &ProtocolError{StatusCode: status}
	trimmed := bytes.TrimSpace(body)

	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var doc jsonErrorDocument
		if err := json.Unmarshal(trimmed, &doc); err == nil {
			b := doc.ODataError
			if b == nil {
				b = doc.Error
			}
			if b != nil {
				pe.Code = b.Code
				pe.Message = jsonMessage(b.Message)
				pe.Target = b.Target
				for _, d := range b.Details {
					pe.Details = append(pe.Details, ErrorDetail{Code: d.Code, Message: jsonMessage(d.Message), Target: d.Target})
				}
				if len(b.InnerError) > 0 {
					pe.InnerError = string(b.InnerError)
				}
				return pe
			}
		}
	case len(trimmed) > 0 && trimmed[0] == '<':
		var doc xmlErrorDocument
		if err := xml.Unmarshal(trimmed, &doc); err == nil {
			pe.Code = strings.TrimSpace(doc.Code)
			pe.Message = strings.TrimSpace(doc.Message)
			pe.InnerError = strings.TrimSpace(string(doc.InnerError.Inner))
			return pe
		}
	}

	if len(trimmed) > 0 && !strings.HasPrefix(header.Get(constants.ContentType), "text/html") {
		msg := string(trimmed)
		if len(msg) > maxRawMessage {
			msg = msg[:maxRawMessage] + "..."
		}
		pe.Message = msg
	} else {
		pe.Message = http.StatusText(status)
	}
	return pe
}
