package client

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProtocolError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        ProtocolError
		wantMsg     string
	}{
		{
			name:   "json light odata.error",
			status: 404,
			body:   `{"odata.error":{"code":"","message":{"lang":"en-US","value":"Resource not found for the segment 'Products'."}}}`,
			want:   ProtocolError{StatusCode: 404, Message: "Resource not found for the segment 'Products'."},
			wantMsg: "OData error (HTTP 404): Resource not found for the segment 'Products'.",
		},
		{
			name:   "sap error with innererror",
			status: 400,
			body:   `{"error":{"code":"SY/530","message":{"lang":"en","value":"Invalid key"},"innererror":{"transactionid":"ABC"}}}`,
			want: ProtocolError{
				StatusCode: 400,
				Code:       "SY/530",
				Message:    "Invalid key",
				InnerError: `{"transactionid":"ABC"}`,
			},
			wantMsg: "OData error (HTTP 400) [SY/530]: Invalid key",
		},
		{
			name:   "string message with details",
			status: 400,
			body:   `{"error":{"code":"E1","message":"Validation failed","target":"Product","details":[{"code":"D1","message":"Name is required","target":"Name"}]}}`,
			want: ProtocolError{
				StatusCode: 400,
				Code:       "E1",
				Message:    "Validation failed",
				Target:     "Product",
				Details:    []ErrorDetail{{Code: "D1", Message: "Name is required", Target: "Name"}},
			},
			wantMsg: "OData error (HTTP 400) [E1]: Validation failed (target: Product) | Details: Name is required (target: Name)",
		},
		{
			name:   "atom m:error",
			status: 409,
			body: `<?xml version="1.0" encoding="utf-8"?>
<m:error xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <m:code>Conflict</m:code>
  <m:message xml:lang="en-US">Entity already exists</m:message>
</m:error>`,
			want:    ProtocolError{StatusCode: 409, Code: "Conflict", Message: "Entity already exists"},
			wantMsg: "OData error (HTTP 409) [Conflict]: Entity already exists",
		},
		{
			name:    "plain text body",
			status:  500,
			body:    "backend unavailable",
			want:    ProtocolError{StatusCode: 500, Message: "backend unavailable"},
			wantMsg: "OData error (HTTP 500): backend unavailable",
		},
		{
			name:        "html error page",
			status:      502,
			contentType: "text/html; charset=utf-8",
			body:        "<html><body>Bad Gateway</body></html>",
			want:        ProtocolError{StatusCode: 502, Message: "Bad Gateway"},
			wantMsg:     "OData error (HTTP 502): Bad Gateway",
		},
		{
			name:    "empty body",
			status:  401,
			want:    ProtocolError{StatusCode: 401, Message: "Unauthorized"},
			wantMsg: "OData error (HTTP 401): Unauthorized",
		},
		{
			name:    "json without error member",
			status:  400,
			body:    `{"message":"nope"}`,
			want:    ProtocolError{StatusCode: 400, Message: `{"message":"nope"}`},
			wantMsg: `OData error (HTTP 400): {"message":"nope"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.contentType != "" {
				h.Set("Content-Type", tt.contentType)
			}
			got := parseProtocolError(tt.status, h, []byte(tt.body))
			assert.Equal(t, tt.want, *got)
			assert.Equal(t, tt.wantMsg, got.Error())
		})
	}
}

func TestProtocolErrorIs(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{404, ErrNotFound},
		{412, ErrPreconditionFailed},
		{409, ErrConflict},
		{401, ErrUnauthorized},
		{403, ErrUnauthorized},
		{500, ErrServer},
		{503, ErrServer},
	}
	for _, tt := range tests {
		var err error = &ProtocolError{StatusCode: tt.status}
		assert.True(t, errors.Is(err, tt.target), "%d should match %v", tt.status, tt.target)
	}
	assert.False(t, errors.Is(&ProtocolError{StatusCode: 400}, ErrNotFound))
	assert.False(t, errors.Is(&ProtocolError{StatusCode: 404}, ErrServer))
}
