package shared

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		requestBody string
		target      interface{}
		wantErr     bool
	}{
		{
			name:        "valid json",
			requestBody: `{"name": "test", "age": 30}`,
			target: &struct {
				Name string `json:"name"`
				Age  int    `json:"age"`
			}{},
			wantErr: false,
		},
		{
			name:        "invalid json",
			requestBody: `{"name": "test", "age": 30,}`, // trailing comma
			target:      &struct{}{},
			wantErr:     true,
		},
		{
			name:        "empty body",
			requestBody: "",
			target:      &struct{}{},
			wantErr:     true,
		},
		{
			name:        "unknown field",
			requestBody: `{"name": "test", "surprise": true}`,
			target: &struct {
				Name string `json:"name"`
			}{},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tc.requestBody))

			err := DecodeJSON(req, tc.target)

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type validatableStruct struct {
	Name string `validate:"required"`
	Age  int    `validate:"gte=18"`
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{}
		wantErr bool
	}{
		{
			name:    "valid struct",
			req:     &validatableStruct{Name: "test", Age: 20},
			wantErr: false,
		},
		{
			name:    "missing required field",
			req:     &validatableStruct{Age: 20},
			wantErr: true,
		},
		{
			name:    "under age bound",
			req:     &validatableStruct{Name: "test", Age: 12},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSnapshotBodyRestoresBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{"a":1}`))

	body, err := SnapshotBody(req)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	// Handler can still read the full body afterwards
	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(rest))
}

func TestSnapshotBodyNilBody(t *testing.T) {
	req := &http.Request{Body: nil}

	body, err := SnapshotBody(req)
	require.NoError(t, err)
	assert.Nil(t, body)
}
