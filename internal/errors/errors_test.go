package errors_test

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/model"
)

func TestKindHierarchy(t *testing.T) {
	tests := []struct {
		err    error
		within []errors.Kind
		not    []errors.Kind
	}{
		{errors.NewRequestError("bad", nil), []errors.Kind{errors.KindRequest}, []errors.Kind{errors.KindTransport, errors.KindHTTP}},
		{errors.NewTransportError("", io.EOF), []errors.Kind{errors.KindTransport, errors.KindRequest}, []errors.Kind{errors.KindSSL, errors.KindHTTP}},
		{errors.NewSSLError(io.EOF), []errors.Kind{errors.KindSSL, errors.KindTransport, errors.KindRequest}, []errors.Kind{errors.KindCertificateVerify}},
		{errors.NewCertificateVerifyError(io.EOF), []errors.Kind{errors.KindCertificateVerify, errors.KindSSL, errors.KindTransport}, []errors.Kind{errors.KindProxy}},
		{errors.NewProxyError(io.EOF), []errors.Kind{errors.KindProxy, errors.KindTransport}, []errors.Kind{errors.KindSSL}},
		{errors.NewIncompleteRead(3, 10, nil), []errors.Kind{errors.KindIncompleteRead, errors.KindTransport}, []errors.Kind{errors.KindProxy}},
		{errors.NewHTTPError(model.NewResponse(404, "Not Found", "http://x", nil, nil, nil), false), []errors.Kind{errors.KindHTTP, errors.KindRequest}, []errors.Kind{errors.KindTransport}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			for _, k := range tt.within {
				assert.True(t, stderrors.Is(tt.err, k), "expected %v within %v", tt.err, k)
			}
			for _, k := range tt.not {
				assert.False(t, stderrors.Is(tt.err, k), "expected %v not within %v", tt.err, k)
			}
		})
	}
}

func TestCausePreserved(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", errors.NewTransportError("dial", cause))

	assert.ErrorIs(t, err, cause)
	k, ok := errors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindTransport, k)
	assert.Contains(t, err.Error(), "connection reset")

	_, ok = errors.KindOf(cause)
	assert.False(t, ok)
}

func TestIncompleteReadMessage(t *testing.T) {
	err := errors.NewIncompleteRead(10, 100, nil)
	assert.Equal(t, "incomplete read: 10 bytes read, 90 more expected", err.Error())

	var ir *errors.IncompleteRead
	require.ErrorAs(t, fmt.Errorf("x: %w", err), &ir)
	assert.EqualValues(t, 10, ir.Partial)
	assert.EqualValues(t, 100, ir.Expected)
}

func TestHTTPErrorKeepsResponse(t *testing.T) {
	resp := model.NewResponse(301, "Moved Permanently", "http://example.com/loop", nil, nil, nil)
	err := errors.NewHTTPError(resp, true)

	assert.Same(t, resp, err.Response)
	assert.True(t, err.RedirectLoop)
	assert.Contains(t, err.Error(), "redirect loop")
	assert.NoError(t, err.Response.Close())
}
