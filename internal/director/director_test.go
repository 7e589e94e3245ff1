package director_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankli0324/go-networking/internal/director"
	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/handler/core"
	_ "github.com/frankli0324/go-networking/internal/handler/std"
	"github.com/frankli0324/go-networking/internal/metrics"
	"github.com/frankli0324/go-networking/internal/model"
)

type fakeHandler struct {
	name   string
	reject bool
	err    error
	sent   atomic.Int32
	closed atomic.Int32
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Capabilities() handler.Capabilities { return handler.DefaultCapabilities() }

func (f *fakeHandler) Validate(*model.Request) error {
	if f.reject {
		return errs.NewRequestError(f.name+" refuses", nil)
	}
	return nil
}

func (f *fakeHandler) Send(context.Context, *model.Request) (*model.Response, error) {
	f.sent.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return model.NewResponse(200, "OK", "http://example.com/", nil, nil, nil), nil
}

func (f *fakeHandler) Close() error {
	f.closed.Add(1)
	return f.err
}

var req = &model.Request{Method: "GET", URL: "http://example.com/"}

func TestSelectTiesGoToFirstAdded(t *testing.T) {
	d := director.New(nil, nil)
	a, b := &fakeHandler{name: "a"}, &fakeHandler{name: "b"}
	require.NoError(t, d.Add(a))
	require.NoError(t, d.Add(b))

	for range 10 {
		h, err := d.Select(req)
		require.NoError(t, err)
		assert.Equal(t, "a", h.Name())
	}
}

func TestSelectPreference(t *testing.T) {
	d := director.New(nil, nil)
	a, b := &fakeHandler{name: "a"}, &fakeHandler{name: "b"}
	require.NoError(t, d.Add(a))
	require.NoError(t, d.Add(b))

	d.AddPreference(func(handler.Handler, *model.Request) int { return 10 }, "b")
	h, err := d.Select(req)
	require.NoError(t, err)
	assert.Equal(t, "b", h.Name())

	// the maximum of applying preferences counts
	d.AddPreference(func(h handler.Handler, _ *model.Request) int {
		if h.Name() == "a" {
			return 20
		}
		return -5
	})
	h, err = d.Select(req)
	require.NoError(t, err)
	assert.Equal(t, "a", h.Name())
}

func TestSelectSkipsRejecting(t *testing.T) {
	d := director.New(nil, nil)
	require.NoError(t, d.Add(&fakeHandler{name: "a", reject: true}))
	require.NoError(t, d.Add(&fakeHandler{name: "b"}))

	h, err := d.Select(req)
	require.NoError(t, err)
	assert.Equal(t, "b", h.Name())
}

func TestSelectNoneLeft(t *testing.T) {
	d := director.New(nil, nil)
	require.NoError(t, d.Add(&fakeHandler{name: "a", reject: true}))

	_, err := d.Select(req)
	var re *errs.RequestError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "a refuses")

	_, err = director.New(nil, nil).Select(req)
	assert.ErrorIs(t, err, errs.KindRequest)
}

func TestAddDuplicate(t *testing.T) {
	d := director.New(nil, nil)
	require.NoError(t, d.Add(&fakeHandler{name: "a"}))
	assert.Error(t, d.Add(&fakeHandler{name: "a"}))
	assert.Len(t, d.Handlers(), 1)
}

func TestSendTranslatesAndRecords(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	d := director.New(nil, metrics.New(reg))
	a := &fakeHandler{name: "a", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	require.NoError(t, d.Add(a))

	_, err := d.Send(context.Background(), req)
	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.EqualValues(t, 1, a.sent.Load())

	n, err := testutil.GatherAndCount(reg, "networking_handler_selections_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSendOK(t *testing.T) {
	d := director.New(nil, nil)
	require.NoError(t, d.Add(&fakeHandler{name: "a"}))
	resp, err := d.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestCloseJoinsErrors(t *testing.T) {
	d := director.New(nil, nil)
	a := &fakeHandler{name: "a", err: errors.New("boom")}
	b := &fakeHandler{name: "b"}
	require.NoError(t, d.Add(a))
	require.NoError(t, d.Add(b))

	err := d.Close()
	assert.ErrorContains(t, err, "a: boom")
	assert.EqualValues(t, 1, b.closed.Load())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{core.Name, "std"}, director.Registered())
	assert.Panics(t, func() {
		director.Register(core.Name, func(handler.Options) (handler.Handler, error) { return nil, nil })
	})
	assert.Panics(t, func() {
		director.Register("", func(handler.Options) (handler.Handler, error) { return nil, nil })
	})
}

func TestFromRegistryPrefersStd(t *testing.T) {
	d, err := director.FromRegistry(handler.Options{}, nil)
	require.NoError(t, err)
	defer d.Close()

	names := []string{}
	for _, h := range d.Handlers() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{core.Name, "std"}, names)

	h, err := d.Select(req)
	require.NoError(t, err)
	assert.Equal(t, "std", h.Name())
}

func TestUnknownExtensionNeverDials(t *testing.T) {
	var dials atomic.Int32
	opts := handler.Options{
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			return nil, errors.New("unexpected dial")
		},
	}
	d, err := director.FromRegistry(opts, nil)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Send(context.Background(), &model.Request{
		Method:     "GET",
		URL:        "http://example.com/",
		Extensions: model.Extensions{"bogus": true},
	})
	assert.ErrorIs(t, err, errs.KindRequest)
	assert.Zero(t, dials.Load())

	_, err = d.Send(context.Background(), &model.Request{
		Method: "GET",
		URL:    "ftp://example.com/",
	})
	assert.ErrorIs(t, err, errs.KindRequest)
	assert.Zero(t, dials.Load())
}
