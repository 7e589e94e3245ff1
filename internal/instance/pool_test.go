package instance

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	id     int
	closed atomic.Bool
}

func (s *session) Close() error {
	s.closed.Store(true)
	return nil
}

func TestKeyOf(t *testing.T) {
	j1, _ := cookiejar.New(nil)
	j2, _ := cookiejar.New(nil)
	var nilJar *cookiejar.Jar

	assert.Equal(t, KeyOf(j1), KeyOf(j1))
	assert.NotEqual(t, KeyOf(j1), KeyOf(j2))
	assert.Equal(t, NoStore, KeyOf(nil))
	assert.Equal(t, NoStore, KeyOf(nilJar))
	var iface http.CookieJar = j1
	assert.Equal(t, KeyOf(j1), KeyOf(iface))
}

func TestGetCachesPerKey(t *testing.T) {
	var p Pool[*session]
	n := 0
	factory := func() (*session, error) {
		n++
		return &session{id: n}, nil
	}
	j1, _ := cookiejar.New(nil)
	j2, _ := cookiejar.New(nil)

	a, err := p.Get(KeyOf(j1), factory)
	require.NoError(t, err)
	b, err := p.Get(KeyOf(j1), factory)
	require.NoError(t, err)
	c, err := p.Get(KeyOf(j2), factory)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, p.Len())
}

func TestGetSingleConstruction(t *testing.T) {
	var p Pool[*session]
	var calls atomic.Int32
	release := make(chan struct{})
	factory := func() (*session, error) {
		calls.Add(1)
		<-release
		return &session{}, nil
	}

	var wg sync.WaitGroup
	got := make([]*session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = p.Get(NoStore, factory)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	var p Pool[*session]
	k1, k2 := new(int), new(int)
	block := make(chan struct{})
	defer close(block)
	go p.Get(KeyOf(k1), func() (*session, error) {
		<-block
		return &session{}, nil
	})
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Get(KeyOf(k2), func() (*session, error) { return &session{}, nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("construction of one key blocked another")
	}
	assert.NotEqual(t, KeyOf(k1), KeyOf(k2))
}

func TestFailureNotCached(t *testing.T) {
	var p Pool[*session]
	boom := errors.New("boom")
	_, err := p.Get(NoStore, func() (*session, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Len())

	s, err := p.Get(NoStore, func() (*session, error) { return &session{id: 7}, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, s.id)
}

func TestClearClosesValues(t *testing.T) {
	var p Pool[*session]
	s, err := p.Get(NoStore, func() (*session, error) { return &session{}, nil })
	require.NoError(t, err)

	require.NoError(t, p.Clear())
	assert.True(t, s.closed.Load())
	assert.Equal(t, 0, p.Len())

	s2, err := p.Get(NoStore, func() (*session, error) { return &session{}, nil })
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
}
