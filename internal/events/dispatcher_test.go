package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu       sync.Mutex
	statuses []string
	ids      []string
	stats    [][2]int64
}

func (r *recorder) StatusChanged(component, status string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, component+"="+status)
}

func (r *recorder) IdentityCaptured(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) StatsUpdated(messages, characters int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, [2]int64{messages, characters})
}

func TestDispatchToAllObservers(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	a, b := &recorder{}, &recorder{}
	d.Register(a)
	d.Register(b)

	d.StatusChanged("xmpp", "Active", true)
	d.IdentityCaptured("puuid")
	d.StatsUpdated(3, 42)

	for _, r := range []*recorder{a, b} {
		assert.Equal(t, []string{"xmpp=Active"}, r.statuses)
		assert.Equal(t, []string{"puuid"}, r.ids)
		assert.Equal(t, [][2]int64{{3, 42}}, r.stats)
	}
}

func TestPanickingObserverDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	d.Register(&Funcs{OnIdentity: func(string) { panic("boom") }})
	r := &recorder{}
	d.Register(r)

	assert.NotPanics(t, func() { d.IdentityCaptured("x") })
	assert.Equal(t, []string{"x"}, r.ids)
}

func TestUnregister(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	r := &recorder{}
	remove := d.Register(r)
	assert.Equal(t, 1, d.Len())

	remove()
	remove()
	assert.Equal(t, 0, d.Len())

	d.StatusChanged("a", "b", true)
	assert.Empty(t, r.statuses)
}

func TestRegisterDuringDispatch(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	late := &recorder{}
	d.Register(&Funcs{OnStatus: func(string, string, bool) { d.Register(late) }})

	d.StatusChanged("a", "1", true)
	assert.Empty(t, late.statuses, "observer added mid-dispatch sees the next event only")

	d.StatusChanged("a", "2", true)
	assert.Equal(t, []string{"a=2"}, late.statuses)
}

func TestConcurrentDispatchAndRegistration(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			remove := d.Register(&recorder{})
			remove()
		}()
		go func() {
			defer wg.Done()
			d.StatsUpdated(1, 1)
		}()
	}
	wg.Wait()
}

func TestFatalOnlyReachesFatalObservers(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	var got []FatalCause
	d.Register(&recorder{})
	d.Register(&Funcs{OnFatal: func(c FatalCause, _ string) { got = append(got, c) }})

	d.Fatal(CausePeerRunning, "Riot client is running")
	assert.Equal(t, []FatalCause{CausePeerRunning}, got)
}

func TestClassifyFatal(t *testing.T) {
	tests := []struct {
		reason string
		want   FatalCause
	}{
		{"Riot Client is already running", CausePeerRunning},
		{"riot process still RUNNING", CausePeerRunning},
		{"Riot client not found", CauseTargetNotFound},
		{"error 404", CauseTargetNotFound},
		{"running out of memory", CauseInternal},
		{"", CauseInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyFatal(tt.reason), tt.reason)
	}
}

func TestFatalCauseMessage(t *testing.T) {
	assert.Contains(t, CausePeerRunning.Message(), "already running")
	assert.Contains(t, CauseTargetNotFound.Message(), "could not be found")
	assert.NotEmpty(t, CauseInternal.Message())
}

func TestCauseFor(t *testing.T) {
	assert.Equal(t, CausePeerRunning, CauseFor(409, ""))
	assert.Equal(t, CauseTargetNotFound, CauseFor(404, "whatever"))
	assert.Equal(t, CauseInternal, CauseFor(500, "Riot client is running"))
	assert.Equal(t, CausePeerRunning, CauseFor(0, "Riot client is running"))
	assert.Equal(t, CauseInternal, CauseFor(0, "boom"))
}
