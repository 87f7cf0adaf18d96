package cdpdomain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/mailru/easyjson"
)

// fakeExecutor is a hand-written cdp.Executor stand-in. gate, if non-nil, is
// closed by the first call to let a test hold it open while other callers
// join the same singleflight key.
type fakeExecutor struct {
	mu    sync.Mutex
	calls int

	gate    chan struct{}
	started chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}

	if r, ok := res.(*browser.GetVersionReturns); ok {
		r.ProtocolVersion = "1.3"
		r.Product = "HeadlessChrome/120.0"
		r.UserAgent = "test-agent"
	}
	return nil
}

func TestGetBrowserInfoReturnsDecodedFields(t *testing.T) {
	exec := &fakeExecutor{}
	f := NewBrowserInfoFetcher(exec)

	info, err := f.GetBrowserInfo(context.Background())
	if err != nil {
		t.Fatalf("GetBrowserInfo: %v", err)
	}
	if info.Product != "HeadlessChrome/120.0" || info.ProtocolVersion != "1.3" || info.UserAgent != "test-agent" {
		t.Errorf("unexpected BrowserInfo: %+v", info)
	}
}

func TestGetBrowserInfoDedupesConcurrentCallers(t *testing.T) {
	exec := &fakeExecutor{gate: make(chan struct{}), started: make(chan struct{})}
	f := NewBrowserInfoFetcher(exec)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := f.GetBrowserInfo(context.Background()); err != nil {
			t.Errorf("GetBrowserInfo: %v", err)
		}
	}()
	<-exec.started // the first call is now blocked inside Execute, holding the singleflight key open

	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.GetBrowserInfo(context.Background()); err != nil {
				t.Errorf("GetBrowserInfo: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond) // let the 9 joiners register on the in-flight key
	close(exec.gate)
	wg.Wait()

	exec.mu.Lock()
	calls := exec.calls
	exec.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected singleflight to collapse all 10 callers into 1 underlying call, got %d", calls)
	}
}
