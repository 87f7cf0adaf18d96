package target

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bidimapper/internal/cdpconn"
)

// dialFakeBrowser brings up a CDP endpoint that answers every command with
// an empty success result, enough to drive the unblock sequence without a
// real browser.
func dialFakeBrowser(t *testing.T) *cdpconn.Connection {
	t.Helper()
	var upgrader websocket.Upgrader
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var msg struct {
					ID int64 `json:"id"`
				}
				if json.Unmarshal(data, &msg) != nil || msg.ID == 0 {
					continue
				}
				reply, _ := json.Marshal(map[string]interface{}{"id": msg.ID, "result": map[string]interface{}{}})
				conn.WriteMessage(websocket.TextMessage, reply)
			}
		}()
	})

	conn, err := cdpconn.Dial(context.Background(), srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("dialFakeBrowser: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type fakeNetworkSync struct {
	called bool
	err    error
}

func (f *fakeNetworkSync) SyncTarget(ctx context.Context, tgt *Target) error {
	f.called = true
	return f.err
}

type fakePreloadInstaller struct {
	called bool
	err    error
}

func (f *fakePreloadInstaller) InstallPreloadScripts(ctx context.Context, tgt *Target) error {
	f.called = true
	return f.err
}

func newTestTarget(t *testing.T) *Target {
	conn := dialFakeBrowser(t)
	return New("target-1", "sess-1", "target-1", conn.GetClient("sess-1"), conn.BrowserClient(), false)
}

func TestUnblockRunsNetworkSyncAndPreloadInstaller(t *testing.T) {
	tgt := newTestTarget(t)
	netSync := &fakeNetworkSync{}
	preload := &fakePreloadInstaller{}

	if err := tgt.Unblock(context.Background(), preload, netSync); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if !netSync.called {
		t.Error("expected NetworkSync.SyncTarget to be called during unblock")
	}
	if !preload.called {
		t.Error("expected PreloadInstaller.InstallPreloadScripts to be called during unblock")
	}
	if !tgt.Done() {
		t.Error("Done should report true once Unblock has resolved")
	}
}

func TestUnblockResolvesOnlyOnce(t *testing.T) {
	tgt := newTestTarget(t)
	netSync := &fakeNetworkSync{}

	var g1, g2 error
	done := make(chan struct{}, 2)
	go func() { g1 = tgt.Unblock(context.Background(), nil, netSync); done <- struct{}{} }()
	go func() { g2 = tgt.Unblock(context.Background(), nil, netSync); done <- struct{}{} }()
	<-done
	<-done

	if g1 != g2 {
		t.Errorf("concurrent Unblock callers should observe the same result, got %v and %v", g1, g2)
	}
}

func TestUnblockPropagatesGenuineNetworkSyncError(t *testing.T) {
	tgt := newTestTarget(t)
	wantErr := errors.New("boom")
	netSync := &fakeNetworkSync{err: wantErr}

	err := tgt.Unblock(context.Background(), nil, netSync)
	if err == nil {
		t.Fatal("expected Unblock to propagate a genuine error")
	}
}

func TestSetDomainStateAndAccessors(t *testing.T) {
	tgt := newTestTarget(t)
	if tgt.NetworkEnabled() {
		t.Error("NetworkEnabled should start false")
	}
	stages := FetchStages{Request: true, Auth: true}
	tgt.SetDomainState(true, stages)
	if !tgt.NetworkEnabled() {
		t.Error("NetworkEnabled should reflect SetDomainState")
	}
	if tgt.FetchStages() != stages {
		t.Errorf("FetchStages() = %+v, want %+v", tgt.FetchStages(), stages)
	}
}

func TestFetchStagesAny(t *testing.T) {
	if (FetchStages{}).Any() {
		t.Error("an all-false FetchStages should report Any() == false")
	}
	if !(FetchStages{Response: true}).Any() {
		t.Error("a FetchStages with Response set should report Any() == true")
	}
}

func TestEnableFetchAndDisableFetchIssueCommands(t *testing.T) {
	tgt := newTestTarget(t)
	if err := tgt.EnableFetch(context.Background(), FetchStages{Request: true}); err != nil {
		t.Fatalf("EnableFetch: %v", err)
	}
	if err := tgt.DisableFetch(context.Background()); err != nil {
		t.Fatalf("DisableFetch: %v", err)
	}
}

func TestEnableAndDisableNetwork(t *testing.T) {
	tgt := newTestTarget(t)
	if err := tgt.EnableNetwork(context.Background()); err != nil {
		t.Fatalf("EnableNetwork: %v", err)
	}
	if err := tgt.DisableNetwork(context.Background()); err != nil {
		t.Fatalf("DisableNetwork: %v", err)
	}
}
