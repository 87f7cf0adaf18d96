package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bidimapper/internal/cdpconn"
	"bidimapper/internal/model"
	"bidimapper/internal/runner"
	"bidimapper/internal/target"
)

// dialFakeBrowser brings up a CDP endpoint that answers every command with
// an empty success result, enough to drive SyncTarget's domain commands
// without a real browser.
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

func newSyncTestCoordinator(t *testing.T, subscribeNetwork bool) *Coordinator {
	storage := NewStorage()
	subs := runner.NewSubscriptionManager(fakeSubAncestry{})
	if subscribeNetwork {
		subs.Subscribe([]string{"network"}, nil)
	}
	events := runner.NewEventManager(subs, &recordingSink{}, 1024)
	ctxs := &fakeCtxResolver{}
	return NewCoordinator(storage, events, subs, ctxs, nil)
}

func newSyncTestTarget(t *testing.T) *target.Target {
	conn := dialFakeBrowser(t)
	return target.New("target-1", "sess-1", "target-1", conn.GetClient("sess-1"), conn.BrowserClient(), false)
}

func TestSyncTargetNoopWhenNoSubscriptionAndNoIntercepts(t *testing.T) {
	c := newSyncTestCoordinator(t, false)
	tgt := newSyncTestTarget(t)

	if err := c.SyncTarget(context.Background(), tgt); err != nil {
		t.Fatalf("SyncTarget: %v", err)
	}
	if tgt.NetworkEnabled() {
		t.Error("Network should not be enabled with no subscription")
	}
	if tgt.FetchStages().Any() {
		t.Error("Fetch should not be enabled with no intercepts")
	}
}

func TestSyncTargetEnablesNetworkWhenSubscribed(t *testing.T) {
	c := newSyncTestCoordinator(t, true)
	tgt := newSyncTestTarget(t)

	if err := c.SyncTarget(context.Background(), tgt); err != nil {
		t.Fatalf("SyncTarget: %v", err)
	}
	if !tgt.NetworkEnabled() {
		t.Error("Network should be enabled once a global network subscription exists")
	}
}

func TestSyncTargetEnablesFetchWhenInterceptRegistered(t *testing.T) {
	c := newSyncTestCoordinator(t, false)
	tgt := newSyncTestTarget(t)
	c.storage.AddIntercept(nil, []model.InterceptPhase{model.PhaseBeforeRequestSent}, nil)

	if err := c.SyncTarget(context.Background(), tgt); err != nil {
		t.Fatalf("SyncTarget: %v", err)
	}
	if !tgt.FetchStages().Request {
		t.Error("expected the Request fetch stage to be enabled")
	}
}

func TestSyncTargetDefersFetchDisableWhilePausedRequestsExist(t *testing.T) {
	c := newSyncTestCoordinator(t, false)
	tgt := newSyncTestTarget(t)
	tgt.SetDomainState(false, target.FetchStages{Request: true})

	req := NewRequest("req-1", "sess-1", "ctx-1", "target-1")
	c.storage.Insert("sess-1", req)
	c.storage.SetFetchID(req, "fetch-1")

	if err := c.SyncTarget(context.Background(), tgt); err != nil {
		t.Fatalf("SyncTarget: %v", err)
	}
	if !tgt.FetchStages().Request {
		t.Error("Fetch disable should be deferred while a request is still paused")
	}
}

func TestSyncTargetDisablesFetchOnceRequestsDrain(t *testing.T) {
	c := newSyncTestCoordinator(t, false)
	tgt := newSyncTestTarget(t)
	tgt.SetDomainState(false, target.FetchStages{Request: true})

	if err := c.SyncTarget(context.Background(), tgt); err != nil {
		t.Fatalf("SyncTarget: %v", err)
	}
	if tgt.FetchStages().Any() {
		t.Error("expected Fetch to be disabled once no intercepts and no paused requests remain")
	}
}
