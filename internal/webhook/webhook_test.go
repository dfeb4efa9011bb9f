package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDispatchSync_PayloadAndHeaders(t *testing.T) {
	var gotBody Payload
	var gotEvent, gotApp, gotCT string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-PlatformX-Event")
		gotApp = r.Header.Get("X-PlatformX-App")
		gotCT = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := New(nil, time.Second, true)
	err := d.DispatchSync(srv.URL, EventDeployed, "shop", map[string]any{"kind": "backend"})
	if err != nil {
		t.Fatalf("DispatchSync: %v", err)
	}

	if gotEvent != EventDeployed || gotApp != "shop" {
		t.Errorf("headers = %q / %q", gotEvent, gotApp)
	}
	if gotCT != "application/json" {
		t.Errorf("content type = %q", gotCT)
	}
	if gotBody.Event != EventDeployed || gotBody.Slug != "shop" {
		t.Errorf("payload = %+v", gotBody)
	}
	if gotBody.Data["kind"] != "backend" {
		t.Errorf("payload data = %v", gotBody.Data)
	}
	if gotBody.Timestamp.IsZero() {
		t.Error("timestamp missing")
	}
}

func TestDispatchSync_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := New(nil, time.Second, true)
	if err := d.DispatchSync(srv.URL, EventTest, "shop", nil); err == nil {
		t.Fatal("4xx/5xx delivery reported success")
	}
}

func TestDispatch_DisabledIsNoop(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	d := New(nil, time.Second, false)
	d.Dispatch(srv.URL, EventDeployed, "shop", nil)
	time.Sleep(100 * time.Millisecond)
	if hit {
		t.Fatal("disabled dispatcher delivered")
	}
}

func TestDispatch_BlankURLIsNoop(t *testing.T) {
	d := New(nil, time.Second, true)
	d.Dispatch("", EventDeployed, "shop", nil) // must not panic
	if err := d.DispatchSync("", EventTest, "shop", nil); err != nil {
		t.Errorf("blank URL DispatchSync: %v", err)
	}
}
