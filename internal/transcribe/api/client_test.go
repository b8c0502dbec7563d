package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/capture"
)

func TestClient_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.addTranscript(t, "a", "one.m4a", "budget talk", time.Now())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	c := NewClient(ts.URL + "/")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	st, err := c.StartWatching(ctx)
	if err != nil || !st.Watching {
		t.Fatalf("StartWatching() = %+v, %v", st, err)
	}

	_, err = c.StartWatching(ctx)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusConflict {
		t.Errorf("second StartWatching() error = %v, want 409 StatusError", err)
	}

	sess, err := c.StartCapture(ctx)
	if err != nil || sess.State != capture.Recording {
		t.Fatalf("StartCapture() = %+v, %v", sess, err)
	}
	if _, err := c.StopCapture(ctx); err != nil {
		t.Fatalf("StopCapture() error = %v", err)
	}

	st, err = c.SetLanguage(ctx, "de")
	if err != nil || st.Language != "de" {
		t.Errorf("SetLanguage() = %+v, %v", st, err)
	}

	res, err := c.Submit(ctx, "/tmp/x.m4a")
	if err != nil || res != domain.SubmitEnqueued {
		t.Errorf("Submit() = %s, %v", res, err)
	}

	found, err := c.Search(ctx, "budget")
	if err != nil || len(found) != 1 || found[0].Filename != "one.m4a" {
		t.Errorf("Search() = %+v, %v", found, err)
	}

	list, err := c.List(ctx, domain.SortByTranscribed, domain.Descending)
	if err != nil || len(list) != 1 {
		t.Errorf("List() = %+v, %v", list, err)
	}

	many, err := c.FetchMany(ctx, []string{"a", "b"})
	if err != nil || len(many) != 1 {
		t.Errorf("FetchMany() = %+v, %v", many, err)
	}

	status, err := c.Status(ctx)
	if err != nil || status.Summary.Transcripts != 1 {
		t.Errorf("Status() = %+v, %v", status, err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient("http://" + addr)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() succeeded against a closed port")
	}
}

func TestServer_ServeShutsDown(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	c := NewClient("http://" + ln.Addr().String())
	deadline := time.Now().Add(2 * time.Second)
	for c.Ping(context.Background()) != nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return")
	}
}
