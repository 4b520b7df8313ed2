package grok

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProjectNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/projects" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`["alpha", "beta"]`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	names, err := client.ProjectNames(context.Background())
	if err != nil {
		t.Fatalf("ProjectNames: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestProjectNames_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	if _, err := client.ProjectNames(context.Background()); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestAddProject(t *testing.T) {
	var gotMethod, gotPath, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	if err := client.AddProject(context.Background(), "myproj"); err != nil {
		t.Fatalf("AddProject: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/api/v1/projects" {
		t.Errorf("path = %s", gotPath)
	}
	if gotContentType != "text/plain" {
		t.Errorf("content type = %s, want text/plain", gotContentType)
	}
	if gotBody != "myproj" {
		t.Errorf("body = %q, want myproj", gotBody)
	}
}

func TestDeleteProject(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	if err := client.DeleteProject(context.Background(), "has space"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
	if gotPath != "/api/v1/projects/has%20space" {
		t.Errorf("path = %s, want escaped project name", gotPath)
	}
}

func TestConfiguration(t *testing.T) {
	want := []byte(`<configuration/>`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/configuration" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write(want)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	got, err := client.Configuration(context.Background())
	if err != nil {
		t.Fatalf("Configuration: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("configuration = %q, want %q", got, want)
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	if _, err := client.ProjectNames(context.Background()); err == nil {
		t.Error("ProjectNames should fail on 500")
	}
	if err := client.AddProject(context.Background(), "p"); err == nil {
		t.Error("AddProject should fail on 500")
	}
	if err := client.DeleteProject(context.Background(), "p"); err == nil {
		t.Error("DeleteProject should fail on 500")
	}
	if _, err := client.Configuration(context.Background()); err == nil {
		t.Error("Configuration should fail on 500")
	}
}
