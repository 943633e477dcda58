package client

import "testing"

func TestNewClientDefaults(t *testing.T) {
	c := New("http://localhost:8080/")
	if c.httpClient == nil {
		t.Fatal("http client should be initialized")
	}
	if c.httpClient.Timeout != 0 {
		t.Fatalf("default http client timeout = %v, want 0", c.httpClient.Timeout)
	}
	if c.serverURL != "http://localhost:8080" {
		t.Fatalf("server url = %q, want trailing slash trimmed", c.serverURL)
	}
	if c.targetFPS != 60 {
		t.Fatalf("target fps = %d, want 60", c.targetFPS)
	}
}

func TestErrorMessage(t *testing.T) {
	if got := errorMessage([]byte(`{"error":"collector not found"}`)); got != "collector not found" {
		t.Fatalf("json error = %q", got)
	}
	if got := errorMessage([]byte("  upstream down \n")); got != "upstream down" {
		t.Fatalf("plain error = %q", got)
	}
}
