package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const composeDoc = `
services:
  translate:
    image: libretranslate/libretranslate:latest
    ports:
      - "5000:5000"
    environment:
      LT_LOAD_ONLY: en,es
    labels:
      undocked.recommended: "true"
      undocked.expose-http: "true"
      undocked.rate-limit-per-min: "120"
  cache:
    image: redis:7
    command: ["redis-server", "--appendonly", "yes"]
    ports:
      - "6379"
`

func TestParseCompose(t *testing.T) {
	c, err := ParseCompose(context.Background(), []byte(composeDoc))
	if err != nil {
		t.Fatalf("ParseCompose() error = %v", err)
	}

	list := c.List()
	if len(list) != 2 || list[0].Name != "cache" || list[1].Name != "translate" {
		t.Fatalf("profiles = %+v, want cache and translate", list)
	}

	tr, ok := c.Get("Translate")
	if !ok {
		t.Fatal("translate profile missing")
	}
	if tr.ContainerPort != 5000 || !tr.Recommended || !tr.ExposeHTTP || tr.RateLimitPerMin != 120 {
		t.Fatalf("translate = %+v", tr)
	}
	if tr.Env["LT_LOAD_ONLY"] != "en,es" {
		t.Fatalf("env = %v", tr.Env)
	}

	cache, _ := c.Get("cache")
	if cache.ContainerPort != 6379 || len(cache.Command) != 3 || cache.Recommended {
		t.Fatalf("cache = %+v", cache)
	}
}

func TestParseComposeRequiresPort(t *testing.T) {
	_, err := ParseCompose(context.Background(), []byte("services:\n  web:\n    image: nginx\n"))
	if err == nil {
		t.Fatal("ParseCompose() error = nil, want missing port error")
	}
}

func TestLoadDetectsComposeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	if err := os.WriteFile(path, []byte(composeDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := c.Get("translate"); !ok {
		t.Fatal("translate profile missing")
	}
}
