package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"undocked"
	"undocked/api"
	"undocked/pkg/sdk/client"
)

type stubAPI struct {
	client.API

	services []undocked.Service
	catalog  []undocked.ServiceProfile
	started  []client.StartRequest
	stopped  []string
	closed   bool
}

func (s *stubAPI) ListServices(context.Context) ([]undocked.Service, error) {
	return s.services, nil
}

func (s *stubAPI) ListCatalog(context.Context) ([]undocked.ServiceProfile, error) {
	return s.catalog, nil
}

func (s *stubAPI) ListRecommendedServices(context.Context) ([]undocked.ServiceProfile, error) {
	var out []undocked.ServiceProfile
	for _, p := range s.catalog {
		if p.Recommended {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubAPI) StartService(_ context.Context, req client.StartRequest) (client.StartResult, error) {
	s.started = append(s.started, req)
	return client.StartResult{Message: `Service "` + req.ServiceID + `" is now running on port ` + req.HostPort + "."}, nil
}

func (s *stubAPI) StopService(_ context.Context, id string) error {
	s.stopped = append(s.stopped, id)
	return nil
}

func (s *stubAPI) Close() error {
	s.closed = true
	return nil
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	lipgloss.SetColorProfile(termenv.Ascii)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func dialStub(s *stubAPI) dialFunc {
	return func() (daemonAPI, error) { return s, nil }
}

func TestServicesList(t *testing.T) {
	stub := &stubAPI{services: []undocked.Service{{
		ServiceID:   "translate",
		DockerImage: "libretranslate/libretranslate:latest",
		HostPort:    "5000",
		Status:      undocked.StatusRunning,
		Requests:    12,
		Bandwidth:   2048,
	}}}

	out, err := run(t, servicesCmd(dialStub(stub)), "ls")
	if err != nil {
		t.Fatalf("services ls error = %v", err)
	}
	for _, want := range []string{"translate", "5000", "running", "12", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if !stub.closed {
		t.Fatal("connection not closed")
	}
}

func TestServicesListEmpty(t *testing.T) {
	out, err := run(t, servicesCmd(dialStub(&stubAPI{})), "ls")
	if err != nil {
		t.Fatalf("services ls error = %v", err)
	}
	if !strings.Contains(out, "no services running") {
		t.Fatalf("output = %q", out)
	}
}

func TestServicesStart(t *testing.T) {
	stub := &stubAPI{}
	out, err := run(t, servicesCmd(dialStub(stub)), "start", "translate", "--profile", "LibreTranslate", "-p", "5000")
	if err != nil {
		t.Fatalf("services start error = %v", err)
	}
	if len(stub.started) != 1 {
		t.Fatalf("start calls = %d, want 1", len(stub.started))
	}
	want := client.StartRequest{ServiceID: "translate", HostPort: "5000", Profile: "LibreTranslate"}
	if stub.started[0] != want {
		t.Fatalf("request = %+v, want %+v", stub.started[0], want)
	}
	if !strings.Contains(out, `Service "translate" is now running on port 5000.`) {
		t.Fatalf("output = %q", out)
	}
}

func TestServicesStartNeedsImageOrProfile(t *testing.T) {
	stub := &stubAPI{}
	for _, args := range [][]string{
		{"start", "web", "-p", "80"},
		{"start", "web", "-p", "80", "--image", "nginx", "--profile", "MinIO"},
	} {
		if _, err := run(t, servicesCmd(dialStub(stub)), args...); err == nil {
			t.Fatalf("args %v: error = nil, want error", args)
		}
	}
	if len(stub.started) != 0 {
		t.Fatalf("start calls = %d, want 0", len(stub.started))
	}
}

func TestServicesStop(t *testing.T) {
	stub := &stubAPI{}
	out, err := run(t, servicesCmd(dialStub(stub)), "stop", "web")
	if err != nil {
		t.Fatalf("services stop error = %v", err)
	}
	if len(stub.stopped) != 1 || stub.stopped[0] != "web" {
		t.Fatalf("stopped = %v, want [web]", stub.stopped)
	}
	if !strings.Contains(out, `Service "web" stopped.`) {
		t.Fatalf("output = %q", out)
	}
}

func TestCatalogRecommended(t *testing.T) {
	stub := &stubAPI{catalog: []undocked.ServiceProfile{
		{Name: "LibreTranslate", Image: "libretranslate/libretranslate", ContainerPort: 5000, Recommended: true},
		{Name: "IPFS", Image: "ipfs/kubo", ContainerPort: 8080},
	}}

	out, err := run(t, catalogCmd(dialStub(stub)), "--recommended")
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}
	if !strings.Contains(out, "LibreTranslate") || strings.Contains(out, "IPFS") {
		t.Fatalf("output:\n%s", out)
	}

	out, err = run(t, catalogCmd(dialStub(stub)))
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}
	if !strings.Contains(out, "IPFS") {
		t.Fatalf("full catalog missing IPFS:\n%s", out)
	}
}

func TestFormatEvent(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	ev := api.Event{Type: undocked.EventServiceError, Error: &undocked.ServiceError{
		ServiceID: "web", Kind: "ContainerExited", Reason: "container exited with code 1", At: time.Now(),
	}}
	if got := formatEvent(ev); !strings.Contains(got, "web ContainerExited: container exited with code 1") {
		t.Fatalf("formatEvent() = %q", got)
	}
}
