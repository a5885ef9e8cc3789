package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"undocked"
	"undocked/internal/fake"
	"undocked/node/gossip"
	"undocked/node/stats"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type silentTransport struct{}

func (silentTransport) Exchange(context.Context, string, gossip.Report) (gossip.Report, error) {
	return gossip.Report{}, errors.New("no network")
}

func newTestNode(t *testing.T, rt *fake.Runtime, opts ...Option) (*Node, *fake.Clock) {
	t.Helper()
	clock := fake.NewClock(testStart)
	opts = append([]Option{WithClock(clock), WithTransport(silentTransport{})}, opts...)
	n := New(Config{NodeID: "node-a", OperationTimeout: time.Second}, rt, opts...)
	t.Cleanup(n.cancelBase)
	return n, clock
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestStartServiceTranslate(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx := context.Background()

	msg, err := n.StartService(ctx, "translate", "libretranslate/libretranslate:latest", "5000")
	if err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if want := `Service "translate" is now running on port 5000.`; msg != want {
		t.Fatalf("message = %q, want %q", msg, want)
	}

	svc, err := n.GetService("translate")
	if err != nil {
		t.Fatalf("GetService() error = %v", err)
	}
	if svc.Status != undocked.StatusRunning {
		t.Fatalf("status = %s, want running", svc.Status)
	}
	if !svc.StartedAt.Equal(testStart) {
		t.Fatalf("startedAt = %v, want %v", svc.StartedAt, testStart)
	}

	_, err = n.StartService(ctx, "translate", "libretranslate/libretranslate:latest", "5000")
	if !errors.Is(err, undocked.ErrAlreadyExists) {
		t.Fatalf("second start error = %v, want AlreadyExists", err)
	}
	_, err = n.StartService(ctx, "other", "nginx", "5000")
	if !errors.Is(err, undocked.ErrPortInUse) {
		t.Fatalf("same port error = %v, want PortInUse", err)
	}
	if got := len(n.ListServices()); got != 1 {
		t.Fatalf("services = %d, want 1", got)
	}
}

func TestStartServiceEngineUnavailable(t *testing.T) {
	rt := fake.NewRuntime()
	rt.SetAvailable(false)
	n, _ := newTestNode(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failures := n.SubscribeErrors(ctx)

	_, err := n.StartService(ctx, "translate", "libretranslate/libretranslate:latest", "5000")
	if !errors.Is(err, undocked.ErrEngineUnavailable) {
		t.Fatalf("StartService() error = %v, want EngineUnavailable", err)
	}
	if got := n.ListServices(); len(got) != 0 {
		t.Fatalf("services = %v, want none", got)
	}

	ev := receive(t, failures)
	if ev.ServiceID != "translate" || ev.Kind != "EngineUnavailable" {
		t.Fatalf("error event = %+v, want translate/EngineUnavailable", ev)
	}
}

func TestStartFromProfile(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)

	msg, err := n.StartFromProfile(context.Background(), "libretranslate", "lt", "5100")
	if err != nil {
		t.Fatalf("StartFromProfile() error = %v", err)
	}
	if want := `Service "lt" (LibreTranslate) is now running on port 5100.`; msg != want {
		t.Fatalf("message = %q, want %q", msg, want)
	}
	svc, err := n.GetService("lt")
	if err != nil {
		t.Fatalf("GetService() error = %v", err)
	}
	if svc.ContainerPort != 5000 || svc.DockerImage != "libretranslate/libretranslate:latest" {
		t.Fatalf("service = %+v, want profile image and container port 5000", svc)
	}
}

func TestStartFromUnknownProfile(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)

	_, err := n.StartFromProfile(context.Background(), "nope", "x", "5100")
	if !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("StartFromProfile() error = %v, want NotFound", err)
	}
	if got := rt.Count("Start"); got != 0 {
		t.Fatalf("runtime Start calls = %d, want 0", got)
	}
}

func TestExitedContainerMarksServiceFailed(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failures := n.SubscribeErrors(ctx)

	if _, err := n.StartService(ctx, "web", "nginx", "8080"); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	rt.Exit("web", 137)

	ev := receive(t, failures)
	if ev.ServiceID != "web" || ev.Kind != "ContainerExited" {
		t.Fatalf("error event = %+v, want web/ContainerExited", ev)
	}
	svc, err := n.GetService("web")
	if err != nil {
		t.Fatalf("GetService() error = %v", err)
	}
	if svc.Status != undocked.StatusError || svc.Error == "" {
		t.Fatalf("service = %+v, want error status with reason", svc)
	}

	// The failed record keeps its port until acknowledged.
	if _, err := n.StartService(ctx, "web2", "nginx", "8080"); !errors.Is(err, undocked.ErrPortInUse) {
		t.Fatalf("start on held port error = %v, want PortInUse", err)
	}
	if _, err := n.StopService(ctx, "web"); err != nil {
		t.Fatalf("StopService() error = %v", err)
	}
	if _, err := n.StartService(ctx, "web", "nginx", "8080"); err != nil {
		t.Fatalf("restart after acknowledge error = %v", err)
	}
}

func TestStopService(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx := context.Background()

	if _, err := n.StopService(ctx, "ghost"); !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("StopService(ghost) error = %v, want NotFound", err)
	}
	if _, err := n.StartService(ctx, "web", "nginx", "8080"); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	msg, err := n.StopService(ctx, "web")
	if err != nil {
		t.Fatalf("StopService() error = %v", err)
	}
	if want := `Service "web" stopped.`; msg != want {
		t.Fatalf("message = %q, want %q", msg, want)
	}
	if rt.Running("web") {
		t.Fatal("container still running")
	}
	if _, ok := n.stats.Get("web"); ok {
		t.Fatal("stats entry survived stop")
	}
}

func TestLateRunningNotificationAfterStop(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx := context.Background()

	if _, err := n.StartService(ctx, "web", "nginx", "8080"); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	running, err := n.GetService("web")
	if err != nil {
		t.Fatalf("GetService() error = %v", err)
	}
	n.stats.Record("web", stats.Event{Bytes: 100})
	if _, err := n.StopService(ctx, "web"); err != nil {
		t.Fatalf("StopService() error = %v", err)
	}

	// A concurrent Stop can complete before Start delivers its running
	// notification.
	n.ServiceChanged(running)

	if _, ok := n.stats.Get("web"); ok {
		t.Fatal("stats entry recreated for a removed service")
	}
	n.mu.Lock()
	_, ok := n.lifetimes["web"]
	n.mu.Unlock()
	if ok {
		t.Fatal("lifetime recreated for a removed service")
	}
	if got := n.Snapshot().Stats; len(got) != 0 {
		t.Fatalf("snapshot stats = %v, want none", got)
	}

	if _, err := n.StartService(ctx, "web", "nginx", "8080"); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	st, ok := n.stats.Get("web")
	if !ok || st.Requests != 0 || st.Bandwidth != 0 {
		t.Fatalf("restarted stats = %+v (tracked %v), want fresh counters", st, ok)
	}
}

func TestRunningNotificationForUnknownService(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)

	n.ServiceChanged(undocked.Service{ServiceID: "web", HostPort: "8080", Status: undocked.StatusRunning})
	if _, ok := n.stats.Get("web"); ok {
		t.Fatal("stats tracked for an id the registry does not hold")
	}
}

func TestStreamLogsEndsWhenServiceStops(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx := context.Background()

	if _, err := n.StreamLogs(ctx, "web"); !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("StreamLogs(unknown) error = %v, want NotFound", err)
	}
	if _, err := n.StartService(ctx, "web", "nginx", "8080"); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	rt.AddLogs("web", "listening", "ready")

	lines, err := n.StreamLogs(ctx, "web")
	if err != nil {
		t.Fatalf("StreamLogs() error = %v", err)
	}
	if got := receive(t, lines); got != "listening" {
		t.Fatalf("line = %q, want listening", got)
	}
	if got := receive(t, lines); got != "ready" {
		t.Fatalf("line = %q, want ready", got)
	}

	if _, err := n.StopService(ctx, "web"); err != nil {
		t.Fatalf("StopService() error = %v", err)
	}
	select {
	case _, ok := <-lines:
		if ok {
			t.Fatal("unexpected line after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("log stream not closed after stop")
	}
}

func TestListServicesMirrorsStats(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)

	if _, err := n.StartService(context.Background(), "web", "nginx", "8080"); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	n.stats.Record("web", stats.Event{Bytes: 100})
	n.stats.Record("web", stats.Event{Bytes: 50, IsError: true})

	got := n.ListServices()
	if len(got) != 1 {
		t.Fatalf("services = %d, want 1", len(got))
	}
	if got[0].Requests != 2 || got[0].Errors != 1 || got[0].Bandwidth != 150 {
		t.Fatalf("mirrors = %d/%d/%d, want 2/1/150", got[0].Requests, got[0].Errors, got[0].Bandwidth)
	}
	snap := n.Snapshot()
	if snap.NodeID != "node-a" || snap.Stats["web"].Requests != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCheckEngineAlwaysPublishes(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := n.SubscribeEngineStatus(ctx)

	n.CheckEngine(ctx)
	if st := receive(t, statuses); !st.Available {
		t.Fatal("first status unavailable, want available")
	}
	rt.SetAvailable(false)
	n.CheckEngine(ctx)
	if st := receive(t, statuses); st.Available {
		t.Fatal("second status available, want unavailable")
	}
}

func TestProbeEnginePublishesOnlyChanges(t *testing.T) {
	rt := fake.NewRuntime()
	n, _ := newTestNode(t, rt)
	ctx := context.Background()

	n.probeEngine(ctx)
	n.probeEngine(ctx)
	rt.SetAvailable(false)
	n.probeEngine(ctx)

	st, ok := n.engineTopic.Latest()
	if !ok || st.Available {
		t.Fatalf("latest = %+v, %v; want unavailable", st, ok)
	}
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := n.SubscribeEngineStatus(sub)
	receive(t, ch)
	n.probeEngine(ctx)
	select {
	case v := <-ch:
		t.Fatalf("unexpected publish %+v without change", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartEngine(t *testing.T) {
	rt := fake.NewRuntime()
	rt.SetAvailable(false)
	var launched int
	n, _ := newTestNode(t, rt, WithEngineStarter(func(context.Context) error {
		launched++
		rt.SetAvailable(true)
		return nil
	}))

	st, err := n.StartEngine(context.Background())
	if err != nil {
		t.Fatalf("StartEngine() error = %v", err)
	}
	if !st.Available || launched != 1 {
		t.Fatalf("status = %+v launched = %d, want available after one launch", st, launched)
	}

	// Already running: no second launch.
	if _, err := n.StartEngine(context.Background()); err != nil {
		t.Fatalf("StartEngine() error = %v", err)
	}
	if launched != 1 {
		t.Fatalf("launched = %d, want 1", launched)
	}
}

func TestStartEngineLaunchFailure(t *testing.T) {
	rt := fake.NewRuntime()
	rt.SetAvailable(false)
	n, _ := newTestNode(t, rt, WithEngineStarter(func(context.Context) error {
		return errors.New("no such app")
	}))

	_, err := n.StartEngine(context.Background())
	if !errors.Is(err, undocked.ErrEngineUnavailable) {
		t.Fatalf("StartEngine() error = %v, want EngineUnavailable", err)
	}
}

func TestRunAdoptsRunningContainers(t *testing.T) {
	rt := fake.NewRuntime()
	rt.Seed(undocked.ContainerSpec{ServiceID: "left-over", Image: "nginx", HostPort: "9000"})
	n, _ := newTestNode(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case <-n.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("node did not start")
	}
	svc, err := n.GetService("left-over")
	if err != nil {
		t.Fatalf("GetService() error = %v", err)
	}
	if svc.Status != undocked.StatusRunning {
		t.Fatalf("status = %s, want running", svc.Status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !rt.Running("left-over") {
		t.Fatal("shutdown stopped a container, want it left running")
	}
}
