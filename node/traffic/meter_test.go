package traffic

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"undocked"
	"undocked/node/stats"
)

type serviceMap map[string]undocked.Service

func (m serviceMap) Get(id string) (undocked.Service, bool) {
	s, ok := m[id]
	return s, ok
}

type profileMap map[string]undocked.ServiceProfile

func (m profileMap) Get(name string) (undocked.ServiceProfile, bool) {
	p, ok := m[name]
	return p, ok
}

func upstream(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	_, port, _ := net.SplitHostPort(u.Host)
	return port
}

func TestMeterForwardsAndCounts(t *testing.T) {
	var gotPath string
	port := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("translated"))
	})

	agg := stats.New(nil)
	agg.Track("translate")
	m := New(serviceMap{"translate": {ServiceID: "translate", HostPort: port, Status: undocked.StatusRunning}}, nil, agg)

	req := httptest.NewRequest(http.MethodPost, "/v1/proxy/translate/translate", strings.NewReader(`{"q":"hello"}`))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "translated" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if gotPath != "/translate" {
		t.Fatalf("upstream path = %q, want /translate", gotPath)
	}
	st, _ := agg.Get("translate")
	if st.Requests != 1 || st.Errors != 0 {
		t.Fatalf("stats = %+v, want 1 request 0 errors", st)
	}
	if want := int64(len(`{"q":"hello"}`) + len("translated")); st.Bandwidth != want {
		t.Fatalf("bandwidth = %d, want %d", st.Bandwidth, want)
	}
	if st.ActiveConns != 0 {
		t.Fatalf("active conns = %d after request, want 0", st.ActiveConns)
	}
}

func TestMeterCountsServerErrors(t *testing.T) {
	port := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	agg := stats.New(nil)
	agg.Track("svc")
	m := New(serviceMap{"svc": {ServiceID: "svc", HostPort: port, Status: undocked.StatusRunning}}, nil, agg)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/svc/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if st, _ := agg.Get("svc"); st.Requests != 1 || st.Errors != 1 {
		t.Fatalf("stats = %+v, want 1 request 1 error", st)
	}
}

func TestMeterUpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	agg := stats.New(nil)
	agg.Track("svc")
	m := New(serviceMap{"svc": {ServiceID: "svc", HostPort: port, Status: undocked.StatusRunning}}, nil, agg)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/svc/health", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if st, _ := agg.Get("svc"); st.Errors != 1 {
		t.Fatalf("errors = %d, want 1", st.Errors)
	}
}

func TestMeterUnknownOrNotRunning(t *testing.T) {
	agg := stats.New(nil)
	m := New(serviceMap{"starting": {ServiceID: "starting", Status: undocked.StatusStarting}}, nil, agg)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/ghost/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown service status = %d, want 404", rec.Code)
	}
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/starting/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("starting service status = %d, want 503", rec.Code)
	}
}

func TestMeterRateLimit(t *testing.T) {
	port := upstream(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	agg := stats.New(nil)
	agg.Track("lt")
	m := New(
		serviceMap{"lt": {ServiceID: "lt", HostPort: port, Profile: "LibreTranslate", Status: undocked.StatusRunning}},
		profileMap{"LibreTranslate": {Name: "LibreTranslate", ExposeHTTP: true, RateLimitPerMin: 2}},
		agg,
	)

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/lt/", nil))
		codes[i] = rec.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [200 200 429]", codes)
	}
	if st, _ := agg.Get("lt"); st.Requests != 3 || st.Errors != 1 {
		t.Fatalf("stats = %+v, want 3 requests 1 error", st)
	}
}

func TestMeterRefusesUnexposedProfile(t *testing.T) {
	called := false
	port := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("admin api"))
	})
	agg := stats.New(nil)
	agg.Track("ipfs")
	agg.Track("orphan")
	m := New(
		serviceMap{
			"ipfs":   {ServiceID: "ipfs", HostPort: port, Profile: "IPFS", Status: undocked.StatusRunning},
			"orphan": {ServiceID: "orphan", HostPort: port, Profile: "Removed", Status: undocked.StatusRunning},
		},
		profileMap{"IPFS": {Name: "IPFS", ExposeHTTP: false}},
		agg,
	)

	for _, id := range []string{"ipfs", "orphan"} {
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/proxy/"+id+"/api/v0/shutdown", nil))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s status = %d, want 403", id, rec.Code)
		}
	}
	if called {
		t.Fatal("request reached an unexposed service")
	}
	if st, _ := agg.Get("ipfs"); st.Requests != 0 || st.ActiveConns != 0 {
		t.Fatalf("stats = %+v, want untouched", st)
	}
}

func TestMeterBan(t *testing.T) {
	port := upstream(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	agg := stats.New(nil)
	agg.Track("web")
	m := New(serviceMap{"web": {ServiceID: "web", HostPort: port, Status: undocked.StatusRunning}}, nil, agg)

	if err := m.Ban(" "); err == nil {
		t.Fatal("Ban(empty) error = nil, want InvalidArgument")
	}
	// httptest requests come from 192.0.2.1:1234; the port is ignored.
	if err := m.Ban("192.0.2.1:9999"); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}
	if got := m.BannedAddrs(); len(got) != 1 || got[0] != "192.0.2.1" {
		t.Fatalf("banned = %v, want [192.0.2.1]", got)
	}

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proxy/web/", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("banned status = %d, want 403", rec.Code)
	}
	st, _ := agg.Get("web")
	if st.Requests != 1 || st.Errors != 1 || st.ActiveConns != 0 {
		t.Fatalf("stats = %+v, want 1 request 1 error", st)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/proxy/web/", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}
