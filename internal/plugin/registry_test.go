package plugin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	pkgplugin "github.com/HerbHall/hostscout/pkg/plugin"
)

// testPlugin is a minimal module for testing.
type testPlugin struct {
	name     string
	initErr  error
	startErr error
	log      *[]string
	config   *viper.Viper
}

func newTestPlugin(name string, log *[]string) *testPlugin {
	return &testPlugin{name: name, log: log}
}

func (p *testPlugin) Name() string    { return p.name }
func (p *testPlugin) Version() string { return "1.0.0" }
func (p *testPlugin) Init(c *viper.Viper, _ *zap.Logger) error {
	p.config = c
	*p.log = append(*p.log, "init:"+p.name)
	return p.initErr
}
func (p *testPlugin) Start(_ context.Context) error {
	*p.log = append(*p.log, "start:"+p.name)
	return p.startErr
}
func (p *testPlugin) Stop() error {
	*p.log = append(*p.log, "stop:"+p.name)
	return nil
}

// testHTTPPlugin implements both Plugin and HTTPProvider.
type testHTTPPlugin struct {
	testPlugin
	routes []Route
}

func (p *testHTTPPlugin) Routes() []Route { return p.routes }

func (p *testHTTPPlugin) Health(_ context.Context) pkgplugin.HealthStatus {
	return pkgplugin.HealthStatus{Status: pkgplugin.StatusHealthy}
}

func TestRegister(t *testing.T) {
	var log []string
	reg := NewRegistry(zap.NewNop())

	p := newTestPlugin("alpha", &log)
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(p); err == nil {
		t.Fatal("Register() expected error for duplicate, got nil")
	}
	if err := reg.Register(newTestPlugin("", &log)); err == nil {
		t.Fatal("Register() expected error for empty name, got nil")
	}
}

func TestLifecycleOrder(t *testing.T) {
	var log []string
	reg := NewRegistry(zap.NewNop())
	_ = reg.Register(newTestPlugin("a", &log))
	_ = reg.Register(newTestPlugin("b", &log))

	v := viper.New()
	v.Set("modules.b.interval", "5s")
	if err := reg.InitAll(v); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	reg.StopAll()

	want := []string{"init:a", "init:b", "start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}

	b, _ := reg.Get("b")
	if got := b.(*testPlugin).config.GetString("interval"); got != "5s" {
		t.Errorf("module config interval = %q, want 5s", got)
	}
}

func TestDisabledPluginSkipped(t *testing.T) {
	var log []string
	reg := NewRegistry(zap.NewNop())
	_ = reg.Register(newTestPlugin("a", &log))

	v := viper.New()
	v.Set("modules.a.enabled", false)
	if err := reg.InitAll(v); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	reg.StopAll()

	if len(log) != 0 {
		t.Errorf("disabled plugin saw lifecycle calls: %v", log)
	}
}

func TestInitErrorPropagates(t *testing.T) {
	var log []string
	reg := NewRegistry(zap.NewNop())
	p := newTestPlugin("bad", &log)
	p.initErr = errors.New("boom")
	_ = reg.Register(p)

	if err := reg.InitAll(viper.New()); err == nil {
		t.Fatal("InitAll() expected error, got nil")
	}
}

func TestStartFailureStopsStarted(t *testing.T) {
	var log []string
	reg := NewRegistry(zap.NewNop())
	_ = reg.Register(newTestPlugin("a", &log))
	bad := newTestPlugin("b", &log)
	bad.startErr = errors.New("no")
	_ = reg.Register(bad)

	if err := reg.InitAll(viper.New()); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if err := reg.StartAll(context.Background()); err == nil {
		t.Fatal("StartAll() expected error, got nil")
	}
	if last := log[len(log)-1]; last != "stop:a" {
		t.Errorf("last lifecycle call = %q, want stop:a", last)
	}
}

func TestAllRoutesAndHealth(t *testing.T) {
	var log []string
	reg := NewRegistry(zap.NewNop())
	hp := &testHTTPPlugin{
		testPlugin: testPlugin{name: "query", log: &log},
		routes: []Route{
			{Method: "GET", Path: "/kinds", Handler: func(http.ResponseWriter, *http.Request) {}},
		},
	}
	_ = reg.Register(hp)
	_ = reg.Register(newTestPlugin("plain", &log))
	if err := reg.InitAll(viper.New()); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}

	routes := reg.AllRoutes()
	if len(routes) != 1 || len(routes["query"]) != 1 {
		t.Fatalf("AllRoutes() = %v, want one route under query", routes)
	}

	health := reg.Health(context.Background())
	if health["query"].Status != pkgplugin.StatusHealthy {
		t.Errorf("Health()[query] = %+v, want healthy", health["query"])
	}
	if _, ok := health["plain"]; ok {
		t.Error("Health() reported a module without HealthChecker")
	}
}
