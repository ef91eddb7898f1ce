package metrics

import (
	"testing"
	"time"
)

func TestRegisterComponent(t *testing.T) {
	healthChecker = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	RegisterComponent("test-component", true, "running")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["test-component"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}

	if comp.Message != "running" {
		t.Errorf("expected message 'running', got '%s'", comp.Message)
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	healthChecker = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	RegisterComponent("broker", true, "")
	RegisterComponent("staging_gc", true, "")

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}

	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	healthChecker = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	RegisterComponent("broker", true, "")
	RegisterComponent("staging_gc", false, "sweep stalled")

	health := GetHealth()

	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}

	if health.Components["staging_gc"] != "unhealthy: sweep stalled" {
		t.Errorf("unexpected staging_gc status: %s", health.Components["staging_gc"])
	}
}

func TestRegisterComponentOverwritesPriorState(t *testing.T) {
	healthChecker = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	RegisterComponent("timeout_monitor", true, "ok")
	RegisterComponent("timeout_monitor", false, "stuck")

	comp := healthChecker.components["timeout_monitor"]
	if comp.Healthy {
		t.Error("component should be unhealthy after the second call")
	}

	if comp.Message != "stuck" {
		t.Errorf("expected message 'stuck', got '%s'", comp.Message)
	}
}

func TestGetHealthUptimeGrows(t *testing.T) {
	healthChecker = &healthRegistry{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}

	first := GetHealth().Uptime
	time.Sleep(5 * time.Millisecond)
	second := GetHealth().Uptime

	if second <= first {
		t.Errorf("expected uptime to grow: first=%v second=%v", first, second)
	}
}
