package routing

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRoutes(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.json")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write routes file: %v", err)
	}
	return path
}

func TestResolverResolveCluster(t *testing.T) {
	path := writeRoutes(t, `{
  "default_cluster": "cluster-a",
  "default_topic": "device.telemetry",
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]},
    "cluster-b": {"brokers": ["localhost:9093"]}
  },
  "routes": [
    {"region": "eu-central", "cluster": "cluster-b"}
  ]
}`)
	resolver, err := Load(path)
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}
	if got, ok := resolver.ResolveCluster("eu-central"); !ok || got != "cluster-b" {
		t.Fatalf("expected cluster-b, got %q (ok=%v)", got, ok)
	}
	if got, ok := resolver.ResolveCluster("EU-Central"); !ok || got != "cluster-b" {
		t.Fatalf("region match should be case insensitive, got %q (ok=%v)", got, ok)
	}
	if got, ok := resolver.ResolveCluster("us-east"); !ok || got != "cluster-a" {
		t.Fatalf("expected default cluster-a, got %q (ok=%v)", got, ok)
	}
}

func TestResolverResolveTopic(t *testing.T) {
	path := writeRoutes(t, `{
  "default_cluster": "cluster-a",
  "default_topic": "device.telemetry",
  "topic_map": {"heartbeat": "device.heartbeat"},
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]}
  }
}`)
	resolver, err := Load(path)
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}
	if got := resolver.ResolveTopic("heartbeat", ""); got != "device.heartbeat" {
		t.Fatalf("mapped topic = %q, want device.heartbeat", got)
	}
	if got := resolver.ResolveTopic("battery", ""); got != "device.telemetry" {
		t.Fatalf("default topic = %q, want device.telemetry", got)
	}
	if got := resolver.ResolveTopic("battery", "override.topic"); got != "override.topic" {
		t.Fatalf("requested topic = %q, want override.topic", got)
	}
}

func TestLoadRejectsUnknownCluster(t *testing.T) {
	path := writeRoutes(t, `{
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]}
  },
  "routes": [
    {"region": "eu-central", "cluster": "missing"}
  ]
}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for route referencing unknown cluster")
	}
}

func TestLoadRejectsDuplicateRegion(t *testing.T) {
	path := writeRoutes(t, `{
  "clusters": {
    "cluster-a": {"brokers": ["localhost:9092"]}
  },
  "routes": [
    {"region": "eu-central", "cluster": "cluster-a"},
    {"region": "EU-CENTRAL", "cluster": "cluster-a"}
  ]
}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate region route")
	}
}
