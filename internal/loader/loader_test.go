package loader

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
kind: Pod
metadata:
  name: web-1
  namespace: default
  labels:
    role: web
---
kind: Pod
metadata:
  name: db-1
  namespace: default
  labels:
    role: db
---
kind: NetworkPolicy
metadata:
  name: allow-web-to-db
  namespace: default
spec:
  podSelector:
    matchLabels:
      role: db
  policyTypes:
    - Ingress
  ingress:
    - from:
        - podSelector:
            matchLabels:
              role: web
`

func TestLoadDirParsesPodsAndPolicy(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.yaml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	if len(m.Workloads) != 2 {
		t.Fatalf("expected 2 workloads, got %d", len(m.Workloads))
	}
	if len(m.Policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(m.Policies))
	}
	if len(m.Namespaces) != 1 || m.Namespaces[0].Name != "default" {
		t.Fatalf("expected synthesized 'default' namespace, got %v", m.Namespaces)
	}

	p := m.Policies[0]
	if p.PodSelector == nil || p.PodSelector.MatchLabels["role"] != "db" {
		t.Fatalf("expected policy pod selector role=db, got %+v", p.PodSelector)
	}
	if len(p.Ingress) != 1 || len(p.Ingress[0].Peers) != 1 {
		t.Fatalf("expected 1 ingress rule with 1 peer, got %+v", p.Ingress)
	}
}

func TestLoadDirEmptyDirectoryIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir on empty dir: %v", err)
	}
	if len(m.Workloads) != 0 || len(m.Policies) != 0 {
		t.Fatalf("expected empty model, got %+v", m)
	}
}
