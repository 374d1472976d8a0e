package diagnostics

import (
	"testing"

	"github.com/netreach/netreach/internal/bitmap"
	"github.com/netreach/netreach/internal/flags"
	"github.com/netreach/netreach/internal/model"
)

func sel(kv map[string]string) *model.Selector { return &model.Selector{MatchLabels: kv} }

func buildThreeTier(t *testing.T) (*model.Model, *bitmap.Matrix) {
	t.Helper()
	workloads := []model.Workload{
		{Name: "A", Namespace: "default", Labels: map[string]string{"app": "Alice", "role": "Nginx"}},
		{Name: "B", Namespace: "default", Labels: map[string]string{"app": "Alice", "role": "DB"}},
		{Name: "C", Namespace: "default", Labels: map[string]string{"app": "Alice", "role": "Tomcat"}},
		{Name: "D", Namespace: "default", Labels: map[string]string{"app": "Bob", "role": "Nginx"}},
		{Name: "E", Namespace: "default", Labels: map[string]string{"app": "User", "role": "User"}},
	}
	namespaces := []model.Namespace{{Name: "default"}}
	policies := []model.Policy{
		{Name: "PA", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "DB"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "Nginx"}))}}}},
		{Name: "PB", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "Tomcat"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "User"}))}}}},
		{Name: "PC", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "Nginx"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "Tomcat"}))}}}},
		{Name: "PD", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "Nginx"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"app": "Alice"}))}}}},
	}
	m, err := model.Build(workloads, namespaces, policies)
	if err != nil {
		t.Fatalf("model.Build: %v", err)
	}
	M := bitmap.Build(m, flags.Flags{CheckSelfIngressTraffic: true, CheckSelectByNoPolicy: false})
	return m, M
}

func TestS1Diagnostics(t *testing.T) {
	m, M := buildThreeTier(t)

	if got := AllReachable(M); len(got) != 0 {
		t.Errorf("all-reachable = %v, want empty", got)
	}
	// With the self flag on, M[4][4] is forced to 1, so all-isolated is
	// checked against a self-flag-off build of the same model.
	Mrestrictive := bitmap.Build(m, flags.Flags{CheckSelectByNoPolicy: false})
	if got := AllIsolated(Mrestrictive); !equalInts(got, []int{4}) {
		t.Errorf("all-isolated = %v, want [4]", got)
	}
	if got := CrossTenant(M, m.Workloads, "app"); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("cross-tenant(app) = %v, want [1 2 3]", got)
	}
}

func TestS5Shadow(t *testing.T) {
	workloads := []model.Workload{
		{Name: "w1", Namespace: "default", Labels: map[string]string{"role": "db", "env": "prod"}},
		{Name: "w2", Namespace: "default", Labels: map[string]string{"role": "web"}},
		{Name: "w3", Namespace: "default", Labels: map[string]string{"role": "db", "env": "staging"}},
	}
	namespaces := []model.Namespace{{Name: "default"}}
	policies := []model.Policy{
		{Name: "PA", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "db"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "web"}))}}}},
		{Name: "PB", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "db", "env": "prod"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "web"}))}}}},
	}
	m, err := model.Build(workloads, namespaces, policies)
	if err != nil {
		t.Fatalf("model.Build: %v", err)
	}

	got := PolicyShadow(m)
	want := Pair{A: 1, B: 0} // PA shadows (covers) PB
	found := false
	for _, p := range got {
		if p == want {
			found = true
		}
		if p == (Pair{A: 0, B: 1}) {
			t.Errorf("did not expect PB to shadow PA: PB selects a strict subset of PA's workloads")
		}
	}
	if !found {
		t.Errorf("expected %v in shadow set, got %v", want, got)
	}
}

func TestS6Conflict(t *testing.T) {
	workloads := []model.Workload{
		{Name: "front1", Namespace: "default", Labels: map[string]string{"tier": "front"}},
		{Name: "back1", Namespace: "default", Labels: map[string]string{"tier": "back"}},
		{Name: "a1", Namespace: "default", Labels: map[string]string{"app": "a"}},
		{Name: "b1", Namespace: "default", Labels: map[string]string{"app": "b"}},
	}
	namespaces := []model.Namespace{{Name: "default"}}
	policies := []model.Policy{
		{Name: "PA", HomeNamespace: "default", PodSelector: sel(map[string]string{"tier": "front"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"app": "a"}))}}}},
		{Name: "PB", HomeNamespace: "default", PodSelector: sel(map[string]string{"tier": "back"}),
			Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"app": "b"}))}}}},
	}
	m, err := model.Build(workloads, namespaces, policies)
	if err != nil {
		t.Fatalf("model.Build: %v", err)
	}

	got := PolicyConflict(m)
	if !containsPair(got, Pair{0, 1}) || !containsPair(got, Pair{1, 0}) {
		t.Errorf("expected conflict to contain both (PA,PB) and (PB,PA), got %v", got)
	}
}

func containsPair(pairs []Pair, want Pair) bool {
	for _, p := range pairs {
		if p == want {
			return true
		}
	}
	return false
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
