package bitmap

import (
	"testing"

	"github.com/netreach/netreach/internal/flags"
	"github.com/netreach/netreach/internal/model"
)

func mustBuild(t *testing.T, workloads []model.Workload, namespaces []model.Namespace, policies []model.Policy) *model.Model {
	t.Helper()
	m, err := model.Build(workloads, namespaces, policies)
	if err != nil {
		t.Fatalf("model.Build: %v", err)
	}
	return m
}

func sel(kv map[string]string) *model.Selector {
	return &model.Selector{MatchLabels: kv}
}

// S1: three-tier paper example, §8.
func TestS1ThreeTier(t *testing.T) {
	workloads := []model.Workload{
		{Name: "A", Namespace: "default", Labels: map[string]string{"app": "Alice", "role": "Nginx"}},
		{Name: "B", Namespace: "default", Labels: map[string]string{"app": "Alice", "role": "DB"}},
		{Name: "C", Namespace: "default", Labels: map[string]string{"app": "Alice", "role": "Tomcat"}},
		{Name: "D", Namespace: "default", Labels: map[string]string{"app": "Bob", "role": "Nginx"}},
		{Name: "E", Namespace: "default", Labels: map[string]string{"app": "User", "role": "User"}},
	}
	namespaces := []model.Namespace{{Name: "default"}}

	policies := []model.Policy{
		{
			Name: "PA", HomeNamespace: "default",
			PodSelector: sel(map[string]string{"role": "DB"}),
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(sel(map[string]string{"role": "Nginx"})),
			}}},
		},
		{
			Name: "PB", HomeNamespace: "default",
			PodSelector: sel(map[string]string{"role": "Tomcat"}),
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(sel(map[string]string{"role": "User"})),
			}}},
		},
		{
			Name: "PC", HomeNamespace: "default",
			PodSelector: sel(map[string]string{"role": "Nginx"}),
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(sel(map[string]string{"role": "Tomcat"})),
			}}},
		},
		{
			Name: "PD", HomeNamespace: "default",
			PodSelector: sel(map[string]string{"role": "Nginx"}),
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(sel(map[string]string{"app": "Alice"})),
			}}},
		},
	}

	m := mustBuild(t, workloads, namespaces, policies)
	f := flags.Flags{CheckSelfIngressTraffic: true, CheckSelectByNoPolicy: false}
	M := Build(m, f)

	if !M.Allowed(0, 1) {
		t.Errorf("expected M[A][B]=1 (Nginx -> DB)")
	}
	if !M.Allowed(2, 0) {
		t.Errorf("expected M[C][A]=1 (Tomcat -> Nginx)")
	}
	if !M.Allowed(4, 2) {
		t.Errorf("expected M[E][C]=1 (User -> Tomcat)")
	}

	// Isolation-by-selection (invariant 4): with the self flag off, column E
	// (index 4) is all zeros because no selecting policy admits any peer
	// into it. With the self flag on, M[4][4] is forced to 1 by invariant 3
	// regardless, so this is checked against a self-flag-off build.
	Mrestrictive := Build(m, flags.Flags{CheckSelectByNoPolicy: false})
	for i := 0; i < 5; i++ {
		if Mrestrictive.Allowed(i, 4) {
			t.Errorf("expected column E (index 4) to be all zero, but M[%d][4]=1", i)
		}
	}
}

// S2: default-deny.
func TestS2DefaultDeny(t *testing.T) {
	workloads := []model.Workload{{Name: "X", Namespace: "default", Labels: map[string]string{"app": "x"}}}
	namespaces := []model.Namespace{{Name: "default"}}
	policies := []model.Policy{
		{
			Name: "deny", HomeNamespace: "default",
			PodSelector: sel(map[string]string{"app": "x"}),
			Ingress:     []model.Rule{}, // empty ingress list: allow none
		},
	}
	m := mustBuild(t, workloads, namespaces, policies)

	f := flags.Flags{CheckSelfIngressTraffic: false, CheckSelectByNoPolicy: false}
	M := Build(m, f)
	if M.Allowed(0, 0) {
		t.Errorf("expected M[X][X]=0 under restrictive default-deny with self flag off")
	}

	fSelf := flags.Flags{CheckSelfIngressTraffic: true, CheckSelectByNoPolicy: false}
	Mself := Build(m, fSelf)
	if !Mself.Allowed(0, 0) {
		t.Errorf("expected M[X][X]=1 with self flag on")
	}
}

// S3: allow-all peer (empty pod selector).
func TestS3AllowAllPeer(t *testing.T) {
	workloads := []model.Workload{
		{Name: "U", Namespace: "default", Labels: map[string]string{}},
		{Name: "V", Namespace: "default", Labels: map[string]string{}},
	}
	namespaces := []model.Namespace{{Name: "default"}}
	policies := []model.Policy{
		{
			Name: "allow-all-ingress", HomeNamespace: "default",
			PodSelector: sel(map[string]string{}), // present-but-empty: selects V and U both; test only V's ingress effect below
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(&model.Selector{}), // present-but-empty selector: allow all
			}}},
		},
	}
	m := mustBuild(t, workloads, namespaces, policies)
	f := flags.Flags{CheckSelfIngressTraffic: false, CheckSelectByNoPolicy: false}
	M := Build(m, f)

	if !M.Allowed(0, 1) {
		t.Errorf("expected M[U][V]=1")
	}
}

// S4: namespace isolation.
func TestS4NamespaceIsolation(t *testing.T) {
	workloads := []model.Workload{
		{Name: "P", Namespace: "ns1", Labels: map[string]string{}},
		{Name: "Q", Namespace: "ns1", Labels: map[string]string{}},
		{Name: "R", Namespace: "ns2", Labels: map[string]string{}},
	}
	namespaces := []model.Namespace{{Name: "ns1"}, {Name: "ns2"}}
	policies := []model.Policy{
		{
			Name: "ns1-open", HomeNamespace: "ns1",
			PodSelector: &model.Selector{},
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(&model.Selector{}),
			}}},
		},
	}
	m := mustBuild(t, workloads, namespaces, policies)
	f := flags.Flags{CheckSelectByNoPolicy: false}
	M := Build(m, f)

	if !M.Allowed(0, 1) || !M.Allowed(1, 0) {
		t.Errorf("expected P<->Q reachable within ns1")
	}
	if M.Allowed(2, 0) || M.Allowed(2, 1) {
		t.Errorf("expected R (ns2) not to reach ns1 pods")
	}
}

// §8 property 1: commutativity of policy order.
func TestCommutativityOfPolicyOrder(t *testing.T) {
	workloads := []model.Workload{
		{Name: "A", Namespace: "default", Labels: map[string]string{"role": "a"}},
		{Name: "B", Namespace: "default", Labels: map[string]string{"role": "b"}},
		{Name: "C", Namespace: "default", Labels: map[string]string{"role": "c"}},
	}
	namespaces := []model.Namespace{{Name: "default"}}
	p1 := model.Policy{Name: "p1", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "a"}),
		Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "b"}))}}}}
	p2 := model.Policy{Name: "p2", HomeNamespace: "default", PodSelector: sel(map[string]string{"role": "b"}),
		Ingress: []model.Rule{{Peers: []model.Peer{model.NewPodPeer(sel(map[string]string{"role": "c"}))}}}}

	m1 := mustBuild(t, workloads, namespaces, []model.Policy{p1, p2})
	m2 := mustBuild(t, workloads, namespaces, []model.Policy{p2, p1})

	f := flags.Default()
	M1 := Build(m1, f)
	M2 := Build(m2, f)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if M1.Allowed(i, j) != M2.Allowed(i, j) {
				t.Fatalf("policy order changed M[%d][%d]", i, j)
			}
		}
	}
}

// §8 property 3: self-loop flag.
func TestSelfLoopFlagForcesDiagonal(t *testing.T) {
	workloads := []model.Workload{{Name: "A", Namespace: "default"}, {Name: "B", Namespace: "default"}}
	namespaces := []model.Namespace{{Name: "default"}}
	m := mustBuild(t, workloads, namespaces, nil)
	f := flags.Flags{CheckSelfIngressTraffic: true}
	M := Build(m, f)
	for i := 0; i < 2; i++ {
		if !M.Allowed(i, i) {
			t.Fatalf("expected M[%d][%d]=1 with self flag", i, i)
		}
	}
}

// §8 property 5: permissive default.
func TestPermissiveDefaultForUnselectedWorkload(t *testing.T) {
	workloads := []model.Workload{{Name: "A", Namespace: "default"}, {Name: "B", Namespace: "default"}}
	namespaces := []model.Namespace{{Name: "default"}}
	m := mustBuild(t, workloads, namespaces, nil)
	f := flags.Flags{CheckSelectByNoPolicy: true}
	M := Build(m, f)
	// column 0 and 1 should be all-ones: nothing selects these workloads.
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			if !M.Allowed(i, j) {
				t.Fatalf("expected permissive column for unselected workload %d, M[%d][%d]=0", j, i, j)
			}
		}
	}
}

// §8 Invariant 4: a real ingress policy restricts admission into its
// selected target even under permissive mode — a workload named by no
// peer must not be admitted just because the default column started
// all-ones. Regression test for the "clear on first selection" step
// clearing the wrong axis of `in[]`.
func TestIngressPolicyRestrictsUnderPermissiveDefault(t *testing.T) {
	workloads := []model.Workload{
		{Name: "W", Namespace: "default"},
		{Name: "P", Namespace: "default"},
		{Name: "Q", Namespace: "default"},
	}
	namespaces := []model.Namespace{{Name: "default"}}
	policies := []model.Policy{
		{
			Name: "allow-p-to-w", HomeNamespace: "default",
			PodSelector: &model.Selector{}, // selects every workload in scope
			Ingress: []model.Rule{{Peers: []model.Peer{
				model.NewPodPeer(sel(map[string]string{"name": "does-not-match-anything"})),
			}}},
		},
	}
	m := mustBuild(t, workloads, namespaces, policies)
	f := flags.Flags{CheckSelectByNoPolicy: true, CheckSelfIngressTraffic: false}
	M := Build(m, f)

	w, p, q := 0, 1, 2
	if M.Allowed(q, w) {
		t.Errorf("expected M[Q][W]=0: Q was never named as a peer of the policy selecting W")
	}
	if M.Allowed(p, w) {
		t.Errorf("expected M[P][W]=0: P was never named as a peer of the policy selecting W")
	}
	if M.Allowed(w, p) {
		t.Errorf("expected M[W][P]=0: W's own ingress policy selects P too, admitting no peers")
	}
}
