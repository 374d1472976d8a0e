// Package loader is the external collaborator §6 describes: it reads a
// directory of Kubernetes-style YAML manifests (Pods, Namespaces,
// NetworkPolicies) and produces the abstract model.Model the engines
// operate over. The core never imports this package's reverse — loader
// depends on model, not the other way around.
package loader

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/netreach/netreach/internal/model"
)

// kindProbe is decoded first from each document to dispatch to the right
// concrete type, mirroring the original parser's `data['kind']` switch.
type kindProbe struct {
	Kind string `json:"kind"`
}

// LoadDir walks dir recursively, reading every *.yaml/*.yml file, splitting
// multi-document files on "---", and assembling the workloads, namespaces
// and policies it finds into a model.Model via model.Build.
//
// A document whose kind is not Pod, Namespace or NetworkPolicy is ignored.
// Malformed YAML within a single document aborts the whole load (§7
// "malformed model" is a construction failure, not a per-policy warning).
func LoadDir(dir string) (*model.Model, error) {
	var workloads []model.Workload
	var namespaces []model.Namespace
	var policies []model.Policy

	sawNamespace := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("loader: reading %s: %w", path, err)
		}

		for _, doc := range splitDocuments(raw) {
			if len(bytes.TrimSpace(doc)) == 0 {
				continue
			}
			var probe kindProbe
			if err := yaml.Unmarshal(doc, &probe); err != nil {
				return fmt.Errorf("loader: %s: %w", path, err)
			}
			switch probe.Kind {
			case "Pod":
				w, err := decodePod(doc)
				if err != nil {
					return fmt.Errorf("loader: %s: %w", path, err)
				}
				workloads = append(workloads, w)
			case "Namespace":
				ns, err := decodeNamespace(doc)
				if err != nil {
					return fmt.Errorf("loader: %s: %w", path, err)
				}
				if !sawNamespace[ns.Name] {
					namespaces = append(namespaces, ns)
					sawNamespace[ns.Name] = true
				}
			case "NetworkPolicy":
				p, err := decodePolicy(doc)
				if err != nil {
					return fmt.Errorf("loader: %s: %w", path, err)
				}
				policies = append(policies, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A workload's namespace may not have an explicit Namespace document
	// (a common shorthand in sample manifests); synthesize an unlabeled one
	// rather than rejecting the load.
	for _, w := range workloads {
		if !sawNamespace[w.Namespace] {
			namespaces = append(namespaces, model.Namespace{Name: w.Namespace})
			sawNamespace[w.Namespace] = true
		}
	}

	return model.Build(workloads, namespaces, policies)
}

// splitDocuments splits a YAML file on "---" document separator lines.
func splitDocuments(raw []byte) [][]byte {
	var docs [][]byte
	var current bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			docs = append(docs, append([]byte(nil), current.Bytes()...))
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	docs = append(docs, append([]byte(nil), current.Bytes()...))
	return docs
}

func decodePod(doc []byte) (model.Workload, error) {
	var pod corev1.Pod
	if err := yaml.Unmarshal(doc, &pod); err != nil {
		return model.Workload{}, err
	}
	if pod.Namespace == "" {
		pod.Namespace = "default"
	}
	return model.Workload{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Labels:    copyLabels(pod.Labels),
	}, nil
}

func decodeNamespace(doc []byte) (model.Namespace, error) {
	var ns corev1.Namespace
	if err := yaml.Unmarshal(doc, &ns); err != nil {
		return model.Namespace{}, err
	}
	return model.Namespace{
		Name:   ns.Name,
		Labels: copyLabels(ns.Labels),
	}, nil
}

func decodePolicy(doc []byte) (model.Policy, error) {
	var np networkingv1.NetworkPolicy
	if err := yaml.Unmarshal(doc, &np); err != nil {
		return model.Policy{}, err
	}
	if np.Namespace == "" {
		np.Namespace = "default"
	}

	p := model.Policy{
		Name:          np.Name,
		HomeNamespace: np.Namespace,
		PodSelector:   convertSelector(&np.Spec.PodSelector),
	}
	for _, t := range np.Spec.PolicyTypes {
		switch t {
		case networkingv1.PolicyTypeIngress:
			p.Types = append(p.Types, model.PolicyTypeIngress)
		case networkingv1.PolicyTypeEgress:
			p.Types = append(p.Types, model.PolicyTypeEgress)
		}
	}

	for _, ing := range np.Spec.Ingress {
		p.Ingress = append(p.Ingress, model.Rule{
			Peers: convertPeers(ing.From),
			Ports: convertPorts(ing.Ports),
		})
	}
	for _, eg := range np.Spec.Egress {
		p.Egress = append(p.Egress, model.Rule{
			Peers: convertPeers(eg.To),
			Ports: convertPorts(eg.Ports),
		})
	}
	return p, nil
}

// convertSelector preserves the absent-vs-empty distinction (§3): a
// LabelSelector value with no fields set still decodes as non-nil here
// (k8s's podSelector is itself never "absent" on a NetworkPolicy — the
// k8s API requires it), so this always returns a non-nil *model.Selector.
func convertSelector(sel *metav1.LabelSelector) *model.Selector {
	if sel == nil {
		return &model.Selector{}
	}
	out := &model.Selector{MatchLabels: copyLabels(sel.MatchLabels)}
	for _, expr := range sel.MatchExpressions {
		out.MatchExpressions = append(out.MatchExpressions, model.MatchExpression{
			Key:      expr.Key,
			Operator: convertOperator(expr.Operator),
			Values:   append([]string(nil), expr.Values...),
		})
	}
	return out
}

func convertOperator(op metav1.LabelSelectorOperator) model.Operator {
	switch op {
	case metav1.LabelSelectorOpIn:
		return model.OpIn
	case metav1.LabelSelectorOpNotIn:
		return model.OpNotIn
	case metav1.LabelSelectorOpExists:
		return model.OpExists
	case metav1.LabelSelectorOpDoesNotExist:
		return model.OpDoesNotExist
	default:
		return model.OpExists
	}
}

// convertPeers mirrors §3's Peer cases. A nil peer slice is preserved as
// nil (peers == null ⇒ allow any workload); an explicitly empty slice
// stays empty (allow none).
func convertPeers(peers []networkingv1.NetworkPolicyPeer) []model.Peer {
	if peers == nil {
		return nil
	}
	out := make([]model.Peer, 0, len(peers))
	for _, p := range peers {
		switch {
		case p.IPBlock != nil:
			out = append(out, model.NewIPBlockPeer(p.IPBlock.CIDR))
		case p.NamespaceSelector != nil:
			out = append(out, model.NewNamespacePeer(convertSelector(p.NamespaceSelector), convertSelectorPtr(p.PodSelector)))
		default:
			out = append(out, model.NewPodPeer(convertSelectorPtr(p.PodSelector)))
		}
	}
	return out
}

// convertSelectorPtr is like convertSelector but preserves a genuinely
// absent (nil) podSelector as nil, unlike the policy-level selector which
// the k8s API never leaves nil.
func convertSelectorPtr(sel *metav1.LabelSelector) *model.Selector {
	if sel == nil {
		return nil
	}
	return convertSelector(sel)
}

func convertPorts(ports []networkingv1.NetworkPolicyPort) []model.Port {
	if len(ports) == 0 {
		return nil
	}
	out := make([]model.Port, 0, len(ports))
	for _, p := range ports {
		mp := model.Port{}
		if p.Protocol != nil {
			mp.Protocol = string(*p.Protocol)
		}
		if p.Port != nil {
			mp.Port = p.Port.IntVal
		}
		if p.EndPort != nil {
			ep := *p.EndPort
			mp.EndPort = &ep
		}
		out = append(out, mp)
	}
	return out
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
