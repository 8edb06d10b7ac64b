package k8s

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/xraph/accord/id"
)

const testNS = "default"

// newTestProvider creates a Provider backed by the fake K8s client, with
// the given pods pre-created.
func newTestProvider(t *testing.T, pods ...*corev1.Pod) (*Provider, *fake.Clientset) {
	t.Helper()

	cs := fake.NewClientset()
	for _, pod := range pods {
		if _, err := cs.CoreV1().Pods(testNS).Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create pod: %v", err)
		}
	}
	return New(cs, testNS), cs
}

// makeNodePod creates a labeled Pod suitable for accord discovery.
func makeNodePod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNS,
			Labels: map[string]string{
				"app.kubernetes.io/component": "accord-node",
			},
			Annotations: make(map[string]string),
		},
	}
}

func makeNodeInfo(hostname string) *NodeInfo {
	now := time.Now().UTC()
	return &NodeInfo{
		ID:       id.NewNodeID(),
		Address:  "10.0.0.1:7000",
		Hostname: hostname,
		JoinedAt: now,
		LastSeen: now,
	}
}

func TestRegister_AnnotatesPod(t *testing.T) {
	pod := makeNodePod("accord-0")
	p, cs := newTestProvider(t, pod)
	ctx := context.Background()

	info := makeNodeInfo("accord-0")
	if err := p.Register(ctx, info); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := cs.CoreV1().Pods(testNS).Get(ctx, "accord-0", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if got.Annotations["accord.xraph.com/node-id"] != info.ID.String() {
		t.Errorf("node-id annotation = %q, want %q", got.Annotations["accord.xraph.com/node-id"], info.ID)
	}
	if got.Annotations["accord.xraph.com/address"] != "10.0.0.1:7000" {
		t.Errorf("address annotation = %q", got.Annotations["accord.xraph.com/address"])
	}
}

func TestRegister_MissingPod(t *testing.T) {
	p, _ := newTestProvider(t)

	err := p.Register(context.Background(), makeNodeInfo("absent"))
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Register = %v, want ErrNodeNotFound", err)
	}
}

func TestList_ReturnsRegisteredNodesOnly(t *testing.T) {
	registered := makeNodePod("accord-0")
	bare := makeNodePod("accord-1") // labeled but never registered
	p, _ := newTestProvider(t, registered, bare)
	ctx := context.Background()

	info := makeNodeInfo("accord-0")
	if err := p.Register(ctx, info); err != nil {
		t.Fatalf("Register: %v", err)
	}

	nodes, err := p.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("List returned %d nodes, want 1", len(nodes))
	}
	if nodes[0].ID.String() != info.ID.String() {
		t.Errorf("listed node = %v, want %v", nodes[0].ID, info.ID)
	}
}

func TestHeartbeatAndDeregister(t *testing.T) {
	pod := makeNodePod("accord-0")
	p, _ := newTestProvider(t, pod)
	ctx := context.Background()

	info := makeNodeInfo("accord-0")
	info.LastSeen = time.Now().UTC().Add(-time.Hour)
	if err := p.Register(ctx, info); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := p.Heartbeat(ctx, info.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	nodes, _ := p.List(ctx)
	if len(nodes) != 1 || time.Since(nodes[0].LastSeen) > time.Minute {
		t.Errorf("heartbeat did not refresh last-seen: %v", nodes)
	}

	if err := p.Deregister(ctx, info.ID); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	nodes, _ = p.List(ctx)
	if len(nodes) != 0 {
		t.Errorf("List after deregister returned %d nodes", len(nodes))
	}

	if err := p.Heartbeat(ctx, info.ID); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Heartbeat after deregister = %v, want ErrNodeNotFound", err)
	}
}

func TestLeaderMirror_PublishAndRead(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	if _, _, ok, err := p.Leader(ctx); err != nil || ok {
		t.Fatalf("Leader before publish = ok=%v err=%v, want absent", ok, err)
	}

	leader := id.NewNodeID()
	if err := p.PublishLeader(ctx, leader, 7, 30*time.Second); err != nil {
		t.Fatalf("PublishLeader: %v", err)
	}

	got, term, ok, err := p.Leader(ctx)
	if err != nil || !ok {
		t.Fatalf("Leader = ok=%v err=%v", ok, err)
	}
	if got.String() != leader.String() || term != 7 {
		t.Errorf("Leader = %v term %d, want %v term 7", got, term, leader)
	}
}

func TestLeaderMirror_NeverMirrorsBackwards(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	current := id.NewNodeID()
	stale := id.NewNodeID()

	if err := p.PublishLeader(ctx, current, 9, 30*time.Second); err != nil {
		t.Fatalf("PublishLeader: %v", err)
	}
	// A stale leader republishing an older term must be ignored.
	if err := p.PublishLeader(ctx, stale, 8, 30*time.Second); err != nil {
		t.Fatalf("PublishLeader stale: %v", err)
	}

	got, term, ok, err := p.Leader(ctx)
	if err != nil || !ok {
		t.Fatalf("Leader = ok=%v err=%v", ok, err)
	}
	if got.String() != current.String() || term != 9 {
		t.Errorf("Leader = %v term %d, want %v term 9", got, term, current)
	}
}
