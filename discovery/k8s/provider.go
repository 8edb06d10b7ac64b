package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/accord/id"
)

// ErrNodeNotFound is returned when no Pod matches the node.
var ErrNodeNotFound = errors.New("k8s: node not found")

const (
	defaultLeaseName        = "accord-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=accord-node"
	defaultAnnotationPrefix = "accord.xraph.com/"
)

// NodeInfo is the discovery record one node publishes about itself.
type NodeInfo struct {
	ID       id.NodeID
	Address  string
	Hostname string
	JoinedAt time.Time
	LastSeen time.Time
}

// Provider discovers accord nodes through Pod annotations and mirrors the
// elected leader into a coordination/v1 Lease.
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes discovery provider. The clientset and namespace
// are required.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Node registration (Pod annotations)
// ──────────────────────────────────────────────────

// Register stores node metadata as annotations on the node's Pod. The Pod
// is located by matching the node's Hostname to the Pod name.
func (p *Provider) Register(ctx context.Context, info *NodeInfo) error {
	pod, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, info.Hostname, metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return fmt.Errorf("k8s: pod %q: %w", info.Hostname, ErrNodeNotFound)
		}
		return fmt.Errorf("k8s: register get pod: %w", err)
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	p.setNodeAnnotations(pod, info)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: register update pod: %w", err)
	}
	return nil
}

// Deregister removes accord annotations from the node's Pod.
func (p *Provider) Deregister(ctx context.Context, nodeID id.NodeID) error {
	pod, err := p.findPodByNodeID(ctx, nodeID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return ErrNodeNotFound
	}

	prefix := p.annotationPrefix
	for _, k := range []string{"node-id", "address", "hostname", "joined-at", "last-seen"} {
		delete(pod.Annotations, prefix+k)
	}

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: deregister update pod: %w", err)
	}
	return nil
}

// Heartbeat refreshes the last-seen annotation on the node's Pod.
func (p *Provider) Heartbeat(ctx context.Context, nodeID id.NodeID) error {
	pod, err := p.findPodByNodeID(ctx, nodeID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return ErrNodeNotFound
	}

	pod.Annotations[p.annotationPrefix+"last-seen"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: heartbeat update pod: %w", err)
	}
	return nil
}

// List returns all registered accord nodes by scanning Pod annotations.
func (p *Provider) List(ctx context.Context) ([]*NodeInfo, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list nodes: %w", err)
	}

	nodes := make([]*NodeInfo, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		info, convErr := p.nodeFromPod(pod)
		if convErr != nil {
			continue // pod has no/invalid accord annotations
		}
		nodes = append(nodes, info)
	}
	return nodes, nil
}

// ──────────────────────────────────────────────────
// Leader mirror (Lease API)
// ──────────────────────────────────────────────────

// PublishLeader mirrors the elected leader into the Lease. The consensus
// module remains authoritative; the Lease only makes the leader visible to
// operators. ttl bounds how long a stale mirror survives a dead leader.
func (p *Provider) PublishLeader(ctx context.Context, nodeID id.NodeID, term uint64, ttl time.Duration) error {
	holder := nodeID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		newLease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:        p.leaseName,
				Namespace:   p.namespace,
				Annotations: map[string]string{p.annotationPrefix + "term": strconv.FormatUint(term, 10)},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &holder,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, createErr := p.client.CoordinationV1().Leases(p.namespace).Create(ctx, newLease, metav1.CreateOptions{}); createErr != nil {
			return fmt.Errorf("k8s: create leader lease: %w", createErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("k8s: get leader lease: %w", err)
	}

	// Never mirror backwards: a stale leader republishing an older term
	// must not overwrite the current one.
	if cur, parseErr := strconv.ParseUint(lease.Annotations[p.annotationPrefix+"term"], 10, 64); parseErr == nil && cur > term {
		return nil
	}

	if lease.Annotations == nil {
		lease.Annotations = make(map[string]string)
	}
	lease.Annotations[p.annotationPrefix+"term"] = strconv.FormatUint(term, 10)
	lease.Spec.HolderIdentity = &holder
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: update leader lease: %w", err)
	}
	return nil
}

// Leader reads the mirrored leader from the Lease. ok is false when no
// unexpired lease exists.
func (p *Provider) Leader(ctx context.Context) (nodeID id.NodeID, term uint64, ok bool, err error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return id.Nil, 0, false, nil
		}
		return id.Nil, 0, false, fmt.Errorf("k8s: get leader lease: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" || leaseExpired(lease) {
		return id.Nil, 0, false, nil
	}

	nodeID, parseErr := id.ParseNodeID(*lease.Spec.HolderIdentity)
	if parseErr != nil {
		return id.Nil, 0, false, nil
	}
	term, _ = strconv.ParseUint(lease.Annotations[p.annotationPrefix+"term"], 10, 64) //nolint:errcheck // missing term reads as 0

	return nodeID, term, true, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (p *Provider) setNodeAnnotations(pod *corev1.Pod, info *NodeInfo) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	a[prefix+"node-id"] = info.ID.String()
	a[prefix+"address"] = info.Address
	a[prefix+"hostname"] = info.Hostname
	a[prefix+"joined-at"] = info.JoinedAt.UTC().Format(time.RFC3339Nano)
	a[prefix+"last-seen"] = info.LastSeen.UTC().Format(time.RFC3339Nano)
}

// nodeFromPod converts Pod annotations to a NodeInfo.
func (p *Provider) nodeFromPod(pod *corev1.Pod) (*NodeInfo, error) {
	prefix := p.annotationPrefix
	a := pod.Annotations

	rawID := a[prefix+"node-id"]
	if rawID == "" {
		return nil, fmt.Errorf("k8s: pod %q missing node-id annotation", pod.Name)
	}
	nodeID, err := id.ParseNodeID(rawID)
	if err != nil {
		return nil, fmt.Errorf("k8s: parse node id: %w", err)
	}

	joinedAt, _ := time.Parse(time.RFC3339Nano, a[prefix+"joined-at"]) //nolint:errcheck // best-effort parse
	lastSeen, _ := time.Parse(time.RFC3339Nano, a[prefix+"last-seen"]) //nolint:errcheck // best-effort parse

	return &NodeInfo{
		ID:       nodeID,
		Address:  a[prefix+"address"],
		Hostname: a[prefix+"hostname"],
		JoinedAt: joinedAt,
		LastSeen: lastSeen,
	}, nil
}

// findPodByNodeID scans labeled pods for one whose node-id annotation
// matches.
func (p *Provider) findPodByNodeID(ctx context.Context, nodeID string) (*corev1.Pod, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: find pod by node id: %w", err)
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Annotations[p.annotationPrefix+"node-id"] == nodeID {
			return pod, nil
		}
	}
	return nil, nil //nolint:nilnil // absence is not an error here
}

// leaseExpired returns true if the lease's renew time + duration is past.
func leaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return time.Now().UTC().After(lease.Spec.RenewTime.Add(dur))
}
