// Package k8s provides node discovery on Kubernetes primitives:
//
//   - Node registration via Pod annotations and label selectors. Each
//     accord node annotates its own Pod, and peers are discovered by
//     listing labeled Pods — no extra registry to operate.
//   - A leader mirror via the coordination/v1 Lease API. The consensus
//     module is the authority on leadership; the elected leader publishes
//     itself to the Lease so operators can see the leader with kubectl.
//
// Pods must carry the label app.kubernetes.io/component=accord-node (or a
// custom selector) and the ServiceAccount needs get/list/update on pods
// and leases in the namespace.
package k8s
