package lease

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	coordinationclient "k8s.io/client-go/kubernetes/typed/coordination/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

// serviceAccountNamespaceFile is mounted into every pod with a service account.
const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// KubernetesStore stores leases as coordination.k8s.io/v1 Lease objects.
// The object's resourceVersion is the concurrency token.
//
// The last object read or written per key is kept so an update changes only
// the spec and leaves labels, annotations and owner references in place.
type KubernetesStore struct {
	client coordinationclient.LeasesGetter

	mu      sync.Mutex
	objects map[Key]*coordinationv1.Lease
}

// Ensure KubernetesStore implements Store.
var _ Store = (*KubernetesStore)(nil)

// NewKubernetesStore creates a store backed by the given clientset.
func NewKubernetesStore(clientset kubernetes.Interface) *KubernetesStore {
	return &KubernetesStore{
		client:  clientset.CoordinationV1(),
		objects: make(map[Key]*coordinationv1.Lease),
	}
}

// NewKubernetesClient builds a clientset from kubeconfig when set, else from
// the in-cluster service account.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error

	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s clientset: %w", err)
	}
	return clientset, nil
}

// InClusterNamespace returns the pod's namespace from the service account
// mount, or "" outside a cluster.
func InClusterNamespace() string {
	data, err := os.ReadFile(serviceAccountNamespaceFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Get implements Store.Get.
func (s *KubernetesStore) Get(ctx context.Context, key Key) (*Lease, error) {
	obj, err := s.client.Leases(key.Namespace).Get(ctx, key.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			s.forget(key)
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	s.remember(key, obj)
	return fromKubernetes(obj), nil
}

// CreateOrUpdate implements Store.CreateOrUpdate.
func (s *KubernetesStore) CreateOrUpdate(ctx context.Context, key Key, observed *Lease, next Lease) (*Lease, error) {
	leases := s.client.Leases(key.Namespace)

	if observed == nil {
		created, err := leases.Create(ctx, newKubernetesLease(key, next), metav1.CreateOptions{})
		if err != nil {
			if apierrors.IsAlreadyExists(err) {
				return nil, ErrConflict
			}
			return nil, unavailable("create", err)
		}
		s.remember(key, created)
		return fromKubernetes(created), nil
	}

	obj := s.base(key, observed.Version)
	obj.Spec = toSpec(next)
	updated, err := leases.Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		switch {
		case apierrors.IsConflict(err):
			return nil, ErrConflict
		case apierrors.IsNotFound(err):
			s.forget(key)
			return nil, ErrNotFound
		}
		return nil, unavailable("update", err)
	}
	s.remember(key, updated)
	return fromKubernetes(updated), nil
}

// base returns a copy of the remembered object when it is still at version,
// else a bare object carrying only the name and resourceVersion.
func (s *KubernetesStore) base(key Key, version string) *coordinationv1.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok && obj.ResourceVersion == version {
		return obj.DeepCopy()
	}
	obj := newKubernetesLease(key, Lease{})
	obj.ResourceVersion = version
	return obj
}

func (s *KubernetesStore) remember(key Key, obj *coordinationv1.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = obj.DeepCopy()
}

func (s *KubernetesStore) forget(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// Close is a no-op; the clientset's transport is shared and has nothing to release.
func (s *KubernetesStore) Close() error {
	return nil
}

func toSpec(l Lease) coordinationv1.LeaseSpec {
	spec := coordinationv1.LeaseSpec{
		HolderIdentity:       ptr.To(l.HolderIdentity),
		LeaseDurationSeconds: ptr.To(durationSeconds(l.LeaseDuration)),
		LeaseTransitions:     ptr.To(clampInt32(l.LeaderTransitions)),
	}
	if !l.AcquireTime.IsZero() {
		spec.AcquireTime = &metav1.MicroTime{Time: l.AcquireTime}
	}
	if !l.RenewTime.IsZero() {
		spec.RenewTime = &metav1.MicroTime{Time: l.RenewTime}
	}
	return spec
}

func newKubernetesLease(key Key, l Lease) *coordinationv1.Lease {
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      key.Name,
			Namespace: key.Namespace,
		},
		Spec: toSpec(l),
	}
}

func fromKubernetes(obj *coordinationv1.Lease) *Lease {
	l := &Lease{Version: obj.ResourceVersion}
	if obj.Spec.HolderIdentity != nil {
		l.HolderIdentity = *obj.Spec.HolderIdentity
	}
	if obj.Spec.LeaseDurationSeconds != nil {
		l.LeaseDuration = time.Duration(*obj.Spec.LeaseDurationSeconds) * time.Second
	}
	if obj.Spec.AcquireTime != nil {
		l.AcquireTime = obj.Spec.AcquireTime.Time
	}
	if obj.Spec.RenewTime != nil {
		l.RenewTime = obj.Spec.RenewTime.Time
	}
	if obj.Spec.LeaseTransitions != nil {
		l.LeaderTransitions = int64(*obj.Spec.LeaseTransitions)
	}
	return l
}

// durationSeconds rounds up so a sub-second duration never becomes zero.
func durationSeconds(d time.Duration) int32 {
	secs := int64((d + time.Second - 1) / time.Second)
	return clampInt32(secs)
}

func clampInt32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < 0 {
		return 0
	}
	return int32(v)
}
