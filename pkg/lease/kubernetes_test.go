package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

var leasesResource = schema.GroupResource{Group: "coordination.k8s.io", Resource: "leases"}

func TestKubernetesStore_CreateAndGet(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	store := NewKubernetesStore(clientset)
	ctx := context.Background()

	if _, err := store.Get(ctx, testKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty cluster: expected ErrNotFound, got %v", err)
	}

	now := time.Now().Truncate(time.Microsecond)
	if _, err := store.CreateOrUpdate(ctx, testKey, nil, Lease{
		HolderIdentity:    "pod-a",
		LeaseDuration:     15 * time.Second,
		AcquireTime:       now,
		RenewTime:         now,
		LeaderTransitions: 2,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	obj, err := clientset.CoordinationV1().Leases("default").Get(ctx, "test-lease", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("lease object not created: %v", err)
	}
	if *obj.Spec.HolderIdentity != "pod-a" {
		t.Errorf("holderIdentity = %q", *obj.Spec.HolderIdentity)
	}
	if *obj.Spec.LeaseDurationSeconds != 15 {
		t.Errorf("leaseDurationSeconds = %d", *obj.Spec.LeaseDurationSeconds)
	}

	got, err := store.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.HolderIdentity != "pod-a" || got.LeaderTransitions != 2 {
		t.Errorf("unexpected lease %+v", got)
	}
	if !got.RenewTime.Equal(now) {
		t.Errorf("renew time = %v, want %v", got.RenewTime, now)
	}
}

func TestKubernetesStore_CreateAlreadyExists(t *testing.T) {
	clientset := fake.NewSimpleClientset(&coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: "test-lease", Namespace: "default"},
	})
	store := NewKubernetesStore(clientset)

	if _, err := store.CreateOrUpdate(context.Background(), testKey, nil, Lease{HolderIdentity: "pod-a"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestKubernetesStore_UpdateErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{
			name:    "conflict",
			err:     apierrors.NewConflict(leasesResource, "test-lease", errors.New("object has been modified")),
			wantErr: ErrConflict,
		},
		{
			name:    "not found",
			err:     apierrors.NewNotFound(leasesResource, "test-lease"),
			wantErr: ErrNotFound,
		},
		{
			name:    "server error",
			err:     apierrors.NewInternalError(errors.New("etcd unavailable")),
			wantErr: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientset := fake.NewSimpleClientset()
			clientset.PrependReactor("update", "leases", func(_ k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, tt.err
			})

			store := NewKubernetesStore(clientset)
			_, err := store.CreateOrUpdate(context.Background(), testKey, &Lease{Version: "1"}, Lease{HolderIdentity: "pod-a"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestKubernetesStore_UpdateSendsResourceVersion(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	var sentVersion string
	clientset.PrependReactor("update", "leases", func(action k8stesting.Action) (bool, runtime.Object, error) {
		obj := action.(k8stesting.UpdateAction).GetObject().(*coordinationv1.Lease)
		sentVersion = obj.ResourceVersion
		updated := obj.DeepCopy()
		updated.ResourceVersion = "43"
		return true, updated, nil
	})

	store := NewKubernetesStore(clientset)
	got, err := store.CreateOrUpdate(context.Background(), testKey, &Lease{Version: "42"}, Lease{HolderIdentity: "pod-a"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if sentVersion != "42" {
		t.Errorf("expected resourceVersion 42 on the wire, got %q", sentVersion)
	}
	if got.Version != "43" {
		t.Errorf("expected returned version 43, got %q", got.Version)
	}
}

func TestKubernetesStore_UpdatePreservesMetadata(t *testing.T) {
	owner := metav1.OwnerReference{APIVersion: "apps/v1", Kind: "Deployment", Name: "web", UID: "uid-1"}
	clientset := fake.NewSimpleClientset(&coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "test-lease",
			Namespace:       "default",
			Labels:          map[string]string{"app": "web"},
			Annotations:     map[string]string{"team": "platform"},
			OwnerReferences: []metav1.OwnerReference{owner},
		},
	})
	store := NewKubernetesStore(clientset)
	ctx := context.Background()

	observed, err := store.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := store.CreateOrUpdate(ctx, testKey, observed, Lease{
		HolderIdentity:    "pod-a",
		LeaseDuration:     15 * time.Second,
		LeaderTransitions: 1,
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	obj, err := clientset.CoordinationV1().Leases("default").Get(ctx, "test-lease", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("lease object missing: %v", err)
	}
	if obj.Spec.HolderIdentity == nil || *obj.Spec.HolderIdentity != "pod-a" {
		t.Errorf("holderIdentity = %v, want pod-a", obj.Spec.HolderIdentity)
	}
	if obj.Labels["app"] != "web" {
		t.Errorf("labels = %v, want app=web kept", obj.Labels)
	}
	if obj.Annotations["team"] != "platform" {
		t.Errorf("annotations = %v, want team=platform kept", obj.Annotations)
	}
	if len(obj.OwnerReferences) != 1 || obj.OwnerReferences[0].UID != owner.UID {
		t.Errorf("ownerReferences = %v, want %v kept", obj.OwnerReferences, owner)
	}
}

func TestKubernetesStore_GetServerError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("get", "leases", func(_ k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewServiceUnavailable("apiserver restarting")
	})

	store := NewKubernetesStore(clientset)
	if _, err := store.Get(context.Background(), testKey); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int32
	}{
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{30 * time.Second, 30},
		{0, 0},
	}
	for _, tt := range tests {
		if got := durationSeconds(tt.in); got != tt.want {
			t.Errorf("durationSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
