// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kubernetes

import (
	"context"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

// ResourceKind names a supported Kubernetes resource
type ResourceKind string

const (
	KindPod                   ResourceKind = "pod"
	KindService               ResourceKind = "service"
	KindConfigMap             ResourceKind = "configmap"
	KindSecret                ResourceKind = "secret"
	KindNamespace             ResourceKind = "namespace"
	KindNode                  ResourceKind = "node"
	KindDeployment            ResourceKind = "deployment"
	KindStatefulSet           ResourceKind = "statefulset"
	KindDaemonSet             ResourceKind = "daemonset"
	KindIngress               ResourceKind = "ingress"
	KindPersistentVolume      ResourceKind = "persistentvolume"
	KindPersistentVolumeClaim ResourceKind = "persistentvolumeclaim"
)

// Action is an operation on a resource
type Action string

const (
	ActionList   Action = "list"
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// typedClient is the method set shared by every client-go typed resource client
type typedClient[T runtime.Object, L runtime.Object] interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	List(ctx context.Context, opts metav1.ListOptions) (L, error)
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Update(ctx context.Context, obj T, opts metav1.UpdateOptions) (T, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
}

type handlerKey struct {
	kind   ResourceKind
	action Action
}

// call carries a resolved request into a handler
type call struct {
	namespace string
	req       Request
}

type handler func(ctx context.Context, cs kubernetes.Interface, c call) (*Result, error)

var (
	handlers   = map[handlerKey]handler{}
	namespaced = map[ResourceKind]bool{}
)

// bind registers every action of one kind against its typed client
func bind[T runtime.Object, L runtime.Object](kind ResourceKind, isNamespaced bool, newObj func() T,
	client func(cs kubernetes.Interface, ns string) typedClient[T, L]) {

	namespaced[kind] = isNamespaced

	handlers[handlerKey{kind, ActionList}] = func(ctx context.Context, cs kubernetes.Interface, c call) (*Result, error) {
		list, err := client(cs, c.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: c.req.LabelSelector,
			FieldSelector: c.req.FieldSelector,
		})
		if err != nil {
			return nil, err
		}
		items, err := listItems(list)
		if err != nil {
			return nil, err
		}
		return &Result{Items: items, Count: len(items)}, nil
	}

	handlers[handlerKey{kind, ActionGet}] = func(ctx context.Context, cs kubernetes.Interface, c call) (*Result, error) {
		obj, err := client(cs, c.namespace).Get(ctx, c.req.Name, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		return objectResult(obj)
	}

	handlers[handlerKey{kind, ActionCreate}] = func(ctx context.Context, cs kubernetes.Interface, c call) (*Result, error) {
		obj, err := decodeBody(c, newObj())
		if err != nil {
			return nil, err
		}
		created, err := client(cs, c.namespace).Create(ctx, obj, metav1.CreateOptions{})
		if err != nil {
			return nil, err
		}
		return objectResult(created)
	}

	handlers[handlerKey{kind, ActionUpdate}] = func(ctx context.Context, cs kubernetes.Interface, c call) (*Result, error) {
		obj, err := decodeBody(c, newObj())
		if err != nil {
			return nil, err
		}
		updated, err := client(cs, c.namespace).Update(ctx, obj, metav1.UpdateOptions{})
		if err != nil {
			return nil, err
		}
		return objectResult(updated)
	}

	handlers[handlerKey{kind, ActionDelete}] = func(ctx context.Context, cs kubernetes.Interface, c call) (*Result, error) {
		if err := client(cs, c.namespace).Delete(ctx, c.req.Name, metav1.DeleteOptions{}); err != nil {
			return nil, err
		}
		return &Result{Deleted: true}, nil
	}
}

func init() {
	bind(KindPod, true, func() *corev1.Pod { return &corev1.Pod{} },
		func(cs kubernetes.Interface, ns string) typedClient[*corev1.Pod, *corev1.PodList] {
			return cs.CoreV1().Pods(ns)
		})
	bind(KindService, true, func() *corev1.Service { return &corev1.Service{} },
		func(cs kubernetes.Interface, ns string) typedClient[*corev1.Service, *corev1.ServiceList] {
			return cs.CoreV1().Services(ns)
		})
	bind(KindConfigMap, true, func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
		func(cs kubernetes.Interface, ns string) typedClient[*corev1.ConfigMap, *corev1.ConfigMapList] {
			return cs.CoreV1().ConfigMaps(ns)
		})
	bind(KindSecret, true, func() *corev1.Secret { return &corev1.Secret{} },
		func(cs kubernetes.Interface, ns string) typedClient[*corev1.Secret, *corev1.SecretList] {
			return cs.CoreV1().Secrets(ns)
		})
	bind(KindNamespace, false, func() *corev1.Namespace { return &corev1.Namespace{} },
		func(cs kubernetes.Interface, _ string) typedClient[*corev1.Namespace, *corev1.NamespaceList] {
			return cs.CoreV1().Namespaces()
		})
	bind(KindNode, false, func() *corev1.Node { return &corev1.Node{} },
		func(cs kubernetes.Interface, _ string) typedClient[*corev1.Node, *corev1.NodeList] {
			return cs.CoreV1().Nodes()
		})
	bind(KindPersistentVolume, false, func() *corev1.PersistentVolume { return &corev1.PersistentVolume{} },
		func(cs kubernetes.Interface, _ string) typedClient[*corev1.PersistentVolume, *corev1.PersistentVolumeList] {
			return cs.CoreV1().PersistentVolumes()
		})
	bind(KindPersistentVolumeClaim, true, func() *corev1.PersistentVolumeClaim { return &corev1.PersistentVolumeClaim{} },
		func(cs kubernetes.Interface, ns string) typedClient[*corev1.PersistentVolumeClaim, *corev1.PersistentVolumeClaimList] {
			return cs.CoreV1().PersistentVolumeClaims(ns)
		})
	bind(KindDeployment, true, func() *appsv1.Deployment { return &appsv1.Deployment{} },
		func(cs kubernetes.Interface, ns string) typedClient[*appsv1.Deployment, *appsv1.DeploymentList] {
			return cs.AppsV1().Deployments(ns)
		})
	bind(KindStatefulSet, true, func() *appsv1.StatefulSet { return &appsv1.StatefulSet{} },
		func(cs kubernetes.Interface, ns string) typedClient[*appsv1.StatefulSet, *appsv1.StatefulSetList] {
			return cs.AppsV1().StatefulSets(ns)
		})
	bind(KindDaemonSet, true, func() *appsv1.DaemonSet { return &appsv1.DaemonSet{} },
		func(cs kubernetes.Interface, ns string) typedClient[*appsv1.DaemonSet, *appsv1.DaemonSetList] {
			return cs.AppsV1().DaemonSets(ns)
		})
	bind(KindIngress, true, func() *networkingv1.Ingress { return &networkingv1.Ingress{} },
		func(cs kubernetes.Interface, ns string) typedClient[*networkingv1.Ingress, *networkingv1.IngressList] {
			return cs.NetworkingV1().Ingresses(ns)
		})
}

// SupportedKinds lists the bound resource kinds in name order
func SupportedKinds() []ResourceKind {
	kinds := make([]ResourceKind, 0, len(namespaced))
	for k := range namespaced {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IsNamespaced reports whether kind lives inside a namespace
func IsNamespaced(kind ResourceKind) bool {
	return namespaced[kind]
}

func decodeBody[T runtime.Object](c call, obj T) (T, error) {
	if len(c.req.Body) == 0 {
		return obj, &requestError{msg: fmt.Sprintf("%s requires a body", c.req.Action)}
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(c.req.Body, obj); err != nil {
		return obj, &requestError{msg: "body does not match " + string(c.req.Kind), cause: err}
	}

	accessor, err := meta.Accessor(obj)
	if err != nil {
		return obj, err
	}
	if accessor.GetName() == "" {
		accessor.SetName(c.req.Name)
	}
	if c.namespace != "" && accessor.GetNamespace() == "" {
		accessor.SetNamespace(c.namespace)
	}
	return obj, nil
}

func objectResult(obj runtime.Object) (*Result, error) {
	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, err
	}
	return &Result{Object: u}, nil
}

func listItems(list runtime.Object) ([]map[string]interface{}, error) {
	objs, err := meta.ExtractList(list)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]interface{}, 0, len(objs))
	for _, o := range objs {
		u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(o)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, nil
}
