package discovery

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/modelmesh/fleetgate/pkg/types"
)

// ClusterSource lists the ready addresses behind a Kubernetes Service's
// Endpoints object and turns each into a worker. It polls on demand rather
// than watching, matching the rest of fleetgate's "snapshot when asked"
// discovery contract.
type ClusterSource struct {
	client      kubernetes.Interface
	namespace   string
	serviceName string
	portName    string
}

// NewClusterSource builds a ClusterSource from kubeconfigPath when it is set
// (for running fleetgate outside the cluster it routes to), and from
// in-cluster config otherwise.
func NewClusterSource(kubeconfigPath, namespace, serviceName, portName string) (*ClusterSource, error) {
	cfg, err := loadKubeConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to load kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to build kubernetes client: %w", err)
	}

	return &ClusterSource{
		client:      clientset,
		namespace:   namespace,
		serviceName: serviceName,
		portName:    portName,
	}, nil
}

func loadKubeConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}

// Snapshot implements Source by listing the named Endpoints object and
// flattening its ready addresses into workers. Addresses under
// NotReadyAddresses are skipped; fleetgate relies on its own health probes
// once a worker is discovered, so this is a coarse "exists and is routable"
// filter, not a substitute for probing.
func (c *ClusterSource) Snapshot(ctx context.Context) ([]types.Worker, error) {
	ep, err := c.client.CoreV1().Endpoints(c.namespace).Get(ctx, c.serviceName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to get endpoints %s/%s: %w", c.namespace, c.serviceName, err)
	}

	var workers []types.Worker
	for _, subset := range ep.Subsets {
		port, ok := findPort(subset.Ports, c.portName)
		if !ok {
			continue
		}
		for _, addr := range subset.Addresses {
			workers = append(workers, types.Worker{
				ID:   types.NewWorkerID(addr.IP, port),
				Host: addr.IP,
				Port: port,
			})
		}
	}
	return workers, nil
}

func findPort(ports []corev1.EndpointPort, name string) (int, bool) {
	if len(ports) == 0 {
		return 0, false
	}
	if name == "" {
		return int(ports[0].Port), true
	}
	for _, p := range ports {
		if p.Name == name {
			return int(p.Port), true
		}
	}
	return 0, false
}
