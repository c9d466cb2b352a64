package adapters

import (
	"context"
	"fmt"
	"net"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"ausfoperator/pkg/core"
)

// SBIPortName is the name under which the SBI port is published on the
// workload Service.
const SBIPortName = "sbi"

// PodIPResolver resolves the workload pod's IPv4 address, preferring the
// value injected through the downward API and falling back to the API
// server.
type PodIPResolver struct {
	client    kubernetes.Interface
	namespace string
	podName   string
	envPodIP  string
}

var _ PodAddressResolver = (*PodIPResolver)(nil)

// NewPodIPResolver builds a resolver for the named pod. envPodIP is the
// downward-API injected address, may be empty.
func NewPodIPResolver(client kubernetes.Interface, namespace, podName, envPodIP string) *PodIPResolver {
	return &PodIPResolver{client: client, namespace: namespace, podName: podName, envPodIP: envPodIP}
}

// CurrentPodAddress returns the pod IPv4 address, or empty while the address
// has not been assigned yet.
func (resolver *PodIPResolver) CurrentPodAddress(ctx context.Context) (string, error) {
	if address := canonicalIPv4(resolver.envPodIP); address != "" {
		return address, nil
	}

	pod, err := resolver.client.CoreV1().Pods(resolver.namespace).Get(ctx, resolver.podName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get pod %s/%s: %w", resolver.namespace, resolver.podName, err)
	}
	return canonicalIPv4(pod.Status.PodIP), nil
}

func canonicalIPv4(raw string) string {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return ""
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		return ipv4.String()
	}
	return ""
}

// ServicePublisher makes sure the workload Service exposes the SBI port.
type ServicePublisher struct {
	client      kubernetes.Interface
	namespace   string
	serviceName string
}

// NewServicePublisher builds a publisher for the named Service.
func NewServicePublisher(client kubernetes.Interface, namespace, serviceName string) *ServicePublisher {
	return &ServicePublisher{client: client, namespace: namespace, serviceName: serviceName}
}

// EnsureSBIPort adds the SBI port to the Service if it is not present yet.
// Idempotent; an already published port is left untouched.
func (publisher *ServicePublisher) EnsureSBIPort(ctx context.Context) error {
	services := publisher.client.CoreV1().Services(publisher.namespace)

	service, err := services.Get(ctx, publisher.serviceName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get service %s/%s: %w", publisher.namespace, publisher.serviceName, err)
	}

	for _, port := range service.Spec.Ports {
		if port.Port == core.SBIPort {
			return nil
		}
	}

	service.Spec.Ports = append(service.Spec.Ports, corev1.ServicePort{
		Name:       SBIPortName,
		Port:       core.SBIPort,
		TargetPort: intstr.FromInt32(core.SBIPort),
	})

	if _, err := services.Update(ctx, service, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update service %s/%s: %w", publisher.namespace, publisher.serviceName, err)
	}
	return nil
}

// EnsureSingleInstance fails when another operator pod with the same label
// is already running. Scaling past one replica is not supported and cannot
// be retried into working, so callers treat this as fatal.
func EnsureSingleInstance(ctx context.Context, client kubernetes.Interface, namespace, labelSelector, selfPodName string) error {
	pods, err := client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return fmt.Errorf("list operator pods: %w", err)
	}

	for _, pod := range pods.Items {
		if pod.Name == selfPodName {
			continue
		}
		if pod.Status.Phase == corev1.PodRunning || pod.Status.Phase == corev1.PodPending {
			return fmt.Errorf("operator pod %s already active: scaling is not supported", pod.Name)
		}
	}
	return nil
}
