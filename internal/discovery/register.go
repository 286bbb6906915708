// Package discovery registers the session server with Consul so a load
// balancer can find healthy instances.
package discovery

import (
	"fmt"
	"os"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

const ServiceName = "tombala"

type Registration struct {
	client    *consul.Client
	serviceID string
	log       *zap.Logger
}

// registration builds the agent registration with an HTTP check on /healthz.
func registration(host string, port int) *consul.AgentServiceRegistration {
	return &consul.AgentServiceRegistration{
		ID:   fmt.Sprintf("%s-%s-%d", ServiceName, host, port),
		Name: ServiceName,
		Port: port,
		Tags: []string{"ws", "http"},
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/healthz", host, port),
			Timeout:                        "5s",
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

// Register announces this instance on the Consul agent at addr.
func Register(addr string, port int, log *zap.Logger) (*Registration, error) {
	if log == nil {
		log = zap.NewNop()
	}
	config := consul.DefaultConfig()
	if addr != "" {
		config.Address = addr
	}
	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	reg := registration(hostname, port)
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return nil, fmt.Errorf("register %s in consul: %w", reg.ID, err)
	}
	log.Info("registered in consul", zap.String("id", reg.ID))
	return &Registration{client: client, serviceID: reg.ID, log: log}, nil
}

func (r *Registration) Deregister() error {
	if err := r.client.Agent().ServiceDeregister(r.serviceID); err != nil {
		return fmt.Errorf("deregister %s: %w", r.serviceID, err)
	}
	r.log.Info("deregistered from consul", zap.String("id", r.serviceID))
	return nil
}
