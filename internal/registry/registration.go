// Package registry publishes running service instances to etcd so
// operators can see which tiers are alive. Registration is optional and
// nothing on the query path ever reads it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
)

const keyPrefix = "/queryrelay/services"

// InstanceInfo is the payload stored per registered instance
type InstanceInfo struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Address   string    `json:"address"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServiceRegistration keeps one service instance visible in etcd for as
// long as the process holds its lease
type ServiceRegistration struct {
	etcdClient *clientv3.Client
	leaseID    clientv3.LeaseID
	ttl        time.Duration
	info       InstanceInfo
	logger     *logging.Logger
}

// NewServiceRegistration connects to etcd and prepares a registration
// for the named service
func NewServiceRegistration(cfg config.RegistryConfig, service, address string, logger *logging.Logger) (*ServiceRegistration, error) {
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: cfg.Etcd.DialTimeout,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	now := time.Now()
	return &ServiceRegistration{
		etcdClient: etcdClient,
		ttl:        cfg.TTL,
		info: InstanceInfo{
			ID:        uuid.New().String(),
			Service:   service,
			Address:   address,
			StartedAt: now,
			UpdatedAt: now,
		},
		logger: logger,
	}, nil
}

// Register writes the instance record under a lease and starts the
// keep-alive loop
func (r *ServiceRegistration) Register(ctx context.Context) error {
	ttlSeconds := int64(r.ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	lease, err := r.etcdClient.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	r.leaseID = lease.ID

	r.info.UpdatedAt = time.Now()
	data, err := json.Marshal(r.info)
	if err != nil {
		return fmt.Errorf("failed to marshal instance info: %w", err)
	}

	if _, err := r.etcdClient.Put(ctx, r.key(), string(data), clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	r.logger.Info("Service instance registered",
		"service", r.info.Service,
		"instance_id", r.info.ID,
		"address", r.info.Address,
		"lease_id", int64(r.leaseID),
	)

	go r.keepAlive(ctx)
	return nil
}

// Deregister removes the instance record and closes the etcd client
func (r *ServiceRegistration) Deregister(ctx context.Context) error {
	if _, err := r.etcdClient.Delete(ctx, r.key()); err != nil {
		r.logger.Warn("Failed to remove instance record", "error", err)
	}
	return r.etcdClient.Close()
}

func (r *ServiceRegistration) key() string {
	return fmt.Sprintf("%s/%s/%s", keyPrefix, r.info.Service, r.info.ID)
}

// keepAlive maintains the lease by sending heartbeats
func (r *ServiceRegistration) keepAlive(ctx context.Context) {
	ch, err := r.etcdClient.KeepAlive(ctx, r.leaseID)
	if err != nil {
		r.logger.Error("Failed to start keep-alive", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Keep-alive stopped")
			return

		case ka, ok := <-ch:
			if !ok {
				r.logger.Warn("Keep-alive channel closed, attempting re-registration")
				time.Sleep(2 * time.Second)
				if err := r.Register(context.Background()); err != nil {
					r.logger.Error("Failed to re-register", "error", err)
				}
				return
			}

			if ka == nil {
				r.logger.Warn("Received nil keep-alive response")
				continue
			}

			r.logger.Debug("Heartbeat sent",
				"lease_id", int64(r.leaseID), "ttl", ka.TTL)
		}
	}
}
