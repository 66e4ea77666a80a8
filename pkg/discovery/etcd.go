// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discovery

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry registers each active thread as a lease-backed key so a
// crashed process's threads are reaped when its lease expires.
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
	ttl    int64
}

// NewEtcdRegistry builds an EtcdRegistry against the given endpoints.
func NewEtcdRegistry(endpoints []string, prefix string, ttl time.Duration) (*EtcdRegistry, error) {
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("discovery: etcd client: %w", err)
	}
	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 30
	}
	return &EtcdRegistry{client: client, prefix: prefix, ttl: ttlSeconds}, nil
}

func (r *EtcdRegistry) Register(ctx context.Context, threadID string) (func(context.Context) error, error) {
	lease, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("discovery: grant etcd lease: %w", err)
	}

	keepAliveCh, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return nil, fmt.Errorf("discovery: etcd keepalive: %w", err)
	}
	go func() {
		for range keepAliveCh {
		}
	}()

	key := r.prefix + "/" + threadID
	if _, err := r.client.Put(ctx, key, threadID, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("discovery: put etcd key: %w", err)
	}

	release := func(ctx context.Context) error {
		_, err := r.client.Delete(ctx, key)
		r.client.Revoke(ctx, lease.ID)
		return err
	}
	return release, nil
}

func (r *EtcdRegistry) ActiveCount(ctx context.Context) (int, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("discovery: etcd count: %w", err)
	}
	return int(resp.Count), nil
}
