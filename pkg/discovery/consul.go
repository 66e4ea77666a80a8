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

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulRegistry registers each active thread as an ephemeral KV entry
// under prefix, backed by a session TTL so a crashed process's threads
// age out automatically.
type ConsulRegistry struct {
	client  *consulapi.Client
	prefix  string
	ttl     time.Duration
}

// NewConsulRegistry builds a ConsulRegistry against addr (e.g.
// "127.0.0.1:8500"), namespacing keys under prefix.
func NewConsulRegistry(addr, prefix string, ttl time.Duration) (*ConsulRegistry, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: consul client: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ConsulRegistry{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context, threadID string) (func(context.Context) error, error) {
	sessionID, _, err := r.client.Session().Create(&consulapi.SessionEntry{
		Name: "cortex-subagent-" + threadID,
		TTL:  r.ttl.String(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: create consul session: %w", err)
	}

	key := r.prefix + "/" + threadID
	acquired, _, err := r.client.KV().Acquire(&consulapi.KVPair{Key: key, Value: []byte(threadID), Session: sessionID}, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: acquire consul key: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("discovery: thread key %q already registered", key)
	}

	release := func(context.Context) error {
		_, err := r.client.KV().Delete(key, nil)
		r.client.Session().Destroy(sessionID, nil)
		return err
	}
	return release, nil
}

func (r *ConsulRegistry) ActiveCount(context.Context) (int, error) {
	pairs, _, err := r.client.KV().List(r.prefix, nil)
	if err != nil {
		return 0, fmt.Errorf("discovery: list consul keys: %w", err)
	}
	return len(pairs), nil
}
