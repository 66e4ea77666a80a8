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
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKRegistry registers each active thread as an ephemeral znode, so a
// crashed process's threads disappear with its session.
type ZKRegistry struct {
	conn   *zk.Conn
	prefix string
}

// NewZKRegistry connects to the given Zookeeper ensemble and ensures
// prefix exists as a persistent parent znode.
func NewZKRegistry(servers []string, prefix string) (*ZKRegistry, error) {
	conn, _, err := zk.Connect(servers, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("discovery: zk connect: %w", err)
	}
	r := &ZKRegistry{conn: conn, prefix: strings.TrimSuffix(prefix, "/")}
	if err := r.ensurePath(r.prefix); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *ZKRegistry) ensurePath(path string) error {
	exists, _, err := r.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("discovery: zk exists %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = r.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("discovery: zk create %s: %w", path, err)
	}
	return nil
}

func (r *ZKRegistry) Register(_ context.Context, threadID string) (func(context.Context) error, error) {
	path := r.prefix + "/" + threadID
	_, err := r.conn.Create(path, []byte(threadID), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("discovery: zk create ephemeral %s: %w", path, err)
	}
	release := func(context.Context) error {
		return r.conn.Delete(path, -1)
	}
	return release, nil
}

func (r *ZKRegistry) ActiveCount(context.Context) (int, error) {
	children, _, err := r.conn.Children(r.prefix)
	if err != nil {
		return 0, fmt.Errorf("discovery: zk children: %w", err)
	}
	return len(children), nil
}
