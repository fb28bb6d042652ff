package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	consul "github.com/hashicorp/consul/api"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// retryDelay spaces out watch re-establishment after a remote error.
const retryDelay = 2 * time.Second

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ConsulProvider reads the config from a consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	key    string
	client *consul.Client
}

// NewConsulProvider connects to the first endpoint (or the consul default).
func NewConsulProvider(opts ProviderConfig) (*ConsulProvider, error) {
	cfg := consul.DefaultConfig()
	if len(opts.Endpoints) > 0 {
		cfg.Address = opts.Endpoints[0]
	}
	cfg.WaitTime = 5 * time.Minute

	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{key: opts.Path, client: client}, nil
}

func (p *ConsulProvider) Type() Type { return TypeConsul }

func (p *ConsulProvider) get(ctx context.Context, waitIndex uint64) ([]byte, uint64, error) {
	q := (&consul.QueryOptions{WaitIndex: waitIndex}).WithContext(ctx)
	pair, meta, err := p.client.KV().Get(p.key, q)
	if err != nil {
		return nil, 0, fmt.Errorf("consul get %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, meta.LastIndex, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, meta.LastIndex, nil
}

func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.get(ctx, 0)
	return data, err
}

func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	_, index, err := p.get(ctx, 0)
	if err != nil {
		return nil, err
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			_, next, err := p.get(ctx, index)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Consul watch failed, retrying", "key", p.key, "error", err)
				if !sleepCtx(ctx, retryDelay) {
					return
				}
				continue
			}
			if next != index {
				index = next
				notify(ch)
			}
		}
	}()
	return ch, nil
}

func (p *ConsulProvider) Close() error { return nil }

// EtcdProvider reads the config from an etcd key and watches it.
type EtcdProvider struct {
	key    string
	client *clientv3.Client
}

// NewEtcdProvider dials the endpoints.
func NewEtcdProvider(opts ProviderConfig) (*EtcdProvider, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdProvider{key: opts.Path, client: client}, nil
}

func (p *EtcdProvider) Type() Type { return TypeEtcd }

func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	wch := p.client.Watch(ctx, p.key)

	go func() {
		defer close(ch)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				slog.Warn("Etcd watch error", "key", p.key, "error", err)
				continue
			}
			if len(resp.Events) > 0 {
				notify(ch)
			}
		}
	}()
	return ch, nil
}

func (p *EtcdProvider) Close() error { return p.client.Close() }

// ZookeeperProvider reads the config from a znode and watches it.
type ZookeeperProvider struct {
	path string

	mu   sync.Mutex
	conn *zk.Conn
}

// NewZookeeperProvider connects to the ensemble.
func NewZookeeperProvider(opts ProviderConfig) (*ZookeeperProvider, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	conn, _, err := zk.Connect(opts.Endpoints, opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{path: opts.Path, conn: conn}, nil
}

func (p *ZookeeperProvider) Type() Type { return TypeZookeeper }

func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			_, _, events, err := p.conn.GetW(p.path)
			if err != nil {
				slog.Warn("Zookeeper watch failed, retrying", "path", p.path, "error", err)
				if !sleepCtx(ctx, retryDelay) {
					return
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev.Type {
				case zk.EventNodeDataChanged, zk.EventNodeCreated:
					notify(ch)
				case zk.EventNodeDeleted:
					slog.Warn("Zookeeper config node deleted", "path", p.path)
				}
			}
		}
	}()
	return ch, nil
}

func (p *ZookeeperProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

var (
	_ Provider = (*ConsulProvider)(nil)
	_ Provider = (*EtcdProvider)(nil)
	_ Provider = (*ZookeeperProvider)(nil)
)
