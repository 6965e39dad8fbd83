package storage

import (
	"context"
	"sync"

	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/universe"
)

// Provisioner opens the store when a worker is initialized. A store that
// cannot be opened is reported as db=false rather than as a failure; only a
// missing path with Required set fails initialization.
type Provisioner struct {
	Path     string
	Required bool

	mu    sync.Mutex
	store *Store
}

func (p *Provisioner) Provision(ctx context.Context) (universe.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return universe.Capabilities{}, err
	}
	if p.Path == "" {
		if p.Required {
			return universe.Capabilities{}, ErrPathRequired
		}
		return universe.Capabilities{DB: false}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store != nil {
		return universe.Capabilities{DB: true}, nil
	}
	store, err := Open(p.Path)
	if err != nil {
		logs.Warnf("storage.Provisioner.Provision path=%q unavailable err=%v", p.Path, err)
		return universe.Capabilities{DB: false}, nil
	}
	p.store = store
	logs.Infof("storage.Provisioner.Provision path=%q opened", p.Path)
	return universe.Capabilities{DB: true}, nil
}

// Store returns the opened store, or nil when provisioning has not opened one.
func (p *Provisioner) Store() *Store {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store
}

func (p *Provisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.store.Close()
	p.store = nil
	return err
}
