package services

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ijonas/omikuji/internal/utils"
)

// interval at which the checker re-polls every registered service.
const interval = 15 * time.Second

type (
	// Checker polls all registered Checkables on a fixed interval and caches
	// the most recent results for the health endpoint.
	Checker interface {
		Register(name string, service Checkable) error
		Unregister(name string) error

		IsReady() (ready bool, errors map[string]error)
		IsHealthy() (healthy bool, errors map[string]error)

		Start() error
		Close() error
	}

	checker struct {
		srvMutex   sync.RWMutex
		services   map[string]Checkable
		stateMutex sync.RWMutex
		healthy    map[string]error
		ready      map[string]error

		chStop chan struct{}
		chDone chan struct{}

		utils.StartStopOnce
	}
)

func NewChecker() Checker {
	return &checker{
		services: make(map[string]Checkable, 8),
		healthy:  make(map[string]error, 8),
		ready:    make(map[string]error, 8),
		chStop:   make(chan struct{}),
		chDone:   make(chan struct{}),
	}
}

func (c *checker) Start() error {
	return c.StartOnce("HealthCheck", func() error {
		// update immediately, so a query before the first tick sees real state
		c.update()

		go c.run()

		return nil
	})
}

func (c *checker) Close() error {
	return c.StopOnce("HealthCheck", func() error {
		close(c.chStop)
		<-c.chDone
		return nil
	})
}

func (c *checker) run() {
	defer close(c.chDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.update()
		case <-c.chStop:
			return
		}
	}
}

func (c *checker) update() {
	healthy := make(map[string]error)
	ready := make(map[string]error)

	c.srvMutex.RLock()
	for name, s := range c.services {
		ready[name] = s.Ready()
		healthy[name] = s.Healthy()
	}
	c.srvMutex.RUnlock()

	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.healthy = healthy
	c.ready = ready
}

func (c *checker) Register(name string, service Checkable) error {
	if service == nil || name == "" {
		return errors.Errorf("misconfigured health check: %#v", service)
	}

	c.srvMutex.Lock()
	defer c.srvMutex.Unlock()
	c.services[name] = service
	return nil
}

func (c *checker) Unregister(name string) error {
	if name == "" {
		return errors.Errorf("name cannot be empty")
	}

	c.srvMutex.Lock()
	defer c.srvMutex.Unlock()
	delete(c.services, name)
	return nil
}

func (c *checker) IsReady() (ready bool, errs map[string]error) {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()

	ready = true
	errs = make(map[string]error, len(c.ready))

	for name, state := range c.ready {
		errs[name] = state
		if state != nil {
			ready = false
		}
	}
	return
}

func (c *checker) IsHealthy() (healthy bool, errs map[string]error) {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()

	healthy = true
	errs = make(map[string]error, len(c.healthy))

	for name, state := range c.healthy {
		errs[name] = state
		if state != nil {
			healthy = false
		}
	}
	return
}
