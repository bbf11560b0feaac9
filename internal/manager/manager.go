package manager

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Manager struct {
	cfg       ManagerConfig
	log       zerolog.Logger
	publisher EventPublisher

	mu     sync.Mutex
	rng    *rand.Rand
	chosen map[string]bool  // ids handed out by this process
	procs  map[string]*proc // kernels started by this process, by id
	active string           // connection file bound to the request channel

	shutdowns singleflight.Group
}

func newManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		publisher: cfg.Publisher,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		chosen:    make(map[string]bool),
		procs:     make(map[string]*proc),
	}
}

// SetActive records the connection file currently bound to the request
// channel. Discover reports its kernel as Connected.
func (m *Manager) SetActive(path string) {
	m.mu.Lock()
	m.active = path
	m.mu.Unlock()
}

// Active returns the connection file set by SetActive or Connect.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close stops every kernel this process started. Kernels found on disk are
// left alone.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if p := m.takeProc(id); p != nil {
			p.stop(m.cfg.ShutdownTimeout)
		}
	}
}

func (m *Manager) takeProc(id string) *proc {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.procs[id]
	delete(m.procs, id)
	return p
}

func (m *Manager) emit(name, kernelID string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, KernelID: kernelID, Fields: fields})
}
