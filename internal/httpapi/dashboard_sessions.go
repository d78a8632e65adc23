package httpapi

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
)

const (
	defaultDashboardIdleTimeout     = 30 * time.Minute
	defaultDashboardSessionCapacity = 1024
)

var (
	ErrMissingControllerFactory = errors.New("httpapi: controller factory is required")
	errEmptyDashboardSessionID  = errors.New("httpapi: empty dashboard session id")
)

// ControllerFactory builds a dashboard controller rendering into surface.
type ControllerFactory func(surface dashboard.Surface, options ...dashboard.Option) (*dashboard.Controller, error)

// NewControllerFactory returns a factory whose controllers share client and logger.
func NewControllerFactory(client dashboard.Client, logger *zap.Logger) ControllerFactory {
	return func(surface dashboard.Surface, options ...dashboard.Option) (*dashboard.Controller, error) {
		controllerOptions := append([]dashboard.Option{dashboard.WithLogger(logger)}, options...)
		return dashboard.NewController(client, surface, controllerOptions...)
	}
}

type controllerSession struct {
	operationMutex sync.Mutex
	controller     *dashboard.Controller
	surface        *dashboard.RecordingSurface
	loaded         bool
	lastSeen       time.Time
}

// DashboardSessions keeps one controller per browser session.
// At capacity the least recently seen session makes room for a new one.
type DashboardSessions struct {
	mutex       sync.Mutex
	sessions    map[string]*controllerSession
	factory     ControllerFactory
	idleTimeout time.Duration
	capacity    int
	now         func() time.Time
}

func NewDashboardSessions(factory ControllerFactory, idleTimeout time.Duration, now func() time.Time) (*DashboardSessions, error) {
	if factory == nil {
		return nil, ErrMissingControllerFactory
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultDashboardIdleTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &DashboardSessions{
		sessions:    make(map[string]*controllerSession),
		factory:     factory,
		idleTimeout: idleTimeout,
		capacity:    defaultDashboardSessionCapacity,
		now:         now,
	}, nil
}

// acquire returns the session for sessionID, creating it with preferredProductID when absent.
func (registry *DashboardSessions) acquire(sessionID string, preferredProductID uint) (*controllerSession, error) {
	if sessionID == "" {
		return nil, errEmptyDashboardSessionID
	}
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if existing, found := registry.sessions[sessionID]; found {
		existing.lastSeen = registry.now()
		return existing, nil
	}

	surface := dashboard.NewRecordingSurface(registry.now)
	controller, controllerErr := registry.factory(surface, dashboard.WithPreferredProduct(preferredProductID))
	if controllerErr != nil {
		return nil, controllerErr
	}
	if len(registry.sessions) >= registry.capacity {
		registry.evictLeastRecentLocked()
	}
	created := &controllerSession{controller: controller, surface: surface, lastSeen: registry.now()}
	registry.sessions[sessionID] = created
	return created, nil
}

func (registry *DashboardSessions) evictLeastRecentLocked() {
	oldestID := ""
	var oldestSeen time.Time
	for sessionID, session := range registry.sessions {
		if oldestID == "" || session.lastSeen.Before(oldestSeen) {
			oldestID = sessionID
			oldestSeen = session.lastSeen
		}
	}
	delete(registry.sessions, oldestID)
}

// EvictIdle drops sessions unused for longer than the idle timeout and returns how many were removed.
func (registry *DashboardSessions) EvictIdle() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	cutoff := registry.now().Add(-registry.idleTimeout)
	evicted := 0
	for sessionID, session := range registry.sessions {
		if session.lastSeen.Before(cutoff) {
			delete(registry.sessions, sessionID)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live sessions.
func (registry *DashboardSessions) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.sessions)
}
