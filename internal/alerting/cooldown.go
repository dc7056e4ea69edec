package alerting

import (
	"sync"
	"time"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// CooldownManager suppresses repeated alerts for the same service and type
// within a window.
type CooldownManager struct {
	mu        sync.RWMutex
	cooldowns map[string]time.Time
}

// NewCooldownManager creates a new cooldown manager.
func NewCooldownManager() *CooldownManager {
	return &CooldownManager{
		cooldowns: make(map[string]time.Time),
	}
}

func cooldownKey(serviceName string, alertType models.AlertType) string {
	return serviceName + "|" + string(alertType)
}

// IsOnCooldown checks if the pair is currently on cooldown.
func (cm *CooldownManager) IsOnCooldown(serviceName string, alertType models.AlertType, now time.Time) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	expiresAt, ok := cm.cooldowns[cooldownKey(serviceName, alertType)]
	if !ok {
		return false
	}
	return now.Before(expiresAt)
}

// SetCooldown starts a cooldown for the pair.
func (cm *CooldownManager) SetCooldown(serviceName string, alertType models.AlertType, duration time.Duration, now time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cooldowns[cooldownKey(serviceName, alertType)] = now.Add(duration)
}

// Prune drops expired entries.
func (cm *CooldownManager) Prune(now time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for k, exp := range cm.cooldowns {
		if !now.Before(exp) {
			delete(cm.cooldowns, k)
		}
	}
}

// Len returns the number of tracked pairs, expired or not.
func (cm *CooldownManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.cooldowns)
}
