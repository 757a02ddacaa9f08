package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ehrconnect/authz/internal/policy"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/logger"
)

// FeatureService holds the feature permission map loaded from the policy
// document. It is constructed and injected; nothing reads it globally.
type FeatureService struct {
	source policy.Source
	logger *logger.Logger

	mu       sync.RWMutex
	features permission.FeatureMap
	hash     string
	loadedAt time.Time
}

// NewFeatureService creates a FeatureService. Call Refresh before serving.
func NewFeatureService(source policy.Source, log *logger.Logger) *FeatureService {
	return &FeatureService{
		source:   source,
		logger:   log.With("service", "feature"),
		features: permission.FeatureMap{},
	}
}

// Refresh reloads the map. It reports whether the document changed.
// On error the previous map stays in place.
func (s *FeatureService) Refresh(ctx context.Context) (bool, error) {
	doc, err := s.source.Load(ctx)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, errors.New("policy source returned no document")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.Hash != "" && doc.Hash == s.hash {
		return false, nil
	}
	s.features = doc.Features.Clone()
	s.hash = doc.Hash
	s.loadedAt = time.Now().UTC()
	s.logger.Info("feature map loaded", "features", len(s.features), "version", s.hash)
	return true, nil
}

// Features returns a copy of the current map.
func (s *FeatureService) Features() permission.FeatureMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features.Clone()
}

// Version returns the hash of the loaded document.
func (s *FeatureService) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

// Allows reports whether held unlocks key. Undeclared features are allowed.
func (s *FeatureService) Allows(held []permission.Permission, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features.Allows(held, key)
}
