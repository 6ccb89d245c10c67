package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidAsset is returned when an asset is missing required fields
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrDuplicateSerial is returned when a serial is already registered
	ErrDuplicateSerial = errors.New("serial already registered")
)

// IDGenerator generates unique IDs for assets
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles inventory operations
type Service struct {
	store       Store
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID IDs and the wall clock
func NewService(store Store) *Service {
	return &Service{
		store:       store,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// AddAsset registers a new asset under a unique serial
func (s *Service) AddAsset(serialNumber, name, location string) (*Asset, error) {
	serialNumber = strings.ToUpper(strings.TrimSpace(serialNumber))
	name = strings.TrimSpace(name)
	if serialNumber == "" {
		return nil, fmt.Errorf("%w: serial is required", ErrInvalidAsset)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAsset)
	}

	existing, err := s.store.FindBySerial(serialNumber)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s (asset %s)", ErrDuplicateSerial, serialNumber, existing.ID)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("checking serial: %w", err)
	}

	now := s.timeSource.Now()
	asset := &Asset{
		ID:        s.idGenerator.Generate(),
		Serial:    serialNumber,
		Name:      name,
		Location:  strings.TrimSpace(location),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveAsset(asset); err != nil {
		return nil, fmt.Errorf("saving asset: %w", err)
	}
	slog.Info("Registered asset", "id", asset.ID, "serial", asset.Serial)
	return asset, nil
}

// GetAsset retrieves an asset by ID
func (s *Service) GetAsset(id string) (*Asset, error) {
	asset, err := s.store.GetAsset(id)
	if err != nil {
		return nil, fmt.Errorf("getting asset: %w", err)
	}
	return asset, nil
}

// ListAssets returns all assets
func (s *Service) ListAssets() ([]*Asset, error) {
	assets, err := s.store.ListAssets()
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	return assets, nil
}

// DeleteAsset removes an asset
func (s *Service) DeleteAsset(id string) error {
	if err := s.store.DeleteAsset(id); err != nil {
		return fmt.Errorf("deleting asset: %w", err)
	}
	return nil
}

// FindBySerial returns the asset registered under code. A miss wraps ErrNotFound.
func (s *Service) FindBySerial(code string) (*Asset, error) {
	return s.store.FindBySerial(code)
}

// MarkVerified records that the asset was found during a scan
func (s *Service) MarkVerified(id string) (*Asset, error) {
	asset, err := s.store.MarkVerified(id, s.timeSource.Now())
	if err != nil {
		return nil, fmt.Errorf("marking asset verified: %w", err)
	}
	slog.Info("Asset verified", "id", asset.ID, "serial", asset.Serial)
	return asset, nil
}
