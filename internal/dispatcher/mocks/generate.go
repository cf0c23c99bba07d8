//go:generate mockgen -destination=mock_event_bus.go -package=mocks github.com/alejoacosta74/skinport-go/internal/events Bus

package mocks
