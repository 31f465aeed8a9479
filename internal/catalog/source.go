// ABOUTME: DataSource contract for catalog items and booking requests
// ABOUTME: Includes the in-memory MockDataSource used for local runs and tests

package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Item is a product or service offered by the business
type Item struct {
	ID    string
	Name  string
	Price int
	Type  string
}

// Request is a booking/order request created by the assisted flow
type Request struct {
	ID     string
	User   string
	Data   map[string]string
	Status string // pending, confirmed
}

// DataSource defines generic data operations for assisted/autonomous flows
type DataSource interface {
	// GetItems returns the catalog of items (products/services)
	GetItems(ctx context.Context) ([]Item, error)

	// GetItemByID returns one item, or nil when it doesn't exist
	GetItemByID(ctx context.Context, itemID string) (*Item, error)

	// CheckAvailability reports item availability for an optional datetime slot
	CheckAvailability(ctx context.Context, itemID, datetime string) (bool, error)

	// CreateRequest creates a booking/order request with status pending
	CreateRequest(ctx context.Context, user string, data map[string]string) (*Request, error)

	// ConfirmRequest confirms a previously created request
	ConfirmRequest(ctx context.Context, requestID string) (*Request, error)
}

// MockDataSource is an in-memory data source with a canned catalog and a
// sequential request counter.
type MockDataSource struct {
	mu       sync.Mutex
	items    []Item
	requests map[string]*Request
	sequence int
}

// NewMockDataSource creates a MockDataSource with the default catalog
func NewMockDataSource() *MockDataSource {
	return &MockDataSource{
		items: []Item{
			{ID: "1", Name: "Consulta Inicial", Price: 50, Type: "service"},
			{ID: "2", Name: "Plan Premium", Price: 120, Type: "service"},
			{ID: "3", Name: "Sesion de Seguimiento", Price: 80, Type: "meeting"},
		},
		requests: make(map[string]*Request),
	}
}

// GetItems returns the catalog
func (m *MockDataSource) GetItems(ctx context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]Item, len(m.items))
	copy(items, m.items)
	return items, nil
}

// GetItemByID returns one item, or nil when it doesn't exist
func (m *MockDataSource) GetItemByID(ctx context.Context, itemID string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.ID == itemID {
			result := item
			return &result, nil
		}
	}
	return nil, nil
}

// CheckAvailability always reports availability; there is no real calendar
func (m *MockDataSource) CheckAvailability(ctx context.Context, itemID, datetime string) (bool, error) {
	return true, nil
}

// CreateRequest creates a pending request with a sequential id
func (m *MockDataSource) CreateRequest(ctx context.Context, user string, data map[string]string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	req := &Request{
		ID:     strconv.Itoa(m.sequence),
		User:   user,
		Data:   data,
		Status: "pending",
	}
	m.requests[req.ID] = req
	return req, nil
}

// ConfirmRequest confirms a previously created request
func (m *MockDataSource) ConfirmRequest(ctx context.Context, requestID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %q not found", requestID)
	}
	req.Status = "confirmed"
	return req, nil
}

// GetRequest returns one request by id; helper for tests, not part of DataSource
func (m *MockDataSource) GetRequest(requestID string) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.requests[requestID]
}

// Ensure MockDataSource implements DataSource
var _ DataSource = (*MockDataSource)(nil)
