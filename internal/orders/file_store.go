package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/atomicfile"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/spf13/afero"
)

// FileStore keeps every order in a single JSON document replaced atomically on
// each write. The mutex serializes writers inside one process only.
type FileStore struct {
	fs   afero.Fs
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the document at path.
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem required")
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("orders file path required")
	}
	return &FileStore{fs: fs, path: path, now: time.Now}, nil
}

func (s *FileStore) Create(ctx context.Context, in *Order) (*Order, error) {
	order, err := prepareNew(in, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	doc[order.OrderID] = order
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return order.clone(), nil
}

func (s *FileStore) Get(ctx context.Context, orderID string) (*Order, error) {
	if err := requireOrderID(orderID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	order, ok := doc[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.clone(), nil
}

func (s *FileStore) UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error) {
	return s.mutate(orderID, func(order *Order, now time.Time) (bool, error) {
		return applyStatus(order, status, false, now)
	})
}

func (s *FileStore) ForceStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error) {
	return s.mutate(orderID, func(order *Order, now time.Time) (bool, error) {
		return applyStatus(order, status, true, now)
	})
}

func (s *FileStore) UpdateProvider(ctx context.Context, orderID, provider, paymentID, invoiceURL string) (*Order, error) {
	return s.mutate(orderID, func(order *Order, now time.Time) (bool, error) {
		return applyProvider(order, provider, paymentID, invoiceURL, now), nil
	})
}

// List returns every order, oldest first.
func (s *FileStore) List(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(doc))
	for _, order := range doc {
		out = append(out, *order.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) mutate(orderID string, fn func(*Order, time.Time) (bool, error)) (*Order, error) {
	if err := requireOrderID(orderID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	order, ok := doc[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	changed, err := fn(order, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return order.clone(), nil
	}
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return order.clone(), nil
}

func (s *FileStore) load() (map[string]*Order, error) {
	data, ok, err := atomicfile.ReadIfExists(s.fs, s.path)
	if err != nil {
		return nil, err
	}
	doc := map[string]*Order{}
	if !ok || len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string]*Order) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}
	return atomicfile.Write(s.fs, s.path, data)
}
