// Package customer is the entity lookup collaborator. The directory is a
// stand-in for a customer master system: it knows every id it is asked
// about and makes up a display name for it.
package customer

import (
	"context"

	"github.com/google/uuid"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/model"
)

// NamePrefix starts every synthesized customer name.
const NamePrefix = "Customer-"

// Directory returns one customer per distinct requested id.
type Directory struct {
	newName func() string
}

// Option configures a Directory.
type Option func(*Directory)

// WithNameFunc replaces the name generator.
func WithNameFunc(fn func() string) Option {
	return func(d *Directory) { d.newName = fn }
}

// NewDirectory creates a Directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{newName: randomName}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func randomName() string {
	return NamePrefix + uuid.NewString()[:8]
}

// Fetch returns customers for ids in request order. Repeated ids yield a
// single customer. An empty list yields an empty result.
func (d *Directory) Fetch(ctx context.Context, ids []string) ([]model.Customer, error) {
	logger := ctxlog.FromContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		logger.Debug("Customer lookup called without ids.")
		return []model.Customer{}, nil
	}

	seen := make(map[string]struct{}, len(ids))
	customers := make([]model.Customer, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c := model.Customer{CustomerID: id, CustomerName: d.newName()}
		customers = append(customers, c)
		logger.Debug("Created customer.", "customer_id", c.CustomerID, "customer_name", c.CustomerName)
	}

	logger.Info("Retrieved customers.", "count", len(customers))
	return customers, nil
}
