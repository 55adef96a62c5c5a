package stockmaster

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/gateway"
	"github.com/odyssey-erp/fiscalbridge/internal/payload"
)

// Endpoint receives the remaining quantity of an item.
const Endpoint = "/stockMaster/saveStockMaster"

// Report counts what a push achieved.
type Report struct {
	Pushed  int `json:"pushed"`
	Pending int `json:"pending"`
}

// Publisher queues item levels and pushes them to the gateway.
type Publisher struct {
	tenant  fiscal.Tenant
	pending Pending
	sender  gateway.Sender
	logger  *slog.Logger

	// pushes are serialized so an older level never lands after a newer one.
	mu sync.Mutex
}

// NewPublisher constructs the publisher.
func NewPublisher(tenant fiscal.Tenant, pending Pending, sender gateway.Sender, logger *slog.Logger) (*Publisher, error) {
	if pending == nil || sender == nil {
		return nil, errors.New("stockmaster: pending store and sender are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{tenant: tenant, pending: pending, sender: sender, logger: logger}, nil
}

// Levels extracts the item balances a stock movement reports. The last line
// of an item wins.
func Levels(doc fiscal.Document) []Level {
	if doc.Class != fiscal.ClassStockMovement {
		return nil
	}
	var out []Level
	index := make(map[string]int)
	for _, line := range doc.Lines {
		if line.Balance == nil || line.ItemCode == "" {
			continue
		}
		l := Level{ItemCode: line.ItemCode, Remaining: *line.Balance, Actor: doc.Actor, At: doc.PostedAt, Source: doc.ID}
		if i, ok := index[line.ItemCode]; ok {
			out[i] = l
			continue
		}
		index[line.ItemCode] = len(out)
		out = append(out, l)
	}
	return out
}

// Publish queues the balances of an acknowledged stock movement, then pushes
// everything queued.
func (p *Publisher) Publish(ctx context.Context, doc fiscal.Document) (Report, error) {
	levels := Levels(doc)
	if len(levels) == 0 {
		return Report{}, nil
	}
	if err := p.pending.Put(ctx, levels...); err != nil {
		return Report{}, err
	}
	return p.Flush(ctx)
}

// Flush pushes every queued level. Levels the gateway does not accept stay
// queued.
func (p *Publisher) Flush(ctx context.Context) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	levels, err := p.pending.List(ctx)
	if err != nil {
		return Report{}, err
	}
	var report Report
	for _, l := range levels {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		body, err := payload.StockMaster(p.tenant, l.ItemCode, l.Remaining, l.Actor)
		if err != nil {
			return report, err
		}
		out := p.sender.Send(ctx, Endpoint, body)
		if out.Kind != gateway.Acknowledged {
			report.Pending++
			p.logger.WarnContext(ctx, "stock master not accepted, left queued",
				slog.String("item", l.ItemCode),
				slog.String("source", l.Source),
				slog.String("outcome", out.Kind.String()),
				slog.String("detail", out.Detail()),
			)
			continue
		}
		if err := p.pending.Clear(ctx, l); err != nil {
			return report, err
		}
		report.Pushed++
	}
	return report, nil
}
