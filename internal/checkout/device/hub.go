package device

import (
	"context"
	"time"
)

type Drawer interface {
	Open(ctx context.Context, orderID, reason string) error
}

type PoleDisplay interface {
	Show(ctx context.Context, msg DisplayMessage) error
}

type Printer interface {
	Print(ctx context.Context, r Receipt) error
}

// Timeouts bound a single attempt per device.
type Timeouts struct {
	Drawer  time.Duration
	Display time.Duration
	Print   time.Duration
}

// Hub turns device requests into queued tasks. A nil collaborator means the
// device is not installed on this till and requests for it are ignored.
type Hub struct {
	queue    *Queue
	drawer   Drawer
	display  PoleDisplay
	printer  Printer
	timeouts Timeouts
}

func NewHub(q *Queue, drawer Drawer, display PoleDisplay, printer Printer, t Timeouts) *Hub {
	return &Hub{queue: q, drawer: drawer, display: display, printer: printer, timeouts: t}
}

// OpenDrawer reports whether the request was queued.
func (h *Hub) OpenDrawer(orderID, reason string) bool {
	if h == nil || h.drawer == nil {
		return false
	}
	return h.queue.Enqueue(Task{
		Device:  KindDrawer,
		OrderID: orderID,
		Timeout: h.timeouts.Drawer,
		Run: func(ctx context.Context) error {
			return h.drawer.Open(ctx, orderID, reason)
		},
	})
}

func (h *Hub) Display(msg DisplayMessage) bool {
	if h == nil || h.display == nil {
		return false
	}
	return h.queue.Enqueue(Task{
		Device:  KindPoleDisplay,
		OrderID: msg.OrderID,
		Timeout: h.timeouts.Display,
		Run: func(ctx context.Context) error {
			return h.display.Show(ctx, msg)
		},
	})
}

func (h *Hub) Print(r Receipt) bool {
	if h == nil || h.printer == nil {
		return false
	}
	return h.queue.Enqueue(Task{
		Device:  KindPrinter,
		OrderID: r.OrderID,
		Timeout: h.timeouts.Print,
		Run: func(ctx context.Context) error {
			return h.printer.Print(ctx, r)
		},
	})
}
