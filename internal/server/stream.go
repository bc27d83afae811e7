package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/shopbook/ledger/internal/notify"
)

const heartbeatInterval = 15 * time.Second

// subscribeBill streams post-commit bill snapshots as Server-Sent
// Events. The current state is sent first, then one event per commit in
// commit order.
func (s *Server) subscribeBill(c *fiber.Ctx) error {
	billID := c.Params("id")
	bill, err := s.processor.GetBill(c.UserContext(), billID)
	if err != nil {
		return err
	}

	initial := notify.Event{Topic: notify.BillTopic(billID), Bill: bill}
	return s.stream(c, notify.BillTopic(billID), initial)
}

// subscribeCustomer streams customer rollup snapshots, one per commit
// touching any of the customer's bills.
func (s *Server) subscribeCustomer(c *fiber.Ctx) error {
	customerID := c.Params("id")
	customer, err := s.processor.GetCustomer(c.UserContext(), customerID)
	if err != nil {
		return err
	}

	initial := notify.Event{Topic: notify.CustomerTopic(customerID), Customer: customer}
	return s.stream(c, notify.CustomerTopic(customerID), initial)
}

func (s *Server) stream(c *fiber.Ctx, topic string, initial notify.Event) error {
	// Subscribe before sending the initial snapshot so no commit can
	// fall between the two.
	events, cancel := s.notifier.Subscribe(topic)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeEvent(w, initial); err != nil {
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return // cancelled or dropped as a slow consumer
				}
				if err := writeEvent(w, ev); err != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
