package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/shopbook/ledger/internal/config"
	"github.com/shopbook/ledger/internal/ledger"
	"github.com/shopbook/ledger/internal/models"
	"github.com/shopbook/ledger/internal/notify"
	"github.com/shopbook/ledger/internal/storage/memory"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store := memory.New()
	notifier := notify.New()
	processor := ledger.New(store, notifier, ledger.DefaultConfig())
	return New(processor, notifier, config.Config{
		AllowedOrigins: "*",
		BodyLimitBytes: 1 << 20,
	})
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	resp.Body.Close()
	var fields map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("response is not a JSON object: %v (%s)", err, raw)
		}
	}
	return resp, fields
}

func decodeBill(t *testing.T, fields map[string]json.RawMessage) *models.Bill {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("failed to re-marshal bill: %v", err)
	}
	var bill models.Bill
	if err := json.Unmarshal(raw, &bill); err != nil {
		t.Fatalf("failed to decode bill: %v", err)
	}
	return &bill
}

func TestBillingFlow(t *testing.T) {
	app := newTestApp(t)

	// Create the customer.
	resp, fields := doJSON(t, app, http.MethodPost, "/api/customers",
		fiber.Map{"name": "Sita", "phone": "9876512345"})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create customer status = %d", resp.StatusCode)
	}
	var customerID string
	if err := json.Unmarshal(fields["id"], &customerID); err != nil || customerID == "" {
		t.Fatalf("no customer id in response: %v", fields)
	}

	// Open a bill.
	resp, fields = doJSON(t, app, http.MethodPost, "/api/customers/"+customerID+"/bills", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create bill status = %d", resp.StatusCode)
	}
	bill := decodeBill(t, fields)
	if bill.ID == "" || bill.CustomerID != customerID {
		t.Fatalf("bill = %+v", bill)
	}

	// Add a line item: 3 * 2500 - 500 = 7000.
	resp, fields = doJSON(t, app, http.MethodPost, "/api/bills/"+bill.ID+"/items",
		fiber.Map{"name": "Sugar", "qty": 3, "rate": 2500, "discount": 500})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("add item status = %d", resp.StatusCode)
	}
	bill = decodeBill(t, fields)
	if bill.GrandTotal != 7000 || bill.Remaining != 7000 || bill.Status != models.BillStatusOpen {
		t.Errorf("after item: %+v", bill)
	}

	// Pay it off.
	resp, fields = doJSON(t, app, http.MethodPost, "/api/bills/"+bill.ID+"/payments",
		fiber.Map{"amount": 7000, "method": "upi"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("apply payment status = %d", resp.StatusCode)
	}
	bill = decodeBill(t, fields)
	if bill.TotalPaid != 7000 || bill.Remaining != 0 || bill.Status != models.BillStatusClosed {
		t.Errorf("after payment: %+v", bill)
	}

	// Customer rollups follow.
	resp, fields = doJSON(t, app, http.MethodGet, "/api/customers/"+customerID, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get customer status = %d", resp.StatusCode)
	}
	var totalCredit, totalPaid models.Money
	if err := json.Unmarshal(fields["total_credit"], &totalCredit); err != nil {
		t.Fatalf("total_credit: %v", err)
	}
	if err := json.Unmarshal(fields["total_paid"], &totalPaid); err != nil {
		t.Fatalf("total_paid: %v", err)
	}
	if totalCredit != 7000 || totalPaid != 7000 {
		t.Errorf("rollups = %d/%d, want 7000/7000", totalCredit, totalPaid)
	}

	// And the bill shows up on the customer's list.
	resp, fields = doJSON(t, app, http.MethodGet, "/api/customers/"+customerID+"/bills", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list bills status = %d", resp.StatusCode)
	}
	var bills []*models.Bill
	if err := json.Unmarshal(fields["bills"], &bills); err != nil {
		t.Fatalf("bills: %v", err)
	}
	if len(bills) != 1 || bills[0].ID != bill.ID {
		t.Errorf("bills = %+v", bills)
	}
}

func TestErrorResponses(t *testing.T) {
	app := newTestApp(t)

	resp, fields := doJSON(t, app, http.MethodPost, "/api/customers",
		fiber.Map{"name": "Gopal"})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create customer status = %d", resp.StatusCode)
	}
	var customerID string
	if err := json.Unmarshal(fields["id"], &customerID); err != nil {
		t.Fatalf("no customer id: %v", fields)
	}
	resp, fields = doJSON(t, app, http.MethodPost, "/api/customers/"+customerID+"/bills", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create bill status = %d", resp.StatusCode)
	}
	bill := decodeBill(t, fields)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{
			name:   "unknown customer is 404",
			method: http.MethodGet,
			path:   "/api/customers/nope",
			status: fiber.StatusNotFound,
		},
		{
			name:   "unknown bill is 404",
			method: http.MethodPost,
			path:   "/api/bills/nope/payments",
			body:   fiber.Map{"amount": 100},
			status: fiber.StatusNotFound,
		},
		{
			name:   "zero payment is 400",
			method: http.MethodPost,
			path:   "/api/bills/" + bill.ID + "/payments",
			body:   fiber.Map{"amount": 0},
			status: fiber.StatusBadRequest,
		},
		{
			name:   "negative payment without reversal is 400",
			method: http.MethodPost,
			path:   "/api/bills/" + bill.ID + "/payments",
			body:   fiber.Map{"amount": -500},
			status: fiber.StatusBadRequest,
		},
		{
			name:   "item with zero qty is 422",
			method: http.MethodPost,
			path:   "/api/bills/" + bill.ID + "/items",
			body:   fiber.Map{"name": "Salt", "qty": 0, "rate": 100},
			status: fiber.StatusUnprocessableEntity,
		},
		{
			name:   "item without name is 422",
			method: http.MethodPost,
			path:   "/api/bills/" + bill.ID + "/items",
			body:   fiber.Map{"qty": 1, "rate": 100},
			status: fiber.StatusUnprocessableEntity,
		},
		{
			name:   "customer without name is 422",
			method: http.MethodPost,
			path:   "/api/customers",
			body:   fiber.Map{"phone": "123"},
			status: fiber.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, fields := doJSON(t, app, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, fields["message"])
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/customers", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReversalReopensBill(t *testing.T) {
	app := newTestApp(t)

	_, fields := doJSON(t, app, http.MethodPost, "/api/customers", fiber.Map{"name": "Meena"})
	var customerID string
	if err := json.Unmarshal(fields["id"], &customerID); err != nil {
		t.Fatalf("no customer id: %v", fields)
	}
	_, fields = doJSON(t, app, http.MethodPost, "/api/customers/"+customerID+"/bills", nil)
	bill := decodeBill(t, fields)

	doJSON(t, app, http.MethodPost, "/api/bills/"+bill.ID+"/items",
		fiber.Map{"name": "Atta", "qty": 1, "rate": 5000})
	_, fields = doJSON(t, app, http.MethodPost, "/api/bills/"+bill.ID+"/payments",
		fiber.Map{"amount": 5000, "method": "cash"})
	bill = decodeBill(t, fields)
	if bill.Status != models.BillStatusClosed {
		t.Fatalf("bill should be closed: %+v", bill)
	}

	resp, fields := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/bills/%s/payments", bill.ID),
		fiber.Map{"amount": -5000, "reversal": true})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("reversal status = %d", resp.StatusCode)
	}
	bill = decodeBill(t, fields)
	if bill.Status != models.BillStatusOpen || bill.Remaining != 5000 || len(bill.Payments) != 2 {
		t.Errorf("after reversal: %+v", bill)
	}
}
