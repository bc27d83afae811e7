package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/shopbook/ledger/internal/models"
)

var validate = validator.New()

// bindAndValidate parses the request body into dst and validates it.
// Parse errors become 400; validation issues surface as
// validator.ValidationErrors for the central error handler.
func bindAndValidate(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return validate.Struct(dst)
}

type createCustomerRequest struct {
	Name  string `json:"name" validate:"required,min=1,max=120"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

// All monetary fields cross this boundary as fixed-point integers in
// minor currency units; rounding to decimals is the UI's business.
type addItemRequest struct {
	ID       string `json:"id" validate:"omitempty,uuid4"`
	Name     string `json:"name" validate:"required,max=200"`
	Qty      int64  `json:"qty" validate:"required,gt=0"`
	Rate     int64  `json:"rate" validate:"gte=0"`
	Discount int64  `json:"discount" validate:"gte=0"`
}

type applyPaymentRequest struct {
	ID       string `json:"id" validate:"omitempty,uuid4"`
	Amount   int64  `json:"amount"`
	Method   string `json:"method" validate:"omitempty,max=40"`
	Reversal bool   `json:"reversal"`
}

func (s *Server) createCustomer(c *fiber.Ctx) error {
	var req createCustomerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	customer, err := s.processor.CreateCustomer(c.UserContext(), req.Name, req.Phone)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(customer)
}

func (s *Server) listCustomers(c *fiber.Ctx) error {
	customers, err := s.processor.ListCustomers(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"customers": customers})
}

func (s *Server) getCustomer(c *fiber.Ctx) error {
	customer, err := s.processor.GetCustomer(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(customer)
}

func (s *Server) listBills(c *fiber.Ctx) error {
	bills, err := s.processor.ListBills(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"bills": bills})
}

func (s *Server) createBill(c *fiber.Ctx) error {
	bill, err := s.processor.CreateBill(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(bill)
}

func (s *Server) getBill(c *fiber.Ctx) error {
	bill, err := s.processor.GetBill(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(bill)
}

func (s *Server) addItem(c *fiber.Ctx) error {
	var req addItemRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	bill, err := s.processor.AddItem(c.UserContext(), c.Params("id"), models.BillItem{
		ID:       req.ID,
		Name:     req.Name,
		Qty:      req.Qty,
		Rate:     models.Money(req.Rate),
		Discount: models.Money(req.Discount),
	})
	if err != nil {
		return err
	}
	return c.JSON(bill)
}

func (s *Server) applyPayment(c *fiber.Ctx) error {
	var req applyPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	bill, err := s.processor.ApplyPayment(c.UserContext(), c.Params("id"), models.BillPayment{
		ID:       req.ID,
		Amount:   models.Money(req.Amount),
		Method:   req.Method,
		Reversal: req.Reversal,
	})
	if err != nil {
		return err
	}
	return c.JSON(bill)
}
