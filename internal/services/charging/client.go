package charging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

// ClientConfig locates the OCS RPC endpoint.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is the HTTP implementation of Gateway. Each operation is a POST of
// a JSON document to BaseURL/<operation> answered by a JSON Result.
type Client struct {
	cfg ClientConfig
}

// NewClient builds a client. A zero timeout defaults to ten seconds.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg}
}

type rpcRequest struct {
	Operation     string `json:"operation"`
	CorrelationID string `json:"correlation_id"`
	Account       string `json:"account,omitempty"`
	Destination   string `json:"destination,omitempty"`
	EventID       string `json:"event_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Item          string `json:"item,omitempty"`
	Days          int    `json:"days,omitempty"`
	Text          string `json:"text,omitempty"`
	Arabic        bool   `json:"arabic,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Note          string `json:"note,omitempty"`
}

// rpcResponse is the wire form of Result. A missing code is not a success.
type rpcResponse struct {
	Code          *int   `json:"code"`
	ReservationID string `json:"reservation_id"`
	Reference     string `json:"reference"`
	Value         string `json:"value"`
	Message       string `json:"message"`
}

// call performs one RPC. The caller's context only gates the start of the
// call: once sent, the request runs to its own timeout so that its result
// can always be recorded.
func (c *Client) call(ctx context.Context, req rpcRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %s not sent: %v", ErrTransport, req.Operation, err)
	}
	req.CorrelationID = uuid.NewString()

	agent := fiber.Post(c.cfg.BaseURL + "/" + req.Operation)
	agent.JSON(req)
	agent.Timeout(c.cfg.Timeout)
	if c.cfg.Username != "" {
		agent.BasicAuth(c.cfg.Username, c.cfg.Password)
	}
	if err := agent.Parse(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrTransport, req.Operation, err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Warnw("ocs call failed", "operation", req.Operation, "correlation_id", req.CorrelationID, "error", err)
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %w: %s", ErrTransport, ErrTimeout, req.Operation)
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrTransport, req.Operation, err)
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		log.Warnw("ocs call refused", "operation", req.Operation, "correlation_id", req.CorrelationID, "http_status", status)
		return Result{}, fmt.Errorf("%w: %s answered http %d", ErrTransport, req.Operation, status)
	}

	var wire rpcResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Result{}, fmt.Errorf("%w: %s: decode: %v", ErrTransport, req.Operation, err)
	}
	if wire.Code == nil {
		return Result{}, fmt.Errorf("%w: %s: response carries no code", ErrTransport, req.Operation)
	}
	res := Result{
		Code:          *wire.Code,
		ReservationID: wire.ReservationID,
		Reference:     wire.Reference,
		Value:         wire.Value,
		Message:       wire.Message,
	}
	if !res.OK() {
		log.Infow("ocs rejected call", "operation", req.Operation, "correlation_id", req.CorrelationID, "code", res.Code)
	}
	return res, nil
}

func (c *Client) Reserve(ctx context.Context, source, eventID string, amount decimal.Decimal) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "reserve", Account: source, EventID: eventID, Amount: amount.String()})
}

func (c *Client) ChargeReserved(ctx context.Context, source, reservationID string) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "chargeReserved", Account: source, ReservationID: reservationID})
}

func (c *Client) CancelReservation(ctx context.Context, source, reservationID string) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "cancelReservation", Account: source, ReservationID: reservationID})
}

func (c *Client) ChargeWithCreditAbility(ctx context.Context, source, eventID string, amount decimal.Decimal) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "chargeWithCreditAbility", Account: source, EventID: eventID, Amount: amount.String()})
}

func (c *Client) AdjustBalance(ctx context.Context, account string, amount decimal.Decimal, note string) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "adjustBalance", Account: account, Amount: amount.String(), Note: note})
}

func (c *Client) TransferMoney(ctx context.Context, t MoneyTransfer) (Result, error) {
	return c.call(ctx, rpcRequest{
		Operation:   "transferMoney",
		Account:     t.Source,
		Destination: t.Destination,
		Amount:      t.Amount.String(),
		Reason:      t.Reason,
		Actor:       t.Actor,
		Note:        t.Note,
	})
}

func (c *Client) ExtendExpiry(ctx context.Context, destination string, days int) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "extendExpiry", Account: destination, Days: days})
}

func (c *Client) SendSMS(ctx context.Context, source, destination, text string, arabic bool) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "sendSms", Account: source, Destination: destination, Text: text, Arabic: arabic})
}

func (c *Client) GetAccountValue(ctx context.Context, account, item string) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "getAccountValue", Account: account, Item: item})
}

func (c *Client) GetSubscriptionValue(ctx context.Context, account, item string) (Result, error) {
	return c.call(ctx, rpcRequest{Operation: "getSubscriptionValue", Account: account, Item: item})
}
