// Package api exposes the gateway over HTTP: transaction submission, history
// and balance reads, and a liveness probe. Handlers translate wire shapes into
// service calls and business errors back into the failure envelope.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/pkg/commons"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	libHTTP "github.com/mysverse/worker-bank/pkg/commons/net/http"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
)

// Service is the transaction surface the handlers call into.
type Service interface {
	Execute(ctx context.Context, input bank.Input) (bank.Result, error)
	ListTransactions(ctx context.Context, account bank.Account) (bank.History, error)
	Balance(ctx context.Context, account bank.Account) (bank.BalanceRecord, error)
}

// TransactionHandler serves the gateway's transaction routes.
type TransactionHandler struct {
	service Service
}

// NewTransactionHandler binds the routes to a transaction service.
func NewTransactionHandler(service Service) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// TransactionRequest is the wire shape of a transaction submission. Amount is
// the positive magnitude; the direction comes from TransactionType.
type TransactionRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"required,positive_decimal"`
	UserID          string          `json:"userId" validate:"required,max=256"`
	DiscordID       string          `json:"discordId" validate:"omitempty,max=256"`
	TransactionType string          `json:"transactionType" validate:"omitempty,oneof=debit credit"`
	BankName        string          `json:"bankName" validate:"omitempty,max=256"`
}

// toInput normalizes the request: the bank defaults to the central bank, the
// type to a debit, and an absent discordId stays nil.
func (r TransactionRequest) toInput() bank.Input {
	bankName := r.BankName
	if bankName == "" {
		bankName = constant.DefaultBankName
	}

	transactionType := bank.TransactionType(r.TransactionType)
	if transactionType == "" {
		transactionType = bank.TypeDebit
	}

	input := bank.Input{
		Account: bank.Account{UserID: r.UserID, Bank: bankName},
		Type:    transactionType,
		Amount:  r.Amount,
	}

	if r.DiscordID != "" {
		discordID := r.DiscordID
		input.DiscordID = &discordID
	}

	return input
}

// TransactionView is one history row on the wire.
type TransactionView struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp string          `json:"timestamp"`
}

// HistoryResponse is the wire shape of a transaction history read.
type HistoryResponse struct {
	Transactions []TransactionView `json:"transactions"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// BalanceResponse is the wire shape of a balance read.
type BalanceResponse struct {
	Balance  decimal.Decimal `json:"balance"`
	BankName string          `json:"bankName"`
}

// CreateTransaction applies one debit or credit and reports the balance
// around it.
func (h *TransactionHandler) CreateTransaction(c *fiber.Ctx) error {
	ctx := c.UserContext()

	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "api.create_transaction")
	defer span.End()

	var request TransactionRequest
	if err := libHTTP.ParseBodyAndValidate(c, &request); err != nil {
		opentelemetry.HandleSpanError(&span, "validate transaction request", err)

		return libHTTP.BadRequestFromValidation(c, err)
	}

	input := request.toInput()

	result, err := h.service.Execute(ctx, input)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "execute transaction", err)

		logger.Log(ctx, log.LevelError,
			"transaction rejected",
			log.String("account", input.Account.String()),
			log.String("transaction_type", string(input.Type)),
			log.Err(err),
		)

		return libHTTP.WriteError(c, err)
	}

	var metadata map[string]any
	if input.DiscordID != nil {
		metadata = map[string]any{"discordId": *input.DiscordID}
	}

	return libHTTP.OK(c, libHTTP.SuccessResponse{
		Success:         true,
		Result:          result,
		BankName:        input.Account.Bank,
		TransactionType: string(input.Type),
		Metadata:        metadata,
	})
}

// ListTransactions returns the account's history, most recent first.
func (h *TransactionHandler) ListTransactions(c *fiber.Ctx) error {
	ctx := c.UserContext()

	_, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "api.list_transactions")
	defer span.End()

	account, err := accountFromRequest(c)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "resolve account", err)

		return libHTTP.WriteError(c, err)
	}

	history, err := h.service.ListTransactions(ctx, account)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "list transactions", err)

		return libHTTP.WriteError(c, err)
	}

	transactions := make([]TransactionView, 0, len(history.Entries))
	for _, entry := range history.Entries {
		transactions = append(transactions, TransactionView{
			ID:        entry.ID,
			Amount:    entry.Amount,
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	metadata := map[string]any{"bankName": account.Bank}
	if history.DiscordID != nil {
		metadata["discordId"] = *history.DiscordID
	}

	return libHTTP.OK(c, HistoryResponse{
		Transactions: transactions,
		Metadata:     metadata,
	})
}

// Balance returns the account's current balance without writing anything.
func (h *TransactionHandler) Balance(c *fiber.Ctx) error {
	ctx := c.UserContext()

	_, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "api.balance")
	defer span.End()

	account, err := accountFromRequest(c)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "resolve account", err)

		return libHTTP.WriteError(c, err)
	}

	record, err := h.service.Balance(ctx, account)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "read balance", err)

		return libHTTP.WriteError(c, err)
	}

	return libHTTP.OK(c, BalanceResponse{
		Balance:  record.Balance,
		BankName: account.Bank,
	})
}

// Health reports liveness. It carries no dependency checks so the probe stays
// answerable while downstream stores are degraded.
func (h *TransactionHandler) Health(c *fiber.Ctx) error {
	return libHTTP.OK(c, fiber.Map{"status": "ok"})
}

// accountFromRequest builds the account from the path user id and the
// bankName query parameter, defaulting to the central bank.
func accountFromRequest(c *fiber.Ctx) (bank.Account, error) {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return bank.Account{}, fmt.Errorf("%w: userId is required", constant.ErrBadRequest)
	}

	bankName := strings.TrimSpace(c.Query("bankName"))
	if bankName == "" {
		bankName = constant.DefaultBankName
	}

	return bank.Account{UserID: userID, Bank: bankName}, nil
}
