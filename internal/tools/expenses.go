package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// Expense is one recorded expense line.
type Expense struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency,omitempty"`
	Category  string    `json:"category,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func expenseTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "add_expense",
				Description: "Record an expense with an amount and optional category and note.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"amount": {"type": "number"},
						"currency": {"type": "string"},
						"category": {"type": "string"},
						"note": {"type": "string"}
					},
					"required": ["amount"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in Expense
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if in.Amount <= 0 {
					return errResult(models.NewError(models.KindValidation, "amount must be positive", nil))
				}

				in.ID = uuid.NewString()
				in.CreatedAt = time.Now().UTC()
				key := store.ItemKey(deps.Scope, store.CollectionExpenses, in.ID)
				if err := store.PutJSON(ctx, deps.Store, key, in); err != nil {
					return errResult(models.NewError(models.KindInternal, "store expense", err))
				}
				return okResult(in)
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "list_expenses",
				Description: "List expenses, optionally filtered by category.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"category": {"type": "string"}
					}
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					Category string `json:"category"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				expenses, err := store.ScanPrefixValues[Expense](ctx, deps.Store, store.CollectionPrefix(deps.Scope, store.CollectionExpenses), 0)
				if err != nil {
					return errResult(models.NewError(models.KindInternal, "list expenses", err))
				}
				sort.Slice(expenses, func(i, j int) bool { return expenses[i].CreatedAt.Before(expenses[j].CreatedAt) })

				var total float64
				filtered := expenses[:0]
				for _, e := range expenses {
					if in.Category != "" && !strings.EqualFold(e.Category, in.Category) {
						continue
					}
					filtered = append(filtered, e)
					total += e.Amount
				}
				return okResult(map[string]any{"count": len(filtered), "total": total, "expenses": filtered})
			},
		},
	}
}
