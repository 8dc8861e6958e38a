// Package position owns the open buy orders of a run, decides which of them
// qualify for sale and keeps the ledger of everything bought and sold.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a BuyOrder.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// BuyOrder is a single DCA purchase. It is never deleted; closing only
// records the exit.
type BuyOrder struct {
	ID             uint64          `json:"id"`
	PurchasedAt    time.Time       `json:"purchased_at"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	InvestedAmount decimal.Decimal `json:"invested_amount"`
	Status         Status          `json:"status"`
	ClosedAt       time.Time       `json:"closed_at"`
	ClosingPrice   decimal.Decimal `json:"closing_price"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
}

// ProfitPct returns the unrealized return of the order at price as a fraction.
func (o BuyOrder) ProfitPct(price decimal.Decimal) decimal.Decimal {
	return price.Sub(o.PurchasePrice).Div(o.PurchasePrice)
}

// TxType distinguishes ledger entries.
type TxType string

const (
	TxBuy  TxType = "BUY"
	TxSell TxType = "SELL"
)

// Transaction is one ledger entry. Sells reference the buy they close.
type Transaction struct {
	ID         uint64          `json:"id"`
	Type       TxType          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
	Amount     decimal.Decimal `json:"amount"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	BuyOrderID uint64          `json:"buy_order_id"`
}

// Thresholds are the tiered sell bars, as fractions.
type Thresholds struct {
	TakeProfit           decimal.Decimal
	MinAccumulatedProfit decimal.Decimal
	MaxAccumulatedOrders int
}

// NewThresholds converts percent-unit settings into fractional thresholds.
func NewThresholds(takeProfitPct, minAccumulatedProfitPct float64, maxAccumulatedOrders int) Thresholds {
	hundred := decimal.NewFromInt(100)
	return Thresholds{
		TakeProfit:           decimal.NewFromFloat(takeProfitPct).Div(hundred),
		MinAccumulatedProfit: decimal.NewFromFloat(minAccumulatedProfitPct).Div(hundred),
		MaxAccumulatedOrders: maxAccumulatedOrders,
	}
}

// Book holds open orders ordered by id, the closed-order ledger and the
// transaction log. It has a single owner and no locking.
type Book struct {
	th     Thresholds
	open   []BuyOrder
	closed []BuyOrder
	txs    []Transaction
	lastID uint64
	lastTx uint64
}

// NewBook creates an empty Book.
func NewBook(th Thresholds) *Book {
	return &Book{th: th}
}

// Open adds a new open order. Ids must be strictly increasing across the
// lifetime of the run, and every amount must be positive.
func (b *Book) Open(o BuyOrder) error {
	if o.ID <= b.lastID {
		return fmt.Errorf("order id %d is not greater than last id %d", o.ID, b.lastID)
	}
	if !o.PurchasePrice.IsPositive() || !o.Quantity.IsPositive() || !o.InvestedAmount.IsPositive() {
		return fmt.Errorf("order %d has non-positive price, quantity or amount", o.ID)
	}
	o.Status = StatusOpen
	b.open = append(b.open, o)
	b.lastID = o.ID
	b.record(Transaction{
		Type:       TxBuy,
		Quantity:   o.Quantity,
		Price:      o.PurchasePrice,
		Time:       o.PurchasedAt,
		Amount:     o.InvestedAmount,
		ProfitLoss: decimal.Zero,
		BuyOrderID: o.ID,
	})
	return nil
}

// SellThreshold returns the profit bar that currently applies.
func (b *Book) SellThreshold() decimal.Decimal {
	if len(b.open) <= b.th.MaxAccumulatedOrders {
		return b.th.TakeProfit
	}
	return b.th.MinAccumulatedProfit
}

// EvaluateSells returns the ids of every open order whose profit at price
// reaches the applicable threshold.
func (b *Book) EvaluateSells(price decimal.Decimal) []uint64 {
	threshold := b.SellThreshold()
	var ids []uint64
	for _, o := range b.open {
		if o.ProfitPct(price).GreaterThanOrEqual(threshold) {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Close sells the whole quantity of an open order at price and appends it to
// the closed ledger.
func (b *Book) Close(id uint64, price decimal.Decimal, ts time.Time) (BuyOrder, error) {
	for i, o := range b.open {
		if o.ID != id {
			continue
		}
		proceeds := o.Quantity.Mul(price)
		o.Status = StatusClosed
		o.ClosedAt = ts
		o.ClosingPrice = price
		o.RealizedProfit = proceeds.Sub(o.InvestedAmount)

		b.open = append(b.open[:i], b.open[i+1:]...)
		b.closed = append(b.closed, o)
		b.record(Transaction{
			Type:       TxSell,
			Quantity:   o.Quantity,
			Price:      price,
			Time:       ts,
			Amount:     proceeds,
			ProfitLoss: o.RealizedProfit,
			BuyOrderID: o.ID,
		})
		return o, nil
	}
	return BuyOrder{}, fmt.Errorf("order %d is not open", id)
}

func (b *Book) record(tx Transaction) {
	b.lastTx++
	tx.ID = b.lastTx
	b.txs = append(b.txs, tx)
}

// OpenOrders returns a copy of the open orders, ordered by id.
func (b *Book) OpenOrders() []BuyOrder {
	return append([]BuyOrder(nil), b.open...)
}

// ClosedOrders returns a copy of the closed ledger in closing order.
func (b *Book) ClosedOrders() []BuyOrder {
	return append([]BuyOrder(nil), b.closed...)
}

// Transactions returns a copy of the transaction log.
func (b *Book) Transactions() []Transaction {
	return append([]Transaction(nil), b.txs...)
}

// TransactionsSince returns the transactions with an id greater than id.
func (b *Book) TransactionsSince(id uint64) []Transaction {
	i := len(b.txs)
	for i > 0 && b.txs[i-1].ID > id {
		i--
	}
	return append([]Transaction(nil), b.txs[i:]...)
}

// OpenCount returns the number of open orders.
func (b *Book) OpenCount() int {
	return len(b.open)
}

// OpenInvested sums the invested amount of open orders.
func (b *Book) OpenInvested() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range b.open {
		sum = sum.Add(o.InvestedAmount)
	}
	return sum
}

// OpenQuantity sums the quantity held by open orders.
func (b *Book) OpenQuantity() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range b.open {
		sum = sum.Add(o.Quantity)
	}
	return sum
}

// LastID returns the highest order id ever opened.
func (b *Book) LastID() uint64 {
	return b.lastID
}

// Restore rebuilds a book from persisted orders. lastID and lastTx carry the
// id sequences so ids stay unique even when the ledger tail was truncated.
func (b *Book) Restore(open, closed []BuyOrder, txs []Transaction, lastID, lastTx uint64) error {
	prev := uint64(0)
	for _, o := range open {
		if o.ID <= prev {
			return fmt.Errorf("open orders are not strictly ordered at id %d", o.ID)
		}
		if o.ID > lastID {
			return fmt.Errorf("open order %d exceeds last id %d", o.ID, lastID)
		}
		prev = o.ID
	}
	b.open = append([]BuyOrder(nil), open...)
	b.closed = append([]BuyOrder(nil), closed...)
	b.txs = append([]Transaction(nil), txs...)
	b.lastID = lastID
	b.lastTx = lastTx
	return nil
}

// LastTxID returns the highest transaction id recorded.
func (b *Book) LastTxID() uint64 {
	return b.lastTx
}

// String returns a string representation of the book.
func (b *Book) String() string {
	return fmt.Sprintf("Book{Open: %d, Closed: %d, Invested: %s}", len(b.open), len(b.closed), b.OpenInvested().StringFixed(2))
}
