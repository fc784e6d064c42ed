package coin

import (
	"fmt"
	"strings"

	xerrors "AgentLedger-Chain/internal/errors"
)

// Coin 是带币种的金额。
type Coin struct {
	Denom  string `json:"denom"`
	Amount Amount `json:"amount"`
}

// New 构造 Coin。
func New(denom string, amount Amount) Coin {
	return Coin{Denom: denom, Amount: amount}
}

// NewUint64 以整数构造 Coin。
func NewUint64(denom string, amount uint64) Coin {
	return Coin{Denom: denom, Amount: NewAmount(amount)}
}

// IsZero 判断金额是否为零。
func (c Coin) IsZero() bool { return c.Amount.IsZero() }

// String 返回 "100uusd" 形式。
func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// RequireDenom 校验币种一致。
func (c Coin) RequireDenom(denom string) error {
	if c.Denom != denom {
		return xerrors.New(xerrors.CodeInvalidInput,
			fmt.Sprintf("invalid denom: expected %s, got %s", denom, c.Denom))
	}
	return nil
}

// RequirePositive 校验金额大于零。
func (c Coin) RequirePositive() error {
	if c.Amount.IsZero() {
		return xerrors.New(xerrors.CodeInvalidInput, "amount must be greater than zero")
	}
	return nil
}

// Coins 是调用附带的资金列表。
type Coins []Coin

// AmountOf 汇总指定币种的金额。
func (cs Coins) AmountOf(denom string) (Amount, error) {
	total := Zero()
	for _, c := range cs {
		if c.Denom != denom {
			continue
		}
		next, err := total.Add(c.Amount)
		if err != nil {
			return Amount{}, err
		}
		total = next
	}
	return total, nil
}

// MustPay 要求资金仅包含指定币种且金额为正，返回该金额。
func (cs Coins) MustPay(denom string) (Amount, error) {
	switch {
	case len(cs) == 0:
		return Amount{}, xerrors.New(xerrors.CodeInvalidInput, "no funds sent")
	case len(cs) > 1:
		return Amount{}, xerrors.New(xerrors.CodeInvalidInput, "multiple denominations sent")
	}
	if err := cs[0].RequireDenom(denom); err != nil {
		return Amount{}, err
	}
	if err := cs[0].RequirePositive(); err != nil {
		return Amount{}, err
	}
	return cs[0].Amount, nil
}

// String 返回逗号分隔的表示。
func (cs Coins) String() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}
