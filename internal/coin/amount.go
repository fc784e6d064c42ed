// Package coin 提供账本使用的定点金额与币种类型。
//
// Amount 是 128 位无符号整数，所有运算都显式检查溢出。
package coin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	xerrors "AgentLedger-Chain/internal/errors"
)

// maxBits 限定金额的取值范围为 [0, 2^128)。
const maxBits = 128

// BasisPoints 表示万分比分母。
const BasisPoints = 10000

// Amount 是不可变的金额值。
type Amount struct {
	v uint256.Int
}

// Zero 返回零值金额。
func Zero() Amount { return Amount{} }

// NewAmount 以 uint64 构造金额。
func NewAmount(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// ParseAmount 解析十进制字符串。
func ParseAmount(s string) (Amount, error) {
	var a Amount
	s = strings.TrimSpace(s)
	if s == "" {
		return a, xerrors.New(xerrors.CodeInvalidInput, "amount is empty")
	}
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, fmt.Sprintf("invalid amount %q", s))
	}
	if a.v.BitLen() > maxBits {
		return Amount{}, overflow("parse")
	}
	return a, nil
}

// MustParse 用于测试和常量初始化。
func MustParse(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func overflow(op string) error {
	return xerrors.New(xerrors.CodeArithmeticFailure, "overflow in "+op)
}

func underflow(op string) error {
	return xerrors.New(xerrors.CodeArithmeticFailure, "underflow in "+op)
}

// Add 返回 a+b，超出 128 位时报错。
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, over := out.v.AddOverflow(&a.v, &b.v); over || out.v.BitLen() > maxBits {
		return Amount{}, overflow("add")
	}
	return out, nil
}

// Sub 返回 a-b，b > a 时报错。
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, under := out.v.SubOverflow(&a.v, &b.v); under {
		return Amount{}, underflow("sub")
	}
	return out, nil
}

// SaturatingSub 返回 max(a-b, 0)。
func (a Amount) SaturatingSub(b Amount) Amount {
	if a.v.Lt(&b.v) {
		return Amount{}
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

// MulUint64 返回 a*n。
func (a Amount) MulUint64(n uint64) (Amount, error) {
	var out Amount
	factor := uint256.NewInt(n)
	if _, over := out.v.MulOverflow(&a.v, factor); over || out.v.BitLen() > maxBits {
		return Amount{}, overflow("mul")
	}
	return out, nil
}

// MulBps 返回 floor(a*bps/10000)。乘积在 256 位内计算，只对结果做 128 位检查。
func (a Amount) MulBps(bps uint64) (Amount, error) {
	var product uint256.Int
	if _, over := product.MulOverflow(&a.v, uint256.NewInt(bps)); over {
		return Amount{}, overflow("mul")
	}
	var out Amount
	out.v.Div(&product, uint256.NewInt(BasisPoints))
	if out.v.BitLen() > maxBits {
		return Amount{}, overflow("mul")
	}
	return out, nil
}

// Cmp 比较两个金额，返回 -1/0/1。
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// LT 判断 a < b。
func (a Amount) LT(b Amount) bool { return a.v.Lt(&b.v) }

// GT 判断 a > b。
func (a Amount) GT(b Amount) bool { return a.v.Gt(&b.v) }

// Equal 判断是否相等。
func (a Amount) Equal(b Amount) bool { return a.v.Eq(&b.v) }

// IsZero 判断是否为零。
func (a Amount) IsZero() bool { return a.v.IsZero() }

// String 返回十进制表示。
func (a Amount) String() string { return a.v.Dec() }

// MarshalJSON 以十进制字符串编码，避免 JSON 数字精度损失。
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.v.Dec())
}

// UnmarshalJSON 接受十进制字符串或数字。
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = Amount{}
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum 对多个金额求和。
func Sum(values ...Amount) (Amount, error) {
	total := Zero()
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Amount{}, err
		}
		total = next
	}
	return total, nil
}
