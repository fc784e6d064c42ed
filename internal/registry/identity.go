package registry

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	xerrors "AgentLedger-Chain/internal/errors"
)

// MaxNameLength 是代理名称的最大字符数。
const MaxNameLength = 64

// MaxTagLength 是单个能力标签的最大字符数。
const MaxTagLength = 64

// 初始信誉分及调整幅度。
const (
	InitialReputation   uint64 = 100
	ReputationOnSuccess uint64 = 5
	ReputationOnRefund  uint64 = 2
)

var (
	agentNamespace   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agentledger/agent"))
	serviceNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agentledger/service"))
)

// ValidateName 校验代理名称：非空、不超过 64 个字符，仅允许字母、数字、空格以及 _ - . 。
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "agent name must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return xerrors.Newf(xerrors.CodeInvalidInput, "agent name exceeds %d characters", MaxNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '_', r == '-', r == '.':
		default:
			return xerrors.Newf(xerrors.CodeInvalidInput, "agent name contains invalid character %q", r)
		}
	}
	return nil
}

// AgentID 由所有者身份和计数器确定性地生成代理 ID。
func AgentID(owner string, counter uint64) string {
	return "agent-" + uuid.NewSHA1(agentNamespace, []byte(fmt.Sprintf("%s/%d", owner, counter))).String()
}

// ServiceID 由请求方、提供方和计数器生成服务 ID。
func ServiceID(requesterID, providerID string, counter uint64) string {
	return "svc-" + uuid.NewSHA1(serviceNamespace, []byte(fmt.Sprintf("%s/%s/%d", requesterID, providerID, counter))).String()
}

// MessageID 返回消息 ID。
func MessageID(n uint64) string { return fmt.Sprintf("msg_%d", n) }

// PurchaseOrderID 返回采购单 ID。
func PurchaseOrderID(n, blockTime uint64) string { return fmt.Sprintf("PO-%d-%d", n, blockTime) }

// InvoiceID 返回发票 ID。
func InvoiceID(n, blockTime uint64) string { return fmt.Sprintf("INV-%d-%d", n, blockTime) }

// WalletAddress 以 Keccak-256 派生代理钱包的 EVM 风格地址。
func WalletAddress(agentID string) string {
	hash := crypto.Keccak256([]byte("agent_" + agentID))
	return common.BytesToAddress(hash[12:]).Hex()
}

// AddressValidator 校验并规范化外部收款地址。
type AddressValidator interface {
	Normalize(addr string) (string, error)
}

// EVMAddressValidator 接受 0x 前缀的 20 字节十六进制地址，返回 EIP-55 校验和形式。
type EVMAddressValidator struct{}

// Normalize 实现 AddressValidator。
func (EVMAddressValidator) Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", xerrors.New(xerrors.CodeInvalidInput, "invalid recipient address: "+addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}
