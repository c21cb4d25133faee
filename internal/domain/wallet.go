package domain

import "fmt"

// WalletKind identifies one of an account's two balance buckets.
type WalletKind string

const (
	WalletMain  WalletKind = "main"
	WalletTopup WalletKind = "topup"
)

// ParseWalletKind resolves the external string form at the API boundary.
// Inside the core only the typed constants circulate.
func ParseWalletKind(s string) (WalletKind, error) {
	switch s {
	case "main", "main_wallet":
		return WalletMain, nil
	case "topup", "topup_wallet":
		return WalletTopup, nil
	}
	return "", fmt.Errorf("unknown wallet kind %q", s)
}

// ReasonCode tags a ledger entry with the event that produced it.
type ReasonCode string

const (
	ReasonDeposit     ReasonCode = "deposit"
	ReasonWithdrawal  ReasonCode = "withdrawal"
	ReasonTransferIn  ReasonCode = "transfer_in"
	ReasonTransferOut ReasonCode = "transfer_out"
	ReasonFee         ReasonCode = "fee"
	ReasonBonus       ReasonCode = "bonus"
	ReasonDeduction   ReasonCode = "deduction"
)

// TransferKind selects the rule set applied to a transfer request.
type TransferKind string

const (
	TransferSelf  TransferKind = "self"
	TransferPeer  TransferKind = "peer"
	TransferAdmin TransferKind = "admin"
)

func ParseTransferKind(s string) (TransferKind, error) {
	switch TransferKind(s) {
	case TransferSelf, TransferPeer, TransferAdmin:
		return TransferKind(s), nil
	}
	return "", fmt.Errorf("unknown transfer kind %q", s)
}
