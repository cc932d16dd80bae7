package lottery

import "golang.org/x/xerrors"

var (
	ErrInsufficientFee = xerrors.New("insufficient entry fee")
	ErrRoundNotOpen    = xerrors.New("round is not open")
	ErrUpkeepNotNeeded = xerrors.New("upkeep not needed")
	ErrUnknownRequest  = xerrors.New("unknown randomness request")
	ErrPayoutFailed    = xerrors.New("payout failed")
	ErrIndexOutOfRange = xerrors.New("player index out of range")
	ErrRequestFailed   = xerrors.New("randomness request failed")
	ErrDepositFailed   = xerrors.New("deposit failed")
)
