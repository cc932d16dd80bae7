package utils

import (
	"crypto/sha256"
	"encoding/binary"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"golang.org/x/xerrors"
)

// EntryMessage is what a player signs to enter a round:
// H(public key || amount || round || nonce).
func EntryMessage(public kyber.Point, amount, round, nonce uint64) ([]byte, error) {
	return signedMessage(public, nil, amount, round, nonce)
}

func SignEntry(private kyber.Scalar, public kyber.Point, amount, round, nonce uint64) ([]byte, error) {
	msg, err := EntryMessage(public, amount, round, nonce)
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(cothority.Suite, private, msg)
}

func VerifyEntry(public kyber.Point, amount, round, nonce uint64, sig []byte) error {
	if public == nil {
		return xerrors.New("missing public key")
	}
	msg, err := EntryMessage(public, amount, round, nonce)
	if err != nil {
		return err
	}
	if err := schnorr.Verify(cothority.Suite, public, msg, sig); err != nil {
		return xerrors.Errorf("cannot verify entry signature: %v", err)
	}
	return nil
}

// FundMessage is what the minter signs to credit an account:
// H(minter key || account || amount || nonce).
func FundMessage(minter kyber.Point, account string, amount, nonce uint64) ([]byte, error) {
	return signedMessage(minter, []byte(account), amount, nonce)
}

func SignFund(private kyber.Scalar, minter kyber.Point, account string, amount, nonce uint64) ([]byte, error) {
	msg, err := FundMessage(minter, account, amount, nonce)
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(cothority.Suite, private, msg)
}

func VerifyFund(minter kyber.Point, account string, amount, nonce uint64, sig []byte) error {
	if minter == nil {
		return xerrors.New("no minter key")
	}
	msg, err := FundMessage(minter, account, amount, nonce)
	if err != nil {
		return err
	}
	if err := schnorr.Verify(cothority.Suite, minter, msg, sig); err != nil {
		return xerrors.Errorf("cannot verify fund signature: %v", err)
	}
	return nil
}

func signedMessage(public kyber.Point, data []byte, values ...uint64) ([]byte, error) {
	buf, err := public.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal point: %v", err)
	}
	h := sha256.New()
	h.Write(buf)
	h.Write(data)
	b := make([]byte, 8)
	for _, v := range values {
		binary.LittleEndian.PutUint64(b, v)
		h.Write(b)
	}
	return h.Sum(nil), nil
}
