// Package bank is a small account ledger stored in a bbolt bucket. It holds
// the balances that players pay entry fees from and that winners are paid
// into.
package bank

import (
	"sync"

	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	ErrInsufficientFunds = xerrors.New("insufficient funds")
	ErrFrozen            = xerrors.New("account is frozen")
	ErrOverflow          = xerrors.New("balance overflow")
	ErrNoAccount         = xerrors.New("missing account name")
	ErrNonce             = xerrors.New("wrong nonce")
)

// Account is the stored record of one account.
type Account struct {
	Balance uint64
	Frozen  bool
	// Nonce is the last nonce the owner of the account signed with.
	Nonce uint64
}

// Bank gives access to the accounts kept in one bucket of the database.
type Bank struct {
	sync.Mutex
	db     *bbolt.DB
	bucket []byte
}

// New returns a bank over bucket, creating the bucket if it does not exist.
func New(db *bbolt.DB, bucket []byte) (*Bank, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating bucket: %v", err)
	}
	return &Bank{db: db, bucket: bucket}, nil
}

// Balance returns the balance of name, zero for unknown accounts.
func (b *Bank) Balance(name string) (uint64, error) {
	var acc *Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		acc, err = getAccount(tx.Bucket(b.bucket), name)
		return err
	})
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Account returns the full record of name.
func (b *Bank) Account(name string) (*Account, error) {
	var acc *Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		acc, err = getAccount(tx.Bucket(b.bucket), name)
		return err
	})
	return acc, err
}

// Mint credits amount to name out of thin air.
func (b *Bank) Mint(name string, amount uint64) error {
	if len(name) == 0 {
		return ErrNoAccount
	}
	b.Lock()
	defer b.Unlock()
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		acc, err := getAccount(bkt, name)
		if err != nil {
			return err
		}
		if acc.Balance+amount < acc.Balance {
			return ErrOverflow
		}
		acc.Balance += amount
		return putAccount(bkt, name, acc)
	})
}

// Transfer moves amount from one account to another in a single
// transaction. A frozen account can neither send nor receive.
func (b *Bank) Transfer(from, to string, amount uint64) error {
	if len(from) == 0 || len(to) == 0 {
		return ErrNoAccount
	}
	b.Lock()
	defer b.Unlock()
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		src, err := getAccount(bkt, from)
		if err != nil {
			return err
		}
		if src.Frozen {
			return xerrors.Errorf("%s: %w", from, ErrFrozen)
		}
		if from == to {
			if src.Balance < amount {
				return ErrInsufficientFunds
			}
			return nil
		}
		dst, err := getAccount(bkt, to)
		if err != nil {
			return err
		}
		if dst.Frozen {
			return xerrors.Errorf("%s: %w", to, ErrFrozen)
		}
		if src.Balance < amount {
			return xerrors.Errorf("%s has %d, needs %d: %w", from,
				src.Balance, amount, ErrInsufficientFunds)
		}
		if dst.Balance+amount < dst.Balance {
			return ErrOverflow
		}
		src.Balance -= amount
		dst.Balance += amount
		if err := putAccount(bkt, from, src); err != nil {
			return err
		}
		return putAccount(bkt, to, dst)
	})
	if err != nil {
		return err
	}
	log.Lvlf3("transferred %d from %s to %s", amount, from, to)
	return nil
}

// Freeze sets or clears the frozen flag of an account.
func (b *Bank) Freeze(name string, frozen bool) error {
	if len(name) == 0 {
		return ErrNoAccount
	}
	b.Lock()
	defer b.Unlock()
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		acc, err := getAccount(bkt, name)
		if err != nil {
			return err
		}
		acc.Frozen = frozen
		return putAccount(bkt, name, acc)
	})
}

// UseNonce consumes nonce for name. Only the nonce following the stored one
// is accepted, so a signed request goes through at most once.
func (b *Bank) UseNonce(name string, nonce uint64) error {
	if len(name) == 0 {
		return ErrNoAccount
	}
	b.Lock()
	defer b.Unlock()
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		acc, err := getAccount(bkt, name)
		if err != nil {
			return err
		}
		if nonce != acc.Nonce+1 {
			return xerrors.Errorf("%s: got %d, expected %d: %w", name, nonce,
				acc.Nonce+1, ErrNonce)
		}
		acc.Nonce = nonce
		return putAccount(bkt, name, acc)
	})
}

func getAccount(bkt *bbolt.Bucket, name string) (*Account, error) {
	if bkt == nil {
		return nil, xerrors.New("missing bucket")
	}
	acc := &Account{}
	buf := bkt.Get([]byte(name))
	if buf == nil {
		return acc, nil
	}
	if err := protobuf.Decode(buf, acc); err != nil {
		return nil, xerrors.Errorf("decoding account %s: %v", name, err)
	}
	return acc, nil
}

func putAccount(bkt *bbolt.Bucket, name string, acc *Account) error {
	buf, err := protobuf.Encode(acc)
	if err != nil {
		return xerrors.Errorf("encoding account %s: %v", name, err)
	}
	return bkt.Put([]byte(name), buf)
}
