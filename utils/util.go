package utils

import (
	"bufio"
	"os"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func ReadRoster(path string) (*onet.Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	defer file.Close()

	group, err := app.ReadGroupDescToml(file)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}

	if group.Roster == nil || len(group.Roster.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	return group.Roster, nil
}

// WriteKeyPair stores the private and the public key, hex-encoded, one per
// line.
func WriteKeyPair(path string, kp *key.Pair) error {
	priv, err := encoding.ScalarToStringHex(cothority.Suite, kp.Private)
	if err != nil {
		return err
	}
	pub, err := encoding.PointToStringHex(cothority.Suite, kp.Public)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(priv+"\n"+pub+"\n"), 0600)
}

func ReadKeyPair(path string) (*key.Pair, error) {
	fh, err := os.Open(path)
	if err != nil {
		log.Errorf("ReadKeyPair error: %v", err)
		return nil, err
	}
	defer fh.Close()

	var lines []string
	fs := bufio.NewScanner(fh)
	for fs.Scan() {
		lines = append(lines, fs.Text())
	}
	if err := fs.Err(); err != nil {
		return nil, err
	}
	if len(lines) < 2 {
		return nil, xerrors.Errorf("%s: expected a private and a public key", path)
	}
	priv, err := encoding.StringHexToScalar(cothority.Suite, lines[0])
	if err != nil {
		return nil, err
	}
	pub, err := encoding.StringHexToPoint(cothority.Suite, lines[1])
	if err != nil {
		return nil, err
	}
	return &key.Pair{Private: priv, Public: pub}, nil
}

// ParsePublic decodes a hex-encoded Ed25519 public key.
func ParsePublic(s string) (kyber.Point, error) {
	return encoding.StringHexToPoint(cothority.Suite, s)
}
