// package cadata provides interfaces for Content Addressed Data Storage
//
// Built bytecode is stored by its content hash. The same hash is embedded by dependent contracts,
// so IDs are rendered as lower case hex, the form the rest of the toolchain expects.
package cadata

import (
	"bytes"
	"context"
	"crypto/subtle"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var _ driver.Value = ID{}

const IDSize = 32

// ID identifies a particular piece of data
type ID [IDSize]byte

func IDFromBytes(x []byte) ID {
	id := ID{}
	copy(id[:], x)
	return id
}

// ParseID parses a hex encoded ID, with or without a 0x prefix.
func ParseID(x string) (ID, error) {
	x = strings.TrimPrefix(x, "0x")
	if len(x) != IDSize*2 {
		return ID{}, fmt.Errorf("cadata: hex id has length %d, want %d", len(x), IDSize*2)
	}
	var id ID
	if _, err := hex.Decode(id[:], []byte(x)); err != nil {
		return ID{}, err
	}
	return id, nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (a ID) Equals(b ID) bool {
	return a.Compare(b) == 0
}

func (a ID) Compare(b ID) int {
	return bytes.Compare(a[:], b[:])
}

func (id ID) IsZero() bool {
	return id == (ID{})
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	x, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = x
	return nil
}

func (id *ID) Scan(x interface{}) error {
	switch x := x.(type) {
	case []byte:
		if len(x) != IDSize {
			return fmt.Errorf("wrong length for cadata.ID HAVE: %d WANT: %d", len(x), IDSize)
		}
		*id = IDFromBytes(x)
		return nil
	default:
		return fmt.Errorf("cannot scan type %T", x)
	}
}

func (id ID) Value() (driver.Value, error) {
	return id[:], nil
}

type HashFunc = func(salt *ID, x []byte) ID

type Poster interface {
	Post(ctx context.Context, salt *ID, data []byte) (ID, error)
}

type Getter interface {
	Get(ctx context.Context, k *ID, salt *ID, buf []byte) (int, error)
}

type Exister interface {
	Exists(ctx context.Context, k *ID) (bool, error)
}

type Deleter interface {
	Delete(ctx context.Context, k *ID) error
}

type PostExister interface {
	Poster
	Exister
}

type Store interface {
	Poster
	Getter
	Exister
	Deleter
}

var (
	ErrTooLarge = errors.New("data is too large for store")
)

type ErrNotFound struct {
	Key *ID
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no data found for %v in store", e.Key)
}

func IsErrNotFound(err error) bool {
	return errors.As(err, &ErrNotFound{})
}

type ErrBadData struct {
	Have ID
	Want ID
}

func (e ErrBadData) Error() string {
	return fmt.Sprintf("bad data. HAVE: %v WANT: %v", e.Have, e.Want)
}

func Check(hf HashFunc, expectedID *ID, salt *ID, data []byte) error {
	actualID := hf(salt, data)
	if subtle.ConstantTimeCompare(actualID[:], expectedID[:]) != 1 {
		return ErrBadData{Have: actualID, Want: *expectedID}
	}
	return nil
}
