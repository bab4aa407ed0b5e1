package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/buntdb"

	"github.com/mrlauy/ghome-bridge/device"
)

// BuntPersister keeps device state in a buntdb file, the same embedded store the token store uses.
type BuntPersister struct {
	db *buntdb.DB
}

// OpenBunt opens or creates the database file. ":memory:" keeps everything in memory.
func OpenBunt(path string) (*BuntPersister, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb %s: %w", path, err)
	}
	return &BuntPersister{db: db}, nil
}

func (b *BuntPersister) Load(_ context.Context, id string) (device.State, bool, error) {
	var value string
	err := b.db.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(key(id))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	state, err := decode(id, []byte(value))
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (b *BuntPersister) Save(_ context.Context, id string, state device.State) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(id), string(data), nil)
		return err
	})
}

func (b *BuntPersister) Close() error {
	return b.db.Close()
}
