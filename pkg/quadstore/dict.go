package quadstore

import (
	"github.com/relique/qdb/pkg/dict"
	"github.com/relique/qdb/pkg/storage"
)

// txnDict adapts a storage.Transaction's id2str table to dict.Store, so
// pkg/enc's Encoder/Decoder can resolve references within one transaction.
type txnDict struct {
	txn storage.Transaction
}

func (d *txnDict) Lookup(hash dict.Hash) (string, bool, error) {
	v, err := d.txn.Get(storage.TableID2Str, hash[:])
	if err != nil {
		if err == storage.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return string(v), true, nil
}

func (d *txnDict) Insert(hash dict.Hash, value string) error {
	existing, err := d.txn.Get(storage.TableID2Str, hash[:])
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err == nil {
		if verr := dict.VerifyNoCollision(string(existing), value, hash); verr != nil {
			return verr
		}
		return nil
	}
	return d.txn.Set(storage.TableID2Str, hash[:], []byte(value))
}
