// package sqlstores persists built artifacts in a SQLite database.
package sqlstores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"zkc.dev/zkc/internal/cadata"
)

// Open opens the database at p, creating the schema if needed.
// p may be ":memory:".
func Open(ctx context.Context, p string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// each connection would get its own database
		db.SetMaxOpenConns(1)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE blobs (
		id BLOB NOT NULL,
		salt BLOB,
		data BLOB NOT NULL,

		PRIMARY KEY(id)
	) WITHOUT ROWID, STRICT;`,
	`CREATE TABLE artifacts (
		fingerprint BLOB NOT NULL,
		blob_id BLOB NOT NULL,
		meta BLOB NOT NULL,
		FOREIGN KEY(blob_id) REFERENCES blobs(id),
		PRIMARY KEY(fingerprint)
	) WITHOUT ROWID, STRICT;`,
}

// Migrate applies every statement past the database's user_version.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return DoTx(ctx, db, func(tx *sqlx.Tx) error {
		var version int
		if err := tx.Get(&version, `PRAGMA user_version`); err != nil {
			return err
		}
		for i := version; i < len(migrations); i++ {
			if _, err := tx.Exec(migrations[i]); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}
		}
		_, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, len(migrations)))
		return err
	})
}

func DoTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

var _ cadata.Store = &Store{}

// Store is a cadata.Store backed by the blobs table.
type Store struct {
	db      *sqlx.DB
	hf      cadata.HashFunc
	maxSize int
}

func NewStore(db *sqlx.DB, hf cadata.HashFunc, maxSize int) *Store {
	return &Store{db: db, hf: hf, maxSize: maxSize}
}

func (s *Store) Post(ctx context.Context, salt *cadata.ID, data []byte) (cadata.ID, error) {
	if len(data) > s.MaxSize() {
		return cadata.ID{}, cadata.ErrTooLarge
	}
	id := s.hf(salt, data)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO blobs (id, salt, data)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, id[:], saltBytes(salt), data); err != nil {
		return cadata.ID{}, err
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id *cadata.ID, salt *cadata.ID, buf []byte) (int, error) {
	var data []byte
	if err := s.db.GetContext(ctx, &data, `SELECT data FROM blobs WHERE id = ?`, id[:]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = cadata.ErrNotFound{Key: id}
		}
		return 0, err
	}
	if len(data) > len(buf) {
		return 0, io.ErrShortBuffer
	}
	return copy(buf, data), nil
}

func (s *Store) Exists(ctx context.Context, id *cadata.ID) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(
		SELECT 1 FROM blobs WHERE id = ?
	)`, id[:]); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) Delete(ctx context.Context, id *cadata.ID) error {
	return DoTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`DELETE FROM artifacts WHERE blob_id = ?`, id[:]); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM blobs WHERE id = ?`, id[:])
		return err
	})
}

func (s *Store) MaxSize() int {
	return s.maxSize
}

// PutArtifact records that the module with the given fingerprint was built into blob,
// along with opaque metadata.
func (s *Store) PutArtifact(ctx context.Context, fingerprint, blob cadata.ID, meta []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO artifacts (fingerprint, blob_id, meta)
		VALUES (?, ?, ?) ON CONFLICT (fingerprint) DO UPDATE SET blob_id = excluded.blob_id, meta = excluded.meta`,
		fingerprint[:], blob[:], meta)
	return err
}

// GetArtifact returns the blob and metadata recorded for fingerprint.
// It returns cadata.ErrNotFound if nothing was recorded.
func (s *Store) GetArtifact(ctx context.Context, fingerprint cadata.ID) (blob cadata.ID, meta []byte, _ error) {
	var row struct {
		BlobID []byte `db:"blob_id"`
		Meta   []byte `db:"meta"`
	}
	if err := s.db.GetContext(ctx, &row, `SELECT blob_id, meta FROM artifacts WHERE fingerprint = ?`, fingerprint[:]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = cadata.ErrNotFound{Key: &fingerprint}
		}
		return cadata.ID{}, nil, err
	}
	return cadata.IDFromBytes(row.BlobID), row.Meta, nil
}

func saltBytes(x *cadata.ID) []byte {
	if x == nil {
		return nil
	}
	return x[:]
}
