// Copyright 2025 The tron-shkeeper Authors
// This file is part of tron-shkeeper.
//
// tron-shkeeper is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tron-shkeeper is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tron-shkeeper. If not, see <http://www.gnu.org/licenses/>.

package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"

	"github.com/vsys-host/tron-shkeeper/keeper"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// Private keys at rest are optionally encrypted with a passphrase held by
// the processor: PBKDF2-HMAC-SHA256 over a fixed salt derives a Fernet key,
// and the stored ciphertext is the base64 of the Fernet token. The recipe is
// shared with the processor side and must not change.
const (
	encryptionSalt = "Shkeeper4TheWin!"
	pbkdf2Rounds   = 500_000
)

// Encryption modes as reported by the processor.
const (
	ModeUnset    = ""
	ModeDisabled = "disabled"
	ModeEnabled  = "enabled"
)

var (
	// ErrEncryptionNotSet means no passphrase has been obtained yet; key
	// material cannot be read or written.
	ErrEncryptionNotSet = errors.New("wallet encryption is not set up")

	// ErrModeMismatch means the processor's encryption mode contradicts the
	// state of the key table. Startup aborts on it.
	ErrModeMismatch = errors.New("wallet encryption mode does not match database")

	// ErrBadPassphrase means the obtained passphrase does not decrypt the
	// stored keys.
	ErrBadPassphrase = errors.New("wallet passphrase does not decrypt the database")
)

// DeriveKey turns a passphrase into the Fernet key.
func DeriveKey(passphrase string) *fernet.Key {
	raw := pbkdf2.Key([]byte(passphrase), []byte(encryptionSalt), pbkdf2Rounds, 32, sha256.New)
	var key fernet.Key
	copy(key[:], raw)
	return &key
}

// Encryption guards the at-rest encoding of private keys. Until Setup
// resolves the mode, both Encrypt and Decrypt fail closed.
type Encryption struct {
	mu      sync.RWMutex
	mode    string
	key     *fernet.Key
	decrypt DecryptFunc
	log     log.Logger
}

// DecryptFunc polls the processor for a symbol's encryption settings.
type DecryptFunc func(ctx context.Context, symbol string) (*keeper.DecryptSettings, error)

// NewEncryption builds an unresolved encryption guard polling through
// decrypt.
func NewEncryption(decrypt DecryptFunc) *Encryption {
	return &Encryption{decrypt: decrypt, log: log.New("module", "wallet")}
}

// Mode returns the resolved mode, ModeUnset before Setup completes.
func (e *Encryption) Mode() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *Encryption) setEnabled(key *fernet.Key) {
	e.mu.Lock()
	e.mode, e.key = ModeEnabled, key
	e.mu.Unlock()
}

func (e *Encryption) setDisabled() {
	e.mu.Lock()
	e.mode, e.key = ModeDisabled, nil
	e.mu.Unlock()
}

// Encrypt encodes a plaintext private key for storage.
func (e *Encryption) Encrypt(plain string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.mode {
	case ModeDisabled:
		return plain, nil
	case ModeEnabled:
		tok, err := fernet.EncryptAndSign([]byte(plain), e.key)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(tok), nil
	default:
		return "", ErrEncryptionNotSet
	}
}

// Decrypt decodes a stored private key. The externally-managed sentinel
// passes through untouched in either mode.
func (e *Encryption) Decrypt(stored string) (string, error) {
	if stored == store.ExternallyManaged {
		return stored, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.mode {
	case ModeDisabled:
		return stored, nil
	case ModeEnabled:
		tok, err := base64.StdEncoding.DecodeString(stored)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadPassphrase, err)
		}
		msg := fernet.VerifyAndDecrypt(tok, 0, []*fernet.Key{e.key})
		if msg == nil {
			return "", ErrBadPassphrase
		}
		return string(msg), nil
	default:
		return "", ErrEncryptionNotSet
	}
}

// databaseIsPlaintext inspects the stored keys: if every private column
// parses as a key scalar (or the external sentinel), the table is
// unencrypted. An empty table counts as plaintext.
func databaseIsPlaintext(ctx context.Context, db *store.DB) (bool, error) {
	keys, err := db.AllKeys(ctx)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k.Private == store.ExternallyManaged {
			continue
		}
		if _, err := tron.ParsePrivateKey(k.Private); err != nil {
			return false, nil
		}
		return true, nil
	}
	return true, nil
}

// Setup resolves the encryption mode. It polls the processor (cycling the
// given symbols every 5s) until it answers, then reconciles the answer with
// the database:
//   - disabled vs plaintext database: done;
//   - enabled vs encrypted database: verify the passphrase on a stored key;
//   - enabled vs plaintext database: encrypt in place when force is set,
//     fail otherwise;
//   - disabled vs encrypted database: always a mismatch.
func (e *Encryption) Setup(ctx context.Context, db *store.DB, symbols []string, force bool) error {
	mode, passphrase, err := e.waitForSettings(ctx, symbols)
	if err != nil {
		return err
	}

	plaintext, err := databaseIsPlaintext(ctx, db)
	if err != nil {
		return err
	}

	switch mode {
	case ModeDisabled:
		if !plaintext {
			return fmt.Errorf("%w: mode disabled but stored keys are encrypted", ErrModeMismatch)
		}
		e.setDisabled()
		e.log.Info("Wallet encryption disabled")
		return nil

	case ModeEnabled:
		key := DeriveKey(passphrase)
		if plaintext {
			if !force {
				return fmt.Errorf("%w: mode enabled but stored keys are plaintext (set FORCE_WALLET_ENCRYPTION to migrate)", ErrModeMismatch)
			}
			e.setEnabled(key)
			if err := e.encryptDatabase(ctx, db); err != nil {
				return err
			}
			e.log.Info("Wallet encryption enabled, database migrated")
			return nil
		}
		e.setEnabled(key)
		if err := e.verify(ctx, db); err != nil {
			e.mu.Lock()
			e.mode, e.key = ModeUnset, nil
			e.mu.Unlock()
			return err
		}
		e.log.Info("Wallet encryption enabled")
		return nil

	default:
		return fmt.Errorf("unknown encryption mode %q", mode)
	}
}

// waitForSettings polls the processor until one symbol answers with a
// settled persistent status. A pending status, or an enabled one whose
// passphrase is not ready yet, keeps the poll going.
func (e *Encryption) waitForSettings(ctx context.Context, symbols []string) (mode, passphrase string, err error) {
	for {
		for _, symbol := range symbols {
			settings, err := e.decrypt(ctx, symbol)
			if err != nil {
				e.log.Warn("Cannot fetch encryption settings", "symbol", symbol, "err", err)
				continue
			}
			switch settings.PersistentStatus {
			case keeper.EncryptionDisabled:
				return ModeDisabled, "", nil
			case keeper.EncryptionEnabled:
				if settings.RuntimeStatus == keeper.RuntimeReady {
					return ModeEnabled, settings.Key, nil
				}
				e.log.Info("Waiting for wallet encryption key", "symbol", symbol)
			case keeper.EncryptionPending:
				e.log.Info("Waiting for wallet encryption setting", "symbol", symbol)
			default:
				e.log.Warn("Unknown encryption status", "symbol", symbol, "status", settings.PersistentStatus)
			}
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// verify decrypts one stored key and checks it parses.
func (e *Encryption) verify(ctx context.Context, db *store.DB) error {
	keys, err := db.AllKeys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Private == store.ExternallyManaged {
			continue
		}
		plain, err := e.Decrypt(k.Private)
		if err != nil {
			return err
		}
		if _, err := tron.ParsePrivateKey(plain); err != nil {
			return fmt.Errorf("%w: decrypted key does not parse", ErrBadPassphrase)
		}
		return nil
	}
	return nil
}

// encryptDatabase rewrites every plaintext private key as ciphertext.
func (e *Encryption) encryptDatabase(ctx context.Context, db *store.DB) error {
	keys, err := db.AllKeys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Private == store.ExternallyManaged {
			continue
		}
		cipher, err := e.Encrypt(k.Private)
		if err != nil {
			return err
		}
		if err := db.UpdatePrivate(ctx, k.ID, cipher); err != nil {
			return err
		}
	}
	return nil
}
